// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	// The ledger engine maps it to the operation-specific error kind.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when a uniqueness constraint would be
	// violated (one account per user, one holding per user+instrument).
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Every compound ledger operation
// runs its mutations inside Atomic so no operation is observable as
// partially applied.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new brokerage account (one per user).
	CreateAccount(ctx context.Context, a *model.Account) error

	// GetAccount retrieves an account by owning user.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// UpdateAccountBalance replaces an account's balance.
	UpdateAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// SetPayoutDestination registers the external payout destination.
	SetPayoutDestination(ctx context.Context, userID, destination string) error

	// --- Instruments ---

	CreateInstrument(ctx context.Context, ins *model.Instrument) error
	GetInstrument(ctx context.Context, id string) (*model.Instrument, error)
	ListInstruments(ctx context.Context) ([]model.Instrument, error)

	// UpdateInstrumentUnits updates the available/sold split after a
	// primary-market fill.
	UpdateInstrumentUnits(ctx context.Context, id string, available, sold int64) error

	// DeleteInstrument retires an instrument after liquidation.
	DeleteInstrument(ctx context.Context, id string) error

	// --- Holdings ---

	GetHolding(ctx context.Context, userID, instrumentID string) (*model.Holding, error)
	ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error)
	ListHoldingsByInstrument(ctx context.Context, instrumentID string) ([]model.Holding, error)

	// UpsertHolding creates or replaces the (user, instrument) holding.
	UpsertHolding(ctx context.Context, h *model.Holding) error

	// DeleteHolding removes a holding once its quantity reaches zero.
	DeleteHolding(ctx context.Context, userID, instrumentID string) error

	// --- Sell orders ---

	CreateSellOrder(ctx context.Context, o *model.SellOrder) error
	GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error)
	ListOpenSellOrders(ctx context.Context) ([]model.SellOrder, error)
	ListSellOrdersByUser(ctx context.Context, userID string) ([]model.SellOrder, error)
	UpdateSellOrder(ctx context.Context, o *model.SellOrder) error

	// --- Immutable transaction ledger ---

	// InsertTransaction appends an immutable audit record.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// ListTransactionsByUser returns a user's audit trail, newest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Projects ---

	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error

	// --- Transaction boundary ---

	// Atomic executes fn against a transactional view of the store.
	// If fn returns an error none of its writes are applied; otherwise
	// all of them are. Calls on the view are not safe for use outside fn.
	Atomic(ctx context.Context, fn func(Store) error) error
}
