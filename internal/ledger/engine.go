// Package ledger implements the operation orchestrator at the heart of the
// marketplace: every money- or unit-moving operation (buy, sell, donate,
// fund, liquidate, transfer, withdraw) validates its preconditions, applies
// all mutations atomically through the store, and appends immutable
// transaction records.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/commission"
	"github.com/fondiart/ledger-engine/internal/metrics"
	"github.com/fondiart/ledger-engine/internal/model"
	"github.com/fondiart/ledger-engine/internal/store"
	"github.com/fondiart/ledger-engine/internal/token"
)

// Engine orchestrates compound ledger operations. The platform account is
// injected at construction — operations never look it up at runtime. A
// mutex serializes compound execution (single-instance); for horizontal
// scaling, replace with database-level locking.
type Engine struct {
	store      store.Store
	rates      commission.Rates
	platformID string
	minter     token.Service
	hub        *WSHub // optional WebSocket hub for operation broadcasts
	opTimeout  time.Duration
	mu         sync.Mutex
	now        func() time.Time
}

// NewEngine creates an Engine. platformID is the user id of the platform's
// own brokerage account, which collects commissions and settles primary
// sales and liquidations. Pass nil for minter/hub to disable tokenization
// (TokenizeArtwork then errors, transfer mirroring is skipped) and
// WebSocket broadcasts.
func NewEngine(st store.Store, rates commission.Rates, platformID string, minter token.Service, hub *WSHub) *Engine {
	return &Engine{
		store:      st,
		rates:      rates,
		platformID: platformID,
		minter:     minter,
		hub:        hub,
		opTimeout:  5 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetOperationTimeout overrides the default 5s per-operation deadline.
func (e *Engine) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		e.opTimeout = d
	}
}

// atomic wraps one compound operation: bounded deadline, serialized
// execution, all-or-nothing application through the store.
func (e *Engine) atomic(ctx context.Context, fn func(ctx context.Context, s store.Store) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()

	return mapStorageErr(e.store.Atomic(ctx, func(s store.Store) error {
		return fn(ctx, s)
	}))
}

// mapStorageErr surfaces deadline failures as the retryable kind while
// leaving business errors untouched.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return err
}

// --- Account store primitives (only ever called inside atomic) ---

func getAccount(ctx context.Context, s store.Store, userID string) (*model.Account, error) {
	a, err := s.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrAccountNotFound, userID)
	}
	return a, err
}

func credit(ctx context.Context, s store.Store, a *model.Account, amount decimal.Decimal) error {
	a.Balance = a.Balance.Add(amount)
	return s.UpdateAccountBalance(ctx, a.UserID, a.Balance)
}

func debit(ctx context.Context, s store.Store, a *model.Account, amount decimal.Decimal) error {
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s < %s", ErrInsufficientFunds, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	return s.UpdateAccountBalance(ctx, a.UserID, a.Balance)
}

// --- Holding store primitives ---

func acquireHolding(ctx context.Context, s store.Store, userID, instrumentID string, qty int64, unitPrice decimal.Decimal) (*model.Holding, error) {
	h, err := s.GetHolding(ctx, userID, instrumentID)
	if errors.Is(err, store.ErrNotFound) {
		h = &model.Holding{UserID: userID, InstrumentID: instrumentID, AvgPurchasePrice: decimal.Zero}
	} else if err != nil {
		return nil, err
	}

	h.AvgPurchasePrice = commission.WeightedAverage(h.AvgPurchasePrice, h.Quantity, unitPrice, qty)
	h.Quantity += qty
	if err := s.UpsertHolding(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func releaseHolding(ctx context.Context, s store.Store, userID, instrumentID string, qty int64) error {
	h, err := s.GetHolding(ctx, userID, instrumentID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no holding in %s", ErrInsufficientHoldings, instrumentID)
	}
	if err != nil {
		return err
	}
	if h.Quantity < qty {
		return fmt.Errorf("%w: held %d < %d", ErrInsufficientHoldings, h.Quantity, qty)
	}

	h.Quantity -= qty
	if h.Quantity == 0 {
		return s.DeleteHolding(ctx, userID, instrumentID)
	}
	return s.UpsertHolding(ctx, h)
}

// record appends one completed transaction row. Pure append, no business
// logic — the final step of every operation before commit.
func (e *Engine) record(ctx context.Context, s store.Store, userID string, kind model.TransactionKind, instrumentID string, qty int64, amount decimal.Decimal, counterparty string) error {
	return s.InsertTransaction(ctx, &model.Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		InstrumentID:   instrumentID,
		UnitQuantity:   qty,
		Amount:         amount,
		Status:         model.StatusCompleted,
		CounterpartyID: counterparty,
		Timestamp:      e.now(),
	})
}

// observe finishes an operation: metrics, logging, WebSocket broadcast.
func (e *Engine) observe(op string, start time.Time, err error, fields ...any) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OperationFailures.WithLabelValues(op).Inc()
		slog.Warn(op+" rejected", append(fields, "err", err)...)
		return
	}
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	slog.Info(op+" completed", fields...)
}

func (e *Engine) broadcast(op string, fields EventFields) {
	if e.hub != nil {
		e.hub.Broadcast(Event{Type: op, EventFields: fields})
	}
}

// --- Operations ---

// CreateAccount opens a brokerage account for a user. Account creation is
// explicit: the registration flow calls it, nothing happens on a hidden
// listener.
func (e *Engine) CreateAccount(ctx context.Context, userID, payoutDestination string) (*model.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}

	a := &model.Account{
		UserID:            userID,
		Balance:           decimal.Zero,
		PayoutDestination: payoutDestination,
		CreatedAt:         e.now(),
	}
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		return s.CreateAccount(ctx, a)
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: user %s", ErrAccountExists, userID)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("account created", "user", userID)
	return a, nil
}

// SetPayoutDestination registers or replaces the external destination used by
// WithdrawToExternal.
func (e *Engine) SetPayoutDestination(ctx context.Context, userID, destination string) (*model.Account, error) {
	if destination == "" {
		return nil, fmt.Errorf("%w: destination required", ErrInvalidInput)
	}

	var account *model.Account
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		a, err := getAccount(ctx, s, userID)
		if err != nil {
			return err
		}
		if err := s.SetPayoutDestination(ctx, userID, destination); err != nil {
			return err
		}
		a.PayoutDestination = destination
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Deposit credits a user's account from an external settlement rail.
func (e *Engine) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidInput)
	}

	start := e.now()
	var account *model.Account
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		a, err := getAccount(ctx, s, userID)
		if err != nil {
			return err
		}
		if err := credit(ctx, s, a, amount); err != nil {
			return err
		}
		account = a
		return e.record(ctx, s, userID, model.KindDeposit, "", 0, amount, "")
	})
	e.observe("deposit", start, err, "user", userID, "amount", amount.String())
	if err != nil {
		return nil, err
	}
	return account, nil
}

// WithdrawToExternal debits a user's account for payout to their registered
// destination. The external payout itself is out of scope; the ledger only
// records the debit.
func (e *Engine) WithdrawToExternal(ctx context.Context, userID string, amount decimal.Decimal) (*model.Account, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidInput)
	}

	start := e.now()
	var account *model.Account
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		a, err := getAccount(ctx, s, userID)
		if err != nil {
			return err
		}
		if a.PayoutDestination == "" {
			return ErrNoPayoutDestination
		}
		if err := debit(ctx, s, a, amount); err != nil {
			return err
		}
		account = a
		return e.record(ctx, s, userID, model.KindWithdraw, "", 0, amount, "")
	})
	e.observe("withdraw", start, err, "user", userID, "amount", amount.String())
	if err != nil {
		return nil, err
	}
	return account, nil
}

// TransferToAdmin moves funds from a user to the platform account, with
// paired audit records linked by counterparty.
func (e *Engine) TransferToAdmin(ctx context.Context, userID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: transfer amount must be positive", ErrInvalidInput)
	}

	start := e.now()
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		user, err := getAccount(ctx, s, userID)
		if err != nil {
			return err
		}
		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		if err := debit(ctx, s, user, amount); err != nil {
			return err
		}
		if err := credit(ctx, s, platform, amount); err != nil {
			return err
		}

		if err := e.record(ctx, s, userID, model.KindWithdraw, "", 0, amount, e.platformID); err != nil {
			return err
		}
		return e.record(ctx, s, e.platformID, model.KindDeposit, "", 0, amount, userID)
	})
	e.observe("transfer_to_admin", start, err, "user", userID, "amount", amount.String())
	return err
}

// TokenizeArtwork mints a new unit pool through the tokenization service and
// registers the resulting instrument. The primary-market price per unit is
// fixed at tokenization time.
func (e *Engine) TokenizeArtwork(ctx context.Context, artworkID, artistID string, totalUnits int64, unitPrice decimal.Decimal) (*model.Instrument, error) {
	if totalUnits <= 0 || unitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: units and unit price must be positive", ErrInvalidInput)
	}
	if e.minter == nil {
		return nil, errors.New("ledger: no tokenization service configured")
	}

	ref, err := e.minter.Mint(ctx, token.MintSpec{
		ArtworkID:  artworkID,
		ArtistID:   artistID,
		TotalUnits: totalUnits,
	})
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", artworkID, err)
	}

	ins := &model.Instrument{
		ID:             uuid.NewString(),
		ArtworkID:      artworkID,
		ArtistID:       artistID,
		ContractAddr:   ref.ContractAddr,
		UnitPrice:      unitPrice,
		TotalUnits:     totalUnits,
		UnitsAvailable: totalUnits,
		UnitsSold:      0,
		CreatedAt:      e.now(),
	}
	err = e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		return s.CreateInstrument(ctx, ins)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("artwork tokenized",
		"instrument", ins.ID,
		"artwork", artworkID,
		"units", totalUnits,
		"contract", ref.ContractAddr,
	)
	return ins, nil
}

// BuyPrimary purchases units from the instrument's unsold pool. The buyer
// pays principal plus buyer commission; the platform, as primary seller,
// is credited the full amount.
func (e *Engine) BuyPrimary(ctx context.Context, buyerID, instrumentID string, qty int64) (*model.Holding, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	start := e.now()
	var holding *model.Holding
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		ins, err := s.GetInstrument(ctx, instrumentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInstrumentNotFound
		}
		if err != nil {
			return err
		}
		if ins.UnitsAvailable < qty {
			return fmt.Errorf("%w: available %d < %d", ErrInsufficientUnits, ins.UnitsAvailable, qty)
		}

		buyer, err := getAccount(ctx, s, buyerID)
		if err != nil {
			return err
		}
		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		principal := ins.UnitPrice.Mul(decimal.NewFromInt(qty))
		gross, _ := commission.WithFee(principal, e.rates.Buyer)

		if err := debit(ctx, s, buyer, gross); err != nil {
			return err
		}
		if err := credit(ctx, s, platform, gross); err != nil {
			return err
		}

		if err := s.UpdateInstrumentUnits(ctx, instrumentID, ins.UnitsAvailable-qty, ins.UnitsSold+qty); err != nil {
			return err
		}

		holding, err = acquireHolding(ctx, s, buyerID, instrumentID, qty, ins.UnitPrice)
		if err != nil {
			return err
		}
		return e.record(ctx, s, buyerID, model.KindBuy, instrumentID, qty, gross, e.platformID)
	})
	e.observe("buy_primary", start, err, "buyer", buyerID, "instrument", instrumentID, "qty", qty)
	if err != nil {
		return nil, err
	}

	e.broadcast("buy_primary", EventFields{InstrumentID: instrumentID, UserID: buyerID, Quantity: qty})
	e.mirrorTransfer(instrumentID, buyerID, qty)
	return holding, nil
}

// OpenSellOrder lists held units on the secondary market. The units stay in
// the seller's holding until a fill; the holding check prevents listing more
// than is owned.
func (e *Engine) OpenSellOrder(ctx context.Context, userID, instrumentID string, qty int64, unitPrice decimal.Decimal) (*model.SellOrder, error) {
	if qty <= 0 || unitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: quantity and price must be positive", ErrInvalidInput)
	}

	start := e.now()
	order := &model.SellOrder{
		ID:           uuid.NewString(),
		InstrumentID: instrumentID,
		UserID:       userID,
		Quantity:     qty,
		UnitPrice:    unitPrice,
		Status:       model.OrderOpen,
		CreatedAt:    e.now(),
	}
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		h, err := s.GetHolding(ctx, userID, instrumentID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no holding in %s", ErrInsufficientHoldings, instrumentID)
		}
		if err != nil {
			return err
		}

		// Units already committed to other open orders count against
		// the holding.
		listed := int64(0)
		orders, err := s.ListSellOrdersByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.InstrumentID == instrumentID && o.Status == model.OrderOpen {
				listed += o.Quantity
			}
		}
		if h.Quantity < listed+qty {
			return fmt.Errorf("%w: held %d, listed %d, requested %d", ErrInsufficientHoldings, h.Quantity, listed, qty)
		}

		return s.CreateSellOrder(ctx, order)
	})
	e.observe("open_sell_order", start, err, "user", userID, "instrument", instrumentID, "qty", qty)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelSellOrder cancels an open order. Only the owning user may cancel.
func (e *Engine) CancelSellOrder(ctx context.Context, userID, orderID string) (*model.SellOrder, error) {
	var order *model.SellOrder
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		o, err := s.GetSellOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotOpen
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return ErrNotOrderOwner
		}
		if o.Status != model.OrderOpen {
			return ErrOrderNotOpen
		}

		o.Status = model.OrderCanceled
		if err := s.UpdateSellOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("sell order canceled", "order", orderID, "user", userID)
	return order, nil
}

// BuyFromSellOrder fills (part of) an open sell order. The buyer pays
// principal plus buyer commission, the seller receives principal minus
// seller commission, and the platform collects both commissions.
func (e *Engine) BuyFromSellOrder(ctx context.Context, buyerID, orderID string, qty int64) (*model.Holding, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	start := e.now()
	var holding *model.Holding
	var instrumentID string
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		order, err := s.GetSellOrder(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrOrderNotOpen
		}
		if err != nil {
			return err
		}
		if order.Status != model.OrderOpen {
			return ErrOrderNotOpen
		}
		if order.Quantity < qty {
			return fmt.Errorf("%w: order has %d remaining", ErrInsufficientUnits, order.Quantity)
		}
		if order.UserID == buyerID {
			return ErrSelfTrade
		}
		instrumentID = order.InstrumentID

		buyer, err := getAccount(ctx, s, buyerID)
		if err != nil {
			return err
		}
		seller, err := getAccount(ctx, s, order.UserID)
		if err != nil {
			return err
		}
		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		principal := order.UnitPrice.Mul(decimal.NewFromInt(qty))
		buyerGross, buyerFee := commission.WithFee(principal, e.rates.Buyer)
		sellerNet, sellerFee := commission.LessFee(principal, e.rates.Seller)

		if err := debit(ctx, s, buyer, buyerGross); err != nil {
			return err
		}
		if err := credit(ctx, s, seller, sellerNet); err != nil {
			return err
		}
		if err := credit(ctx, s, platform, buyerFee.Add(sellerFee)); err != nil {
			return err
		}

		if err := releaseHolding(ctx, s, order.UserID, order.InstrumentID, qty); err != nil {
			return err
		}
		holding, err = acquireHolding(ctx, s, buyerID, order.InstrumentID, qty, order.UnitPrice)
		if err != nil {
			return err
		}

		order.Quantity -= qty
		if order.Quantity == 0 {
			order.Status = model.OrderClosed
		}
		if err := s.UpdateSellOrder(ctx, order); err != nil {
			return err
		}

		if err := e.record(ctx, s, buyerID, model.KindBuy, order.InstrumentID, qty, buyerGross, order.UserID); err != nil {
			return err
		}
		return e.record(ctx, s, order.UserID, model.KindSell, order.InstrumentID, qty, sellerNet, buyerID)
	})
	e.observe("buy_from_order", start, err, "buyer", buyerID, "order", orderID, "qty", qty)
	if err != nil {
		return nil, err
	}

	e.broadcast("trade", EventFields{InstrumentID: instrumentID, UserID: buyerID, Quantity: qty})
	e.mirrorTransfer(instrumentID, buyerID, qty)
	return holding, nil
}

// Donate transfers money from a donor to an artist. The donor pays the
// amount plus commission, the artist receives the full amount, the platform
// keeps the commission. Two linked audit rows are written.
func (e *Engine) Donate(ctx context.Context, donorID, artistID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: donation amount must be positive", ErrInvalidInput)
	}
	if donorID == artistID {
		return ErrSelfDonation
	}

	start := e.now()
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		donor, err := getAccount(ctx, s, donorID)
		if err != nil {
			return err
		}
		artist, err := getAccount(ctx, s, artistID)
		if err != nil {
			return err
		}
		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		gross, fee := commission.WithFee(amount, e.rates.Buyer)

		if err := debit(ctx, s, donor, gross); err != nil {
			return err
		}
		if err := credit(ctx, s, artist, amount); err != nil {
			return err
		}
		if err := credit(ctx, s, platform, fee); err != nil {
			return err
		}

		if err := e.record(ctx, s, donorID, model.KindDonationSent, "", 0, gross, artistID); err != nil {
			return err
		}
		return e.record(ctx, s, artistID, model.KindDonationReceived, "", 0, amount, donorID)
	})
	e.observe("donate", start, err, "donor", donorID, "artist", artistID, "amount", amount.String())
	return err
}

// CreateProject registers a crowdfunding campaign for an artist.
func (e *Engine) CreateProject(ctx context.Context, ownerID, title string, fundingGoal decimal.Decimal) (*model.Project, error) {
	if fundingGoal.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: funding goal must be positive", ErrInvalidInput)
	}

	p := &model.Project{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Title:        title,
		FundingGoal:  fundingGoal,
		AmountRaised: decimal.Zero,
		CreatedAt:    e.now(),
	}
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		if _, err := getAccount(ctx, s, ownerID); err != nil {
			return err
		}
		return s.CreateProject(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("project created", "project", p.ID, "owner", ownerID, "goal", fundingGoal.String())
	return p, nil
}

// FundProject contributes to a project. The funder pays the amount plus
// commission; the platform escrows the principal and keeps the fee. When
// the cumulative raise reaches the goal, disbursement to the owner happens
// in the same atomic unit — an explicit call, not a save-time side effect.
func (e *Engine) FundProject(ctx context.Context, funderID, projectID string, amount decimal.Decimal) (*model.Project, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: funding amount must be positive", ErrInvalidInput)
	}

	start := e.now()
	var project *model.Project
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		p, err := s.GetProject(ctx, projectID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}

		funder, err := getAccount(ctx, s, funderID)
		if err != nil {
			return err
		}
		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		gross, _ := commission.WithFee(amount, e.rates.Buyer)

		if err := debit(ctx, s, funder, gross); err != nil {
			return err
		}
		// Platform escrows the principal until disbursement and keeps
		// the commission.
		if err := credit(ctx, s, platform, gross); err != nil {
			return err
		}

		p.AmountRaised = p.AmountRaised.Add(amount)
		if err := s.UpdateProject(ctx, p); err != nil {
			return err
		}

		if err := e.record(ctx, s, funderID, model.KindProjectFunding, "", 0, gross, p.OwnerID); err != nil {
			return err
		}

		if p.AmountRaised.GreaterThanOrEqual(p.FundingGoal) && !p.FundsDisbursed {
			if err := e.disburse(ctx, s, p); err != nil {
				return err
			}
		}
		project = p
		return nil
	})
	e.observe("fund_project", start, err, "funder", funderID, "project", projectID, "amount", amount.String())
	if err != nil {
		return nil, err
	}
	return project, nil
}

// Disburse pays out a project's raised funds to its owner. Idempotent per
// project: a second call fails with ErrAlreadyDisbursed and writes nothing.
func (e *Engine) Disburse(ctx context.Context, projectID string) (*model.Project, error) {
	start := e.now()
	var project *model.Project
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		p, err := s.GetProject(ctx, projectID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		if err := e.disburse(ctx, s, p); err != nil {
			return err
		}
		project = p
		return nil
	})
	e.observe("disburse", start, err, "project", projectID)
	if err != nil {
		return nil, err
	}
	return project, nil
}

// disburse runs inside an atomic block shared with its trigger.
func (e *Engine) disburse(ctx context.Context, s store.Store, p *model.Project) error {
	if p.FundsDisbursed {
		return ErrAlreadyDisbursed
	}

	owner, err := getAccount(ctx, s, p.OwnerID)
	if err != nil {
		return err
	}
	platform, err := getAccount(ctx, s, e.platformID)
	if err != nil {
		return err
	}

	if err := debit(ctx, s, platform, p.AmountRaised); err != nil {
		return err
	}
	if err := credit(ctx, s, owner, p.AmountRaised); err != nil {
		return err
	}

	p.FundsDisbursed = true
	if err := s.UpdateProject(ctx, p); err != nil {
		return err
	}
	return e.record(ctx, s, p.OwnerID, model.KindProjectDisbursement, "", 0, p.AmountRaised, e.platformID)
}

// LiquidationResult summarizes an instrument buy-back.
type LiquidationResult struct {
	InstrumentID string                     `json:"instrument_id"`
	UnitValue    decimal.Decimal            `json:"unit_value"`
	Payouts      map[string]decimal.Decimal `json:"payouts"` // holder user id → net payout
	ArtistShare  decimal.Decimal            `json:"artist_share"`
}

// LiquidateInstrument buys back every outstanding unit of an instrument at
// totalAmount spread across the full unit pool, then retires the
// instrument. Each holder receives quantity*unitValue less the liquidation
// commission; the unsold remainder's value is split between the artist and
// the platform, with the platform absorbing any rounding remainder so the
// books stay balanced.
func (e *Engine) LiquidateInstrument(ctx context.Context, instrumentID string, totalAmount decimal.Decimal) (*LiquidationResult, error) {
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: liquidation amount must be positive", ErrInvalidInput)
	}

	start := e.now()
	result := &LiquidationResult{
		InstrumentID: instrumentID,
		Payouts:      make(map[string]decimal.Decimal),
	}
	err := e.atomic(ctx, func(ctx context.Context, s store.Store) error {
		ins, err := s.GetInstrument(ctx, instrumentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInstrumentNotFound
		}
		if err != nil {
			return err
		}

		platform, err := getAccount(ctx, s, e.platformID)
		if err != nil {
			return err
		}

		unitValue := commission.UnitValue(totalAmount, ins.TotalUnits)
		holders, err := s.ListHoldingsByInstrument(ctx, instrumentID)
		if err != nil {
			return err
		}

		// Validate the full platform outflow before touching anything.
		totalPayout := decimal.Zero
		for _, h := range holders {
			gross := unitValue.Mul(decimal.NewFromInt(h.Quantity))
			net, _ := commission.LessFee(gross, e.rates.Liquidation)
			totalPayout = totalPayout.Add(net)
		}

		remainingValue := unitValue.Mul(decimal.NewFromInt(ins.UnitsAvailable))
		artistShare := decimal.Zero
		if ins.UnitsAvailable > 0 {
			artistShare = remainingValue.Div(decimal.NewFromInt(2)).Round(2)
		}

		if platform.Balance.LessThan(totalPayout.Add(artistShare)) {
			return fmt.Errorf("%w: platform balance %s cannot cover liquidation %s",
				ErrInsufficientFunds, platform.Balance, totalPayout.Add(artistShare))
		}

		for _, h := range holders {
			holder, err := getAccount(ctx, s, h.UserID)
			if err != nil {
				return err
			}

			gross := unitValue.Mul(decimal.NewFromInt(h.Quantity))
			net, _ := commission.LessFee(gross, e.rates.Liquidation)

			if err := debit(ctx, s, platform, net); err != nil {
				return err
			}
			if err := credit(ctx, s, holder, net); err != nil {
				return err
			}
			if err := s.DeleteHolding(ctx, h.UserID, instrumentID); err != nil {
				return err
			}

			if err := e.record(ctx, s, e.platformID, model.KindBuy, instrumentID, h.Quantity, net, h.UserID); err != nil {
				return err
			}
			if err := e.record(ctx, s, h.UserID, model.KindSell, instrumentID, h.Quantity, net, e.platformID); err != nil {
				return err
			}
			result.Payouts[h.UserID] = net
		}

		if ins.UnitsAvailable > 0 {
			artist, err := getAccount(ctx, s, ins.ArtistID)
			if err != nil {
				return err
			}
			// Debit the full remaining value, credit half to the artist,
			// and return the other half (plus any rounding remainder) to
			// the platform so nothing is lost or minted.
			if err := debit(ctx, s, platform, remainingValue); err != nil {
				return err
			}
			if err := credit(ctx, s, artist, artistShare); err != nil {
				return err
			}
			if err := credit(ctx, s, platform, remainingValue.Sub(artistShare)); err != nil {
				return err
			}
			if err := e.record(ctx, s, ins.ArtistID, model.KindSell, instrumentID, 0, artistShare, e.platformID); err != nil {
				return err
			}
			result.ArtistShare = artistShare
		}

		// Retiring the instrument invalidates its listings; cancel them so
		// the open book never shows orders on a dead instrument.
		open, err := s.ListOpenSellOrders(ctx)
		if err != nil {
			return err
		}
		for _, o := range open {
			if o.InstrumentID != instrumentID {
				continue
			}
			o.Status = model.OrderCanceled
			if err := s.UpdateSellOrder(ctx, &o); err != nil {
				return err
			}
		}

		result.UnitValue = unitValue
		return s.DeleteInstrument(ctx, instrumentID)
	})
	e.observe("liquidate", start, err, "instrument", instrumentID, "amount", totalAmount.String())
	if err != nil {
		return nil, err
	}

	e.broadcast("liquidation", EventFields{InstrumentID: instrumentID})
	return result, nil
}

// --- Queries (no mutation, no serialization needed) ---

func (e *Engine) Account(ctx context.Context, userID string) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return a, mapStorageErr(err)
}

func (e *Engine) Instruments(ctx context.Context) ([]model.Instrument, error) {
	ins, err := e.store.ListInstruments(ctx)
	return ins, mapStorageErr(err)
}

func (e *Engine) Instrument(ctx context.Context, id string) (*model.Instrument, error) {
	ins, err := e.store.GetInstrument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInstrumentNotFound
	}
	return ins, mapStorageErr(err)
}

func (e *Engine) Holdings(ctx context.Context, userID string) ([]model.Holding, error) {
	hs, err := e.store.ListHoldingsByUser(ctx, userID)
	return hs, mapStorageErr(err)
}

func (e *Engine) Transactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	ts, err := e.store.ListTransactionsByUser(ctx, userID)
	return ts, mapStorageErr(err)
}

func (e *Engine) OpenSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	os, err := e.store.ListOpenSellOrders(ctx)
	return os, mapStorageErr(err)
}

func (e *Engine) Project(ctx context.Context, id string) (*model.Project, error) {
	p, err := e.store.GetProject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	return p, mapStorageErr(err)
}

// mirrorTransfer asynchronously mirrors a committed unit movement to the
// tokenization backing store. The ledger is the source of truth; a failed
// mirror is logged, not rolled back.
func (e *Engine) mirrorTransfer(instrumentID, to string, qty int64) {
	if e.minter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := e.minter.Transfer(ctx, instrumentID, to, qty); err != nil {
			slog.Warn("token transfer mirror failed",
				"instrument", instrumentID, "to", to, "qty", qty, "err", err)
		}
	}()
}
