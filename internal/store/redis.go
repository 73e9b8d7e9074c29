package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot rows: accounts and instruments. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back to
// the primary. Everything else passes through uncached — the transaction
// ledger and order book are read far less often than balances.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Atomic delegates to the primary store's transaction boundary, tracking
// which cached keys the callback touches and dropping them only after a
// successful commit. A rolled-back operation must never invalidate the
// cache into serving stale-but-correct rows.
func (s *CachedStore) Atomic(ctx context.Context, fn func(Store) error) error {
	var dirty []string
	err := s.primary.Atomic(ctx, func(tx Store) error {
		return fn(&invalidatingStore{Store: tx, dirty: &dirty})
	})
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		s.rdb.Del(ctx, dirty...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, accountKey(userID), a)
	return a, nil
}

func (s *CachedStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	data, err := s.rdb.Get(ctx, instrumentKey(id)).Bytes()
	if err == nil {
		var ins model.Instrument
		if json.Unmarshal(data, &ins) == nil {
			return &ins, nil
		}
	}

	ins, err := s.primary.GetInstrument(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, instrumentKey(id), ins)
	return ins, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := s.primary.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.cacheJSON(ctx, accountKey(a.UserID), a)
	return nil
}

func (s *CachedStore) UpdateAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if err := s.primary.UpdateAccountBalance(ctx, userID, balance); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

func (s *CachedStore) SetPayoutDestination(ctx context.Context, userID, destination string) error {
	if err := s.primary.SetPayoutDestination(ctx, userID, destination); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return nil
}

func (s *CachedStore) CreateInstrument(ctx context.Context, ins *model.Instrument) error {
	if err := s.primary.CreateInstrument(ctx, ins); err != nil {
		return err
	}
	s.cacheJSON(ctx, instrumentKey(ins.ID), ins)
	return nil
}

func (s *CachedStore) UpdateInstrumentUnits(ctx context.Context, id string, available, sold int64) error {
	if err := s.primary.UpdateInstrumentUnits(ctx, id, available, sold); err != nil {
		return err
	}
	s.rdb.Del(ctx, instrumentKey(id))
	return nil
}

func (s *CachedStore) DeleteInstrument(ctx context.Context, id string) error {
	if err := s.primary.DeleteInstrument(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, instrumentKey(id))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, instrumentID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, instrumentID)
}

func (s *CachedStore) ListHoldingsByUser(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.primary.ListHoldingsByUser(ctx, userID)
}

func (s *CachedStore) ListHoldingsByInstrument(ctx context.Context, instrumentID string) ([]model.Holding, error) {
	return s.primary.ListHoldingsByInstrument(ctx, instrumentID)
}

func (s *CachedStore) UpsertHolding(ctx context.Context, h *model.Holding) error {
	return s.primary.UpsertHolding(ctx, h)
}

func (s *CachedStore) DeleteHolding(ctx context.Context, userID, instrumentID string) error {
	return s.primary.DeleteHolding(ctx, userID, instrumentID)
}

func (s *CachedStore) CreateSellOrder(ctx context.Context, o *model.SellOrder) error {
	return s.primary.CreateSellOrder(ctx, o)
}

func (s *CachedStore) GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error) {
	return s.primary.GetSellOrder(ctx, id)
}

func (s *CachedStore) ListOpenSellOrders(ctx context.Context) ([]model.SellOrder, error) {
	return s.primary.ListOpenSellOrders(ctx)
}

func (s *CachedStore) ListSellOrdersByUser(ctx context.Context, userID string) ([]model.SellOrder, error) {
	return s.primary.ListSellOrdersByUser(ctx, userID)
}

func (s *CachedStore) UpdateSellOrder(ctx context.Context, o *model.SellOrder) error {
	return s.primary.UpdateSellOrder(ctx, o)
}

func (s *CachedStore) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	return s.primary.InsertTransaction(ctx, t)
}

func (s *CachedStore) ListTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.primary.ListTransactionsByUser(ctx, userID)
}

func (s *CachedStore) CreateProject(ctx context.Context, p *model.Project) error {
	return s.primary.CreateProject(ctx, p)
}

func (s *CachedStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.primary.GetProject(ctx, id)
}

func (s *CachedStore) UpdateProject(ctx context.Context, p *model.Project) error {
	return s.primary.UpdateProject(ctx, p)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(userID string) string { return fmt.Sprintf("account:%s", userID) }
func instrumentKey(id string) string  { return fmt.Sprintf("instrument:%s", id) }

// invalidatingStore runs inside CachedStore.Atomic: it records cache keys
// dirtied by writes so they can be dropped after the commit.
type invalidatingStore struct {
	Store
	dirty *[]string
}

func (s *invalidatingStore) CreateAccount(ctx context.Context, a *model.Account) error {
	*s.dirty = append(*s.dirty, accountKey(a.UserID))
	return s.Store.CreateAccount(ctx, a)
}

func (s *invalidatingStore) UpdateAccountBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	*s.dirty = append(*s.dirty, accountKey(userID))
	return s.Store.UpdateAccountBalance(ctx, userID, balance)
}

func (s *invalidatingStore) SetPayoutDestination(ctx context.Context, userID, destination string) error {
	*s.dirty = append(*s.dirty, accountKey(userID))
	return s.Store.SetPayoutDestination(ctx, userID, destination)
}

func (s *invalidatingStore) CreateInstrument(ctx context.Context, ins *model.Instrument) error {
	*s.dirty = append(*s.dirty, instrumentKey(ins.ID))
	return s.Store.CreateInstrument(ctx, ins)
}

func (s *invalidatingStore) UpdateInstrumentUnits(ctx context.Context, id string, available, sold int64) error {
	*s.dirty = append(*s.dirty, instrumentKey(id))
	return s.Store.UpdateInstrumentUnits(ctx, id, available, sold)
}

func (s *invalidatingStore) DeleteInstrument(ctx context.Context, id string) error {
	*s.dirty = append(*s.dirty, instrumentKey(id))
	return s.Store.DeleteInstrument(ctx, id)
}

func (s *invalidatingStore) Atomic(_ context.Context, fn func(Store) error) error {
	// Already inside the primary's transaction.
	return fn(s)
}
