package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
)

type holdingKey struct {
	userID       string
	instrumentID string
}

// memState is the full mutable state of a MemoryStore. Kept as one struct so
// Atomic can snapshot and swap it wholesale.
type memState struct {
	accounts     map[string]*model.Account
	instruments  map[string]*model.Instrument
	holdings     map[holdingKey]*model.Holding
	orders       map[string]*model.SellOrder
	transactions []model.Transaction
	projects     map[string]*model.Project
}

func newMemState() *memState {
	return &memState{
		accounts:    make(map[string]*model.Account),
		instruments: make(map[string]*model.Instrument),
		holdings:    make(map[holdingKey]*model.Holding),
		orders:      make(map[string]*model.SellOrder),
		projects:    make(map[string]*model.Project),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range st.instruments {
		cp := *v
		c.instruments[k] = &cp
	}
	for k, v := range st.holdings {
		cp := *v
		c.holdings[k] = &cp
	}
	for k, v := range st.orders {
		cp := *v
		c.orders[k] = &cp
	}
	for k, v := range st.projects {
		cp := *v
		c.projects[k] = &cp
	}
	c.transactions = append([]model.Transaction(nil), st.transactions...)
	return c
}

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Atomic snapshots the whole state, applies the callback to
// the copy, and swaps it in only on success — simulating transactional
// rollback without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memState
	shadow bool // true inside an Atomic callback
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) Atomic(_ context.Context, fn func(Store) error) error {
	if s.shadow {
		// Already inside a transactional view; nesting is flattening.
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	view := &MemoryStore{state: s.state.clone(), shadow: true}
	if err := fn(view); err != nil {
		return err
	}
	s.state = view.state
	return nil
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.accounts[a.UserID]; ok {
		return fmt.Errorf("account for user %s: %w", a.UserID, ErrAlreadyExists)
	}
	cp := *a
	s.state.accounts[a.UserID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.rlock()
	defer s.runlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAccountBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	s.lock()
	defer s.unlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	a.Balance = balance
	return nil
}

func (s *MemoryStore) SetPayoutDestination(_ context.Context, userID, destination string) error {
	s.lock()
	defer s.unlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return fmt.Errorf("account for user %s: %w", userID, ErrNotFound)
	}
	a.PayoutDestination = destination
	return nil
}

// --- Instruments ---

func (s *MemoryStore) CreateInstrument(_ context.Context, ins *model.Instrument) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.instruments[ins.ID]; ok {
		return fmt.Errorf("instrument %s: %w", ins.ID, ErrAlreadyExists)
	}
	cp := *ins
	s.state.instruments[ins.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id string) (*model.Instrument, error) {
	s.rlock()
	defer s.runlock()

	ins, ok := s.state.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	cp := *ins
	return &cp, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.Instrument, error) {
	s.rlock()
	defer s.runlock()

	out := make([]model.Instrument, 0, len(s.state.instruments))
	for _, ins := range s.state.instruments {
		out = append(out, *ins)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateInstrumentUnits(_ context.Context, id string, available, sold int64) error {
	s.lock()
	defer s.unlock()

	ins, ok := s.state.instruments[id]
	if !ok {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	ins.UnitsAvailable = available
	ins.UnitsSold = sold
	return nil
}

func (s *MemoryStore) DeleteInstrument(_ context.Context, id string) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.instruments[id]; !ok {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	delete(s.state.instruments, id)
	return nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, userID, instrumentID string) (*model.Holding, error) {
	s.rlock()
	defer s.runlock()

	h, ok := s.state.holdings[holdingKey{userID, instrumentID}]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, instrumentID, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldingsByUser(_ context.Context, userID string) ([]model.Holding, error) {
	s.rlock()
	defer s.runlock()

	var out []model.Holding
	for k, h := range s.state.holdings {
		if k.userID == userID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

func (s *MemoryStore) ListHoldingsByInstrument(_ context.Context, instrumentID string) ([]model.Holding, error) {
	s.rlock()
	defer s.runlock()

	var out []model.Holding
	for k, h := range s.state.holdings {
		if k.instrumentID == instrumentID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) UpsertHolding(_ context.Context, h *model.Holding) error {
	s.lock()
	defer s.unlock()

	cp := *h
	s.state.holdings[holdingKey{h.UserID, h.InstrumentID}] = &cp
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, userID, instrumentID string) error {
	s.lock()
	defer s.unlock()

	k := holdingKey{userID, instrumentID}
	if _, ok := s.state.holdings[k]; !ok {
		return fmt.Errorf("holding %s/%s: %w", userID, instrumentID, ErrNotFound)
	}
	delete(s.state.holdings, k)
	return nil
}

// --- Sell orders ---

func (s *MemoryStore) CreateSellOrder(_ context.Context, o *model.SellOrder) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.orders[o.ID]; ok {
		return fmt.Errorf("sell order %s: %w", o.ID, ErrAlreadyExists)
	}
	cp := *o
	s.state.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSellOrder(_ context.Context, id string) (*model.SellOrder, error) {
	s.rlock()
	defer s.runlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("sell order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOpenSellOrders(_ context.Context) ([]model.SellOrder, error) {
	s.rlock()
	defer s.runlock()

	var out []model.SellOrder
	for _, o := range s.state.orders {
		if o.Status == model.OrderOpen {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListSellOrdersByUser(_ context.Context, userID string) ([]model.SellOrder, error) {
	s.rlock()
	defer s.runlock()

	var out []model.SellOrder
	for _, o := range s.state.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateSellOrder(_ context.Context, o *model.SellOrder) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.orders[o.ID]; !ok {
		return fmt.Errorf("sell order %s: %w", o.ID, ErrNotFound)
	}
	cp := *o
	s.state.orders[o.ID] = &cp
	return nil
}

// --- Transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.lock()
	defer s.unlock()

	s.state.transactions = append(s.state.transactions, *t)
	return nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.rlock()
	defer s.runlock()

	var out []model.Transaction
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		if s.state.transactions[i].UserID == userID {
			out = append(out, s.state.transactions[i])
		}
	}
	return out, nil
}

// --- Projects ---

func (s *MemoryStore) CreateProject(_ context.Context, p *model.Project) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.projects[p.ID]; ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrAlreadyExists)
	}
	cp := *p
	s.state.projects[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.rlock()
	defer s.runlock()

	p, ok := s.state.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, p *model.Project) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.state.projects[p.ID]; !ok {
		return fmt.Errorf("project %s: %w", p.ID, ErrNotFound)
	}
	cp := *p
	s.state.projects[p.ID] = &cp
	return nil
}

// Lock helpers. A shadow view is confined to a single Atomic callback while
// the parent's write lock is held, so it skips locking entirely.

func (s *MemoryStore) lock() {
	if !s.shadow {
		s.mu.Lock()
	}
}

func (s *MemoryStore) unlock() {
	if !s.shadow {
		s.mu.Unlock()
	}
}

func (s *MemoryStore) rlock() {
	if !s.shadow {
		s.mu.RLock()
	}
}

func (s *MemoryStore) runlock() {
	if !s.shadow {
		s.mu.RUnlock()
	}
}
