package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fondiart/ledger-engine/internal/model"
	"github.com/fondiart/ledger-engine/internal/store"
)

func seedAccount(t *testing.T, ms *store.MemoryStore, userID string, balance int64) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		UserID:    userID,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", userID, err)
	}
}

func TestMemoryStore_AccountCRUD(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedAccount(t, ms, "alice", 100)

	if err := ms.CreateAccount(ctx, &model.Account{UserID: "alice"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	a, err := ms.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !a.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100, got %s", a.Balance)
	}

	// Returned values are copies; mutating them must not leak back.
	a.Balance = decimal.NewFromInt(999)
	fresh, _ := ms.GetAccount(ctx, "alice")
	if !fresh.Balance.Equal(decimal.NewFromInt(100)) {
		t.Error("mutating a returned account must not affect the store")
	}

	if _, err := ms.GetAccount(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_AtomicCommit(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "alice", 100)
	seedAccount(t, ms, "bob", 0)

	err := ms.Atomic(ctx, func(s store.Store) error {
		if err := s.UpdateAccountBalance(ctx, "alice", decimal.NewFromInt(60)); err != nil {
			return err
		}
		return s.UpdateAccountBalance(ctx, "bob", decimal.NewFromInt(40))
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}

	a, _ := ms.GetAccount(ctx, "alice")
	b, _ := ms.GetAccount(ctx, "bob")
	if !a.Balance.Equal(decimal.NewFromInt(60)) || !b.Balance.Equal(decimal.NewFromInt(40)) {
		t.Errorf("expected 60/40, got %s/%s", a.Balance, b.Balance)
	}
}

func TestMemoryStore_AtomicRollback(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "alice", 100)

	boom := errors.New("boom")
	err := ms.Atomic(ctx, func(s store.Store) error {
		if err := s.UpdateAccountBalance(ctx, "alice", decimal.NewFromInt(0)); err != nil {
			return err
		}
		if err := s.InsertTransaction(ctx, &model.Transaction{ID: "t1", UserID: "alice"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	a, _ := ms.GetAccount(ctx, "alice")
	if !a.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance must roll back to 100, got %s", a.Balance)
	}
	txs, _ := ms.ListTransactionsByUser(ctx, "alice")
	if len(txs) != 0 {
		t.Errorf("transaction must roll back, got %d rows", len(txs))
	}
}

func TestMemoryStore_AtomicViewIsolation(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedAccount(t, ms, "alice", 100)

	err := ms.Atomic(ctx, func(s store.Store) error {
		if err := s.UpdateAccountBalance(ctx, "alice", decimal.NewFromInt(5)); err != nil {
			return err
		}
		// The view sees its own writes.
		a, err := s.GetAccount(ctx, "alice")
		if err != nil {
			return err
		}
		if !a.Balance.Equal(decimal.NewFromInt(5)) {
			t.Errorf("view should see its own write, got %s", a.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("atomic: %v", err)
	}
}

func TestMemoryStore_HoldingLifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	h := &model.Holding{UserID: "alice", InstrumentID: "ins1", Quantity: 10, AvgPurchasePrice: decimal.NewFromInt(5)}
	if err := ms.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	h.Quantity = 25
	if err := ms.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}
	got, err := ms.GetHolding(ctx, "alice", "ins1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Quantity != 25 {
		t.Errorf("expected quantity 25, got %d", got.Quantity)
	}

	if err := ms.DeleteHolding(ctx, "alice", "ins1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ms.GetHolding(ctx, "alice", "ins1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_OpenOrderListing(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	orders := []*model.SellOrder{
		{ID: "o1", UserID: "alice", InstrumentID: "ins1", Quantity: 5, Status: model.OrderOpen, CreatedAt: now},
		{ID: "o2", UserID: "alice", InstrumentID: "ins1", Quantity: 5, Status: model.OrderCanceled, CreatedAt: now.Add(time.Second)},
		{ID: "o3", UserID: "bob", InstrumentID: "ins1", Quantity: 5, Status: model.OrderOpen, CreatedAt: now.Add(2 * time.Second)},
	}
	for _, o := range orders {
		if err := ms.CreateSellOrder(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}

	open, err := ms.ListOpenSellOrders(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open orders, got %d", len(open))
	}
	if open[0].ID != "o1" || open[1].ID != "o3" {
		t.Errorf("open orders should be oldest first, got %s, %s", open[0].ID, open[1].ID)
	}

	mine, err := ms.ListSellOrdersByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 orders for alice, got %d", len(mine))
	}
}

func TestMemoryStore_TransactionsNewestFirst(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		err := ms.InsertTransaction(ctx, &model.Transaction{
			ID:        id,
			UserID:    "alice",
			Kind:      model.KindDeposit,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	txs, err := ms.ListTransactionsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 || txs[0].ID != "t3" || txs[2].ID != "t1" {
		t.Errorf("expected newest first t3..t1, got %+v", txs)
	}
}
