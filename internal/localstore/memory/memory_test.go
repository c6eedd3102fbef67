package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
)

func seedHeldOrder(t *testing.T, s *Store) *domain.HeldOrder {
	t.Helper()
	order, err := s.CreateHeldOrder(context.Background(), domain.HeldOrder{
		StoreID:   "main-store",
		CashierID: "cashier-1",
		Items: []domain.CartItem{
			{ProductID: "prod-mie-01", Quantity: 2, UnitPrice: decimal.NewFromFloat(3.50)},
		},
	})
	if err != nil {
		t.Fatalf("create held order failed: %v", err)
	}
	return order
}

func TestPopHeldOrderIsSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := seedHeldOrder(t, s)

	popped, err := s.PopHeldOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if popped.ID != order.ID {
		t.Fatalf("expected order %s, got %s", order.ID, popped.ID)
	}

	if _, err := s.PopHeldOrder(ctx, order.ID); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected second pop to fail with not found, got %v", err)
	}
	if _, err := s.GetHeldOrder(ctx, order.ID); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("popped order must be gone, got %v", err)
	}
}

func TestDeleteExpiredHeldOrders(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := time.Now().UTC().Add(-26 * time.Hour)
	_, err := s.CreateHeldOrder(ctx, domain.HeldOrder{
		StoreID:   "main-store",
		CashierID: "cashier-1",
		Items:     []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}},
		HeldAt:    old,
		ExpiresAt: old.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed expired order failed: %v", err)
	}
	fresh := seedHeldOrder(t, s)

	deleted, err := s.DeleteExpiredHeldOrders(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := s.GetHeldOrder(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh order must survive the sweep: %v", err)
	}
}

func TestDecrementStockVersionConflict(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	level, err := s.GetStock(ctx, "prod-mie-01")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}

	if err := s.DecrementStock(ctx, "prod-mie-01", 5, level.Version); err != nil {
		t.Fatalf("first decrement failed: %v", err)
	}

	// A second writer holding the old version must not blind-write.
	err = s.DecrementStock(ctx, "prod-mie-01", 5, level.Version)
	if !errors.Is(err, localstore.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	refreshed, err := s.GetStock(ctx, "prod-mie-01")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}
	if refreshed.Quantity != 115 {
		t.Fatalf("expected quantity 115, got %d", refreshed.Quantity)
	}
	if refreshed.Version != level.Version+1 {
		t.Fatalf("expected version bump, got %d", refreshed.Version)
	}

	if err := s.DecrementStock(ctx, "prod-mie-01", 5, refreshed.Version); err != nil {
		t.Fatalf("retry with fresh version failed: %v", err)
	}
}

func TestDecrementStockInsufficient(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SetStock(ctx, "p1", 3); err != nil {
		t.Fatalf("set stock failed: %v", err)
	}
	level, err := s.GetStock(ctx, "p1")
	if err != nil {
		t.Fatalf("get stock failed: %v", err)
	}

	err = s.DecrementStock(ctx, "p1", 4, level.Version)
	if !errors.Is(err, localstore.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestActiveShiftExclusivePerCashier(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.SaveShift(ctx, domain.Shift{
		StoreID:      "main-store",
		CashierID:    "cashier-1",
		Status:       domain.ShiftActive,
		OpeningFloat: decimal.NewFromInt(100),
		SyncStatus:   domain.SyncPending,
	})
	if err != nil {
		t.Fatalf("save shift failed: %v", err)
	}

	// A second distinct active shift for the same cashier is refused.
	_, err = s.SaveShift(ctx, domain.Shift{
		StoreID:      "main-store",
		CashierID:    "cashier-1",
		Status:       domain.ShiftActive,
		OpeningFloat: decimal.NewFromInt(50),
		SyncStatus:   domain.SyncPending,
	})
	if !errors.Is(err, localstore.ErrInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}

	active, err := s.GetActiveShift(ctx, "main-store", "cashier-1")
	if err != nil {
		t.Fatalf("get active shift failed: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("expected active shift %s, got %s", first.ID, active.ID)
	}

	// Closing frees the slot.
	first.Status = domain.ShiftClosed
	if _, err := s.SaveShift(ctx, *first); err != nil {
		t.Fatalf("close save failed: %v", err)
	}
	if _, err := s.GetActiveShift(ctx, "main-store", "cashier-1"); !errors.Is(err, localstore.ErrNotFound) {
		t.Fatalf("expected no active shift after close, got %v", err)
	}
}

func TestSyncStatusQueries(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, status := range []domain.SyncStatus{domain.SyncPending, domain.SyncPending, domain.SyncSynced} {
		_, err := s.CreateTransaction(ctx, domain.Transaction{
			StoreID:       "main-store",
			CashierID:     "cashier-1",
			ShiftID:       "shift-1",
			Items:         []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(int64(i + 1))}},
			Total:         decimal.NewFromInt(int64(i + 1)),
			PaymentMethod: "cash",
			SyncStatus:    status,
		})
		if err != nil {
			t.Fatalf("seed transaction failed: %v", err)
		}
	}

	pending, err := s.ListTransactionsBySyncStatus(ctx, domain.SyncPending, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	count, err := s.CountPendingSync(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected pending count 2, got %d", count)
	}

	if err := s.UpdateTransactionSyncStatus(ctx, pending[0].ID, domain.SyncSynced); err != nil {
		t.Fatalf("update sync status failed: %v", err)
	}
	count, err = s.CountPendingSync(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected pending count 1 after update, got %d", count)
	}
}

func TestCashSalesForShiftIgnoresNonCash(t *testing.T) {
	s := New()
	ctx := context.Background()

	seed := []struct {
		method string
		total  int64
	}{
		{"cash", 30},
		{"cash", 20},
		{"qris", 99},
	}
	for _, tx := range seed {
		_, err := s.CreateTransaction(ctx, domain.Transaction{
			StoreID:       "main-store",
			CashierID:     "cashier-1",
			ShiftID:       "shift-1",
			Items:         []domain.CartItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(tx.total)}},
			Total:         decimal.NewFromInt(tx.total),
			PaymentMethod: tx.method,
		})
		if err != nil {
			t.Fatalf("seed transaction failed: %v", err)
		}
	}

	total, err := s.CashSalesForShift(ctx, "shift-1")
	if err != nil {
		t.Fatalf("cash sales failed: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected cash sales 50, got %s", total)
	}
}
