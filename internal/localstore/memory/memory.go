// Package memory is the in-memory localstore implementation used by tests
// and by dev mode when no DATABASE_URL is configured.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	heldOrdersByID map[string]domain.HeldOrder
	shiftsByID     map[string]domain.Shift
	activeShiftKey map[string]string
	txByID         map[string]domain.Transaction
	stockByProduct map[string]domain.StockLevel
	productsByID   map[string]domain.Product
	discountsByID  map[string]domain.DiscountRecord
}

func New() *Store {
	return &Store{
		heldOrdersByID: make(map[string]domain.HeldOrder),
		shiftsByID:     make(map[string]domain.Shift),
		activeShiftKey: make(map[string]string),
		txByID:         make(map[string]domain.Transaction),
		stockByProduct: make(map[string]domain.StockLevel),
		productsByID:   make(map[string]domain.Product),
		discountsByID:  make(map[string]domain.DiscountRecord),
	}
}

// NewSeeded returns a store preloaded with a small catalog for dev mode.
func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{ID: "prod-mie-01", SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Price: decimal.NewFromFloat(3.50), Active: true},
		{ID: "prod-telur-01", SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Price: decimal.NewFromFloat(26.50), Active: true},
		{ID: "prod-kopi-01", SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Price: decimal.NewFromFloat(2.60), Active: true,
			Promo: &domain.Promo{Type: domain.PromoPercentage, Value: decimal.NewFromInt(10), MinQty: 3}},
		{ID: "prod-roti-01", SKU: "SKU-ROTI-01", Name: "Roti Tawar", Price: decimal.NewFromFloat(17.80), Active: true},
	}
	for _, p := range products {
		s.productsByID[p.ID] = p
		s.stockByProduct[p.ID] = domain.StockLevel{ProductID: p.ID, Quantity: 120, Version: 1}
	}
	s.discountsByID["disc-member-10"] = domain.DiscountRecord{
		ID: "disc-member-10", Code: "MEMBER10", Name: "Diskon Member 10%",
		Type: domain.PromoPercentage, Value: decimal.NewFromInt(10), Active: true,
	}
	return s
}

func shiftKey(storeID, cashierID string) string {
	return storeID + "|" + cashierID
}

func (s *Store) CreateHeldOrder(_ context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	if strings.TrimSpace(order.StoreID) == "" || strings.TrimSpace(order.CashierID) == "" || len(order.Items) == 0 {
		return nil, localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("hold")
	}
	if order.HeldAt.IsZero() {
		order.HeldAt = time.Now().UTC()
	}
	if order.ExpiresAt.IsZero() {
		order.ExpiresAt = order.HeldAt.Add(24 * time.Hour)
	}

	s.heldOrdersByID[order.ID] = cloneHeldOrder(order)
	saved := cloneHeldOrder(order)
	return &saved, nil
}

func (s *Store) GetHeldOrder(_ context.Context, id string) (*domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.heldOrdersByID[id]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := cloneHeldOrder(order)
	return &result, nil
}

func (s *Store) ListHeldOrders(_ context.Context, storeID string, cashierID string, limit int) ([]domain.HeldOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.HeldOrder, 0, len(s.heldOrdersByID))
	for _, order := range s.heldOrdersByID {
		if storeID != "" && order.StoreID != storeID {
			continue
		}
		if cashierID != "" && order.CashierID != cashierID {
			continue
		}
		result = append(result, cloneHeldOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.HeldOrder) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.HeldAt.After(b.HeldAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) PopHeldOrder(_ context.Context, id string) (*domain.HeldOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.heldOrdersByID[id]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	delete(s.heldOrdersByID, id)
	result := cloneHeldOrder(order)
	return &result, nil
}

func (s *Store) DeleteHeldOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.heldOrdersByID[id]; !exists {
		return localstore.ErrNotFound
	}
	delete(s.heldOrdersByID, id)
	return nil
}

func (s *Store) DeleteExpiredHeldOrders(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, order := range s.heldOrdersByID {
		if now.After(order.ExpiresAt) {
			delete(s.heldOrdersByID, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) SaveShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.CashierID) == "" {
		return nil, localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	key := shiftKey(shift.StoreID, shift.CashierID)
	if shift.Status == domain.ShiftActive {
		if existingID, exists := s.activeShiftKey[key]; exists && existingID != shift.ID {
			return nil, localstore.ErrInvalidRecord
		}
		s.activeShiftKey[key] = shift.ID
	} else if s.activeShiftKey[key] == shift.ID {
		delete(s.activeShiftKey, key)
	}

	s.shiftsByID[shift.ID] = shift
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := shift
	return &result, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftKey[shiftKey(storeID, cashierID)]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftActive {
		return nil, localstore.ErrNotFound
	}
	result := shift
	return &result, nil
}

func (s *Store) ListShiftsBySyncStatus(_ context.Context, status domain.SyncStatus, limit int) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 16)
	for _, shift := range s.shiftsByID {
		if shift.SyncStatus != status {
			continue
		}
		result = append(result, shift)
	}
	slices.SortFunc(result, func(a, b domain.Shift) int {
		if a.OpenedAt.Equal(b.OpenedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.OpenedAt.Before(b.OpenedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateShiftSyncStatus(_ context.Context, id string, status domain.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[id]
	if !exists {
		return localstore.ErrNotFound
	}
	shift.SyncStatus = status
	s.shiftsByID[id] = shift
	return nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if strings.TrimSpace(tx.StoreID) == "" || len(tx.Items) == 0 {
		return nil, localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.SyncStatus == "" {
		tx.SyncStatus = domain.SyncPending
	}
	s.txByID[tx.ID] = cloneTransaction(tx)
	saved := cloneTransaction(tx)
	return &saved, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.txByID[id]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := cloneTransaction(tx)
	return &result, nil
}

func (s *Store) ListTransactionsBySyncStatus(_ context.Context, status domain.SyncStatus, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.txByID {
		if tx.SyncStatus != status {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateTransactionSyncStatus(_ context.Context, id string, status domain.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.txByID[id]
	if !exists {
		return localstore.ErrNotFound
	}
	tx.SyncStatus = status
	s.txByID[id] = tx
	return nil
}

func (s *Store) CountPendingSync(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.txByID {
		if tx.SyncStatus == domain.SyncPending {
			count++
		}
	}
	for _, shift := range s.shiftsByID {
		if shift.SyncStatus == domain.SyncPending {
			count++
		}
	}
	return count, nil
}

func (s *Store) CashSalesForShift(_ context.Context, shiftID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, tx := range s.txByID {
		if tx.ShiftID == shiftID && tx.PaymentMethod == "cash" {
			total = total.Add(tx.Total)
		}
	}
	return total.Round(2), nil
}

func (s *Store) GetStock(_ context.Context, productID string) (*domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level, exists := s.stockByProduct[productID]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := level
	return &result, nil
}

func (s *Store) SetStock(_ context.Context, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	level := s.stockByProduct[productID]
	level.ProductID = productID
	level.Quantity = qty
	level.Version++
	s.stockByProduct[productID] = level
	return nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, qty int, version int64) error {
	if productID == "" || qty < 1 {
		return localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	level, exists := s.stockByProduct[productID]
	if !exists {
		return localstore.ErrNotFound
	}
	if level.Version != version {
		return localstore.ErrVersionConflict
	}
	if level.Quantity < qty {
		return localstore.ErrInsufficientStock
	}
	level.Quantity -= qty
	level.Version++
	s.stockByProduct[productID] = level
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := product
	return &result, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.productsByID[product.ID] = product
	return nil
}

func (s *Store) GetDiscount(_ context.Context, id string) (*domain.DiscountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, exists := s.discountsByID[id]
	if !exists {
		return nil, localstore.ErrNotFound
	}
	result := discount
	return &result, nil
}

func (s *Store) UpsertDiscount(_ context.Context, discount domain.DiscountRecord) error {
	if strings.TrimSpace(discount.ID) == "" {
		return localstore.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.discountsByID[discount.ID] = discount
	return nil
}

func cloneHeldOrder(order domain.HeldOrder) domain.HeldOrder {
	out := order
	out.Items = cloneItems(order.Items)
	if order.Discount != nil {
		discount := *order.Discount
		out.Discount = &discount
	}
	return out
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	out := tx
	out.Items = cloneItems(tx.Items)
	if tx.Discount != nil {
		discount := *tx.Discount
		out.Discount = &discount
	}
	return out
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		copied := item
		if item.Discount != nil {
			d := *item.Discount
			copied.Discount = &d
		}
		if item.Promo != nil {
			p := *item.Promo
			copied.Promo = &p
		}
		out[i] = copied
	}
	return out
}
