package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/broadcast"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/xid"
)

var ErrInsufficientPayment = errors.New("insufficient payment")

// decrementAttempts bounds the compare-and-swap retry loop per line.
const decrementAttempts = 3

type CompleteSaleRequest struct {
	StoreID       string
	CashierID     string
	ShiftID       string
	PaymentMethod string
	CashReceived  decimal.Decimal
}

// CompleteSale turns the active cart into a pending Transaction: persist
// locally first, decrement stock, clear the cart, broadcast. Server
// confirmation happens later through the sync worker.
func (m *Manager) CompleteSale(ctx context.Context, req CompleteSaleRequest) (*domain.Transaction, error) {
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}

	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	if len(m.cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	change := decimal.Zero
	if req.PaymentMethod == "cash" {
		if req.CashReceived.LessThan(m.cart.Total) {
			return nil, ErrInsufficientPayment
		}
		change = req.CashReceived.Sub(m.cart.Total).Round(2)
	}

	tx := domain.Transaction{
		ID:             xid.New("tx"),
		StoreID:        req.StoreID,
		CashierID:      req.CashierID,
		ShiftID:        req.ShiftID,
		Items:          cloneItems(m.cart.Items),
		Discount:       cloneDiscount(m.cart.Discount),
		Subtotal:       m.cart.Subtotal,
		DiscountAmount: m.cart.DiscountAmount,
		TaxAmount:      m.cart.TaxAmount,
		Total:          m.cart.Total,
		PaymentMethod:  req.PaymentMethod,
		CashReceived:   req.CashReceived,
		Change:         change,
		CreatedAt:      time.Now().UTC(),
		SyncStatus:     domain.SyncPending,
	}

	saved, err := m.store.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	for _, item := range tx.Items {
		if err := m.decrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			m.log.WithError(err).WithField("product_id", item.ProductID).
				Warn("cart: stock decrement failed, sale kept")
		}
	}

	m.reset()
	msg = m.stamp()
	return saved, nil
}

// decrementStock retries the versioned decrement on conflict so two
// concurrent sales never blindly overwrite each other's write. When stock
// would go negative, the remainder is written as zero rather than failing
// the already-paid sale.
func (m *Manager) decrementStock(ctx context.Context, productID string, qty int) error {
	for attempt := 0; attempt < decrementAttempts; attempt++ {
		level, err := m.store.GetStock(ctx, productID)
		if err != nil {
			return err
		}

		if level.Quantity < qty {
			return m.store.SetStock(ctx, productID, 0)
		}

		err = m.store.DecrementStock(ctx, productID, qty, level.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, localstore.ErrVersionConflict) {
			return err
		}
	}
	return localstore.ErrVersionConflict
}
