// Package cart owns the one in-memory Cart aggregate of a terminal. Every
// mutation recomputes totals through the pricing engine, then broadcasts the
// entire resulting cart so other UI instances of the same terminal replace
// their mirror wholesale.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"warungpos/terminal/internal/broadcast"
	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
	"warungpos/terminal/internal/pricing"
	"warungpos/terminal/internal/xid"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrOrderExpired = errors.New("held order expired")
)

// HoldTTL is how long a held order stays resumable.
const HoldTTL = 24 * time.Hour

// Revalidator re-checks a held discount against current discount rules
// before it is restored onto a resumed cart.
type Revalidator func(ctx context.Context, discount domain.CartDiscount) bool

type Manager struct {
	mu    sync.Mutex
	cart  domain.Cart
	store localstore.Store
	pub   *broadcast.Publisher
	guard *broadcast.SeqGuard
	log   *logrus.Logger

	taxRate     decimal.Decimal
	unsubscribe func()
}

func NewManager(store localstore.Store, bus broadcast.Bus, log *logrus.Logger, taxRatePercent decimal.Decimal) *Manager {
	m := &Manager{
		store:   store,
		pub:     broadcast.NewPublisher(bus),
		guard:   broadcast.NewSeqGuard(),
		log:     log,
		taxRate: taxRatePercent,
	}
	m.unsubscribe = bus.Subscribe(broadcast.TopicCartSync, m.onRemoteCart)
	return m
}

// Close detaches the manager from the broadcast bus.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// onRemoteCart replaces the local mirror with a full state broadcast from
// another UI instance. Own messages and stale sequences are dropped.
func (m *Manager) onRemoteCart(msg broadcast.Message) {
	if msg.Origin == m.pub.Origin() {
		return
	}
	if !m.guard.Accept(msg) {
		return
	}
	var cart domain.Cart
	if err := json.Unmarshal(msg.Payload, &cart); err != nil {
		m.log.WithError(err).Warn("cart: dropping malformed broadcast")
		return
	}
	m.mu.Lock()
	m.cart = cart
	m.mu.Unlock()
}

// Snapshot returns a deep copy of the current cart.
func (m *Manager) Snapshot() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneCart(m.cart)
}

// AddItem appends a line, or merges quantities when a line for the same
// product already exists.
func (m *Manager) AddItem(ctx context.Context, item domain.CartItem) (domain.Cart, error) {
	if item.ProductID == "" || item.Quantity < 1 {
		return domain.Cart{}, localstore.ErrInvalidRecord
	}

	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	merged := false
	for i, existing := range m.cart.Items {
		if existing.ProductID == item.ProductID {
			m.cart.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		m.cart.Items = append(m.cart.Items, item)
	}

	m.recompute()
	msg = m.stamp()
	return cloneCart(m.cart), nil
}

// UpdateItemQuantity sets a line's quantity; zero or negative removes the
// line. The caller validates quantity against stock.
func (m *Manager) UpdateItemQuantity(ctx context.Context, productID string, quantity int) (domain.Cart, error) {
	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	if quantity <= 0 {
		m.dropItem(productID)
	} else {
		found := false
		for i, existing := range m.cart.Items {
			if existing.ProductID == productID {
				m.cart.Items[i].Quantity = quantity
				found = true
				break
			}
		}
		if !found {
			return domain.Cart{}, localstore.ErrNotFound
		}
	}

	m.recompute()
	msg = m.stamp()
	return cloneCart(m.cart), nil
}

func (m *Manager) RemoveItem(ctx context.Context, productID string) (domain.Cart, error) {
	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	m.dropItem(productID)
	m.recompute()
	msg = m.stamp()
	return cloneCart(m.cart), nil
}

// ApplyDiscount fills the single cart-wide discount slot, replacing any
// discount already applied.
func (m *Manager) ApplyDiscount(ctx context.Context, discount domain.CartDiscount) (domain.Cart, error) {
	if discount.ID == "" {
		return domain.Cart{}, localstore.ErrInvalidRecord
	}

	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	m.cart.Discount = &discount
	m.recompute()
	msg = m.stamp()
	return cloneCart(m.cart), nil
}

func (m *Manager) RemoveDiscount(ctx context.Context) (domain.Cart, error) {
	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	m.cart.Discount = nil
	m.recompute()
	msg = m.stamp()
	return cloneCart(m.cart), nil
}

// ClearCart resets to the empty cart and clears the resumed-order marker.
func (m *Manager) ClearCart(ctx context.Context) domain.Cart {
	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	m.reset()
	msg = m.stamp()
	return cloneCart(m.cart)
}

// HoldOrder snapshots the active cart into a held order expiring in 24
// hours, persists it, then clears the cart. Returns the held order id.
func (m *Manager) HoldOrder(ctx context.Context, storeID, cashierID, customerName, note string) (string, error) {
	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	if len(m.cart.Items) == 0 {
		return "", ErrEmptyCart
	}

	now := time.Now().UTC()
	order := domain.HeldOrder{
		ID:             xid.New("hold"),
		StoreID:        storeID,
		CashierID:      cashierID,
		CustomerName:   strings.TrimSpace(customerName),
		Note:           strings.TrimSpace(note),
		Items:          cloneItems(m.cart.Items),
		Discount:       cloneDiscount(m.cart.Discount),
		Subtotal:       m.cart.Subtotal,
		DiscountAmount: m.cart.DiscountAmount,
		TaxAmount:      m.cart.TaxAmount,
		Total:          m.cart.Total,
		HeldAt:         now,
		ExpiresAt:      now.Add(HoldTTL),
	}

	saved, err := m.store.CreateHeldOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("persist held order: %w", err)
	}

	m.reset()
	msg = m.stamp()
	return saved.ID, nil
}

// ResumeResult reports the outcome of a resume. DiscountRemoved is set when
// the snapshot carried a discount that failed revalidation; the order still
// resumes, with totals recomputed without it.
type ResumeResult struct {
	Cart                domain.Cart
	DiscountRemoved     bool
	RemovedDiscountName string
}

// ResumeOrder restores a held order as the active cart. The pop is atomic
// with the read, so resume is single-use: a second attempt on the same id
// fails with not-found. An expired order is deleted as a side effect of the
// failed lookup.
func (m *Manager) ResumeOrder(ctx context.Context, id string, revalidate Revalidator) (ResumeResult, error) {
	order, err := m.store.PopHeldOrder(ctx, id)
	if err != nil {
		return ResumeResult{}, err
	}

	if time.Now().UTC().After(order.ExpiresAt) {
		return ResumeResult{}, fmt.Errorf("%w: held at %s", ErrOrderExpired, order.HeldAt.Format(time.RFC3339))
	}

	result := ResumeResult{}
	discount := order.Discount
	if discount != nil && revalidate != nil && !revalidate(ctx, *discount) {
		result.DiscountRemoved = true
		result.RemovedDiscountName = discount.Name
		discount = nil
	}

	var msg *broadcast.Message
	m.mu.Lock()
	defer func() { m.send(ctx, msg) }()
	defer m.mu.Unlock()

	m.cart = domain.Cart{
		Items:         cloneItems(order.Items),
		Discount:      discount,
		ResumedFromID: order.ID,
	}
	// Dropping a stale discount raises the total; recompute either way.
	m.recompute()
	msg = m.stamp()

	result.Cart = cloneCart(m.cart)
	return result, nil
}

// SweepExpiredOnce deletes every held order past its expiry.
func (m *Manager) SweepExpiredOnce(ctx context.Context) (int, error) {
	return m.store.DeleteExpiredHeldOrders(ctx, time.Now().UTC())
}

// RunExpirySweep loops the expiry sweep until ctx is cancelled.
func (m *Manager) RunExpirySweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := m.SweepExpiredOnce(ctx)
			if err != nil {
				m.log.WithError(err).Warn("cart: held order sweep failed")
				continue
			}
			if deleted > 0 {
				m.log.WithField("deleted", deleted).Info("cart: expired held orders removed")
			}
		}
	}
}

// PendingSyncCount is a read over sync status for the UI badge.
func (m *Manager) PendingSyncCount(ctx context.Context) (int, error) {
	return m.store.CountPendingSync(ctx)
}

func (m *Manager) dropItem(productID string) {
	items := m.cart.Items[:0]
	for _, item := range m.cart.Items {
		if item.ProductID != productID {
			items = append(items, item)
		}
	}
	m.cart.Items = items
}

func (m *Manager) reset() {
	m.cart = domain.Cart{}
	m.recompute()
}

// recompute refreshes every derived scalar. Caller holds mu.
func (m *Manager) recompute() {
	m.cart.Items = pricing.RecomputeItems(m.cart.Items)
	totals := pricing.CartTotals(m.cart.Items, m.cart.Discount, m.taxRate)
	if m.cart.Discount != nil {
		m.cart.Discount.Amount = totals.DiscountAmount
	}
	m.cart.Subtotal = totals.Subtotal
	m.cart.TotalPromoDiscount = totals.TotalPromoDiscount
	m.cart.DiscountAmount = totals.DiscountAmount
	m.cart.TaxAmount = totals.TaxAmount
	m.cart.Total = totals.Total
}

// stamp sequences the full cart for broadcast. Caller holds mu, so sequence
// order matches mutation order; the message is sent by send after mu is
// released, because a handler on the same bus may lock its own manager.
func (m *Manager) stamp() *broadcast.Message {
	msg, err := m.pub.NextState(broadcast.TopicCartSync, m.cart)
	if err != nil {
		m.log.WithError(err).Warn("cart: broadcast encode failed")
		return nil
	}
	return &msg
}

func (m *Manager) send(ctx context.Context, msg *broadcast.Message) {
	if msg == nil {
		return
	}
	if err := m.pub.Send(ctx, *msg); err != nil {
		m.log.WithError(err).Warn("cart: broadcast failed")
	}
}

func cloneCart(cart domain.Cart) domain.Cart {
	out := cart
	out.Items = cloneItems(cart.Items)
	out.Discount = cloneDiscount(cart.Discount)
	return out
}

func cloneDiscount(discount *domain.CartDiscount) *domain.CartDiscount {
	if discount == nil {
		return nil
	}
	copied := *discount
	return &copied
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
