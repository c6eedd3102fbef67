package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus tracks whether a locally written record has been confirmed by
// the back-office server.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoFixed      PromoType = "fixed"
)

// Promo is a product-level, quantity-gated automatic discount. A nil *Promo
// on a CartItem or Product means no promo; the type/value/minimum-quantity
// fields are never individually optional.
type Promo struct {
	Type   PromoType       `json:"type"`
	Value  decimal.Decimal `json:"value"`
	MinQty int             `json:"min_qty"`
}

// ItemDiscount is a cart-level discount attached to a single line.
type ItemDiscount struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// CartItem is one product line in the active cart. PromoDiscount and
// Subtotal are derived by the pricing engine on every mutation and carried
// so redisplay never re-derives with floating drift.
type CartItem struct {
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Discount      *ItemDiscount   `json:"discount,omitempty"`
	Promo         *Promo          `json:"promo,omitempty"`
	PromoDiscount decimal.Decimal `json:"promo_discount"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

// CartDiscount is the single cart-wide discount code slot. Identity is by
// ID; revalidation re-checks the ID against the discount record, not the
// cached Amount.
type CartDiscount struct {
	ID     string          `json:"id"`
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Type   PromoType       `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

// Cart is the aggregate owned by the cart manager. Item order is insertion
// order. All monetary scalars are rounded to two decimals after every
// derivation.
type Cart struct {
	Items              []CartItem      `json:"items"`
	Discount           *CartDiscount   `json:"discount,omitempty"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	Total              decimal.Decimal `json:"total"`
	TotalPromoDiscount decimal.Decimal `json:"total_promo_discount"`
	ResumedFromID      string          `json:"resumed_from_id,omitempty"`
}

// HeldOrder is a frozen snapshot of a Cart. Immutable once created: resume
// deletes it after reading, it is never mutated in place.
type HeldOrder struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CashierID      string          `json:"cashier_id"`
	CustomerName   string          `json:"customer_name,omitempty"`
	Note           string          `json:"note,omitempty"`
	Items          []CartItem      `json:"items"`
	Discount       *CartDiscount   `json:"cart_discount,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	HeldAt         time.Time       `json:"held_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

type ShiftStatus string

const (
	ShiftActive    ShiftStatus = "ACTIVE"
	ShiftClosed    ShiftStatus = "CLOSED"
	ShiftSuspended ShiftStatus = "SUSPENDED"
)

// SupervisorApproval records who signed off an over-threshold cash variance.
type SupervisorApproval struct {
	SupervisorID string    `json:"supervisor_id"`
	ApprovedAt   time.Time `json:"approved_at"`
}

// Shift is one cashier's accountable cash-handling session at a terminal.
type Shift struct {
	ID           string              `json:"id"`
	StoreID      string              `json:"store_id"`
	CashierID    string              `json:"cashier_id"`
	Status       ShiftStatus         `json:"status"`
	OpeningFloat decimal.Decimal     `json:"opening_float"`
	OpeningNote  string              `json:"opening_note,omitempty"`
	OpenedAt     time.Time           `json:"opened_at"`
	EndingCash   decimal.Decimal     `json:"ending_cash"`
	ClosingNote  string              `json:"closing_note,omitempty"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
	Variance     decimal.Decimal     `json:"variance"`
	Approval     *SupervisorApproval `json:"supervisor_approval,omitempty"`
	SyncStatus   SyncStatus          `json:"sync_status"`
}

// Transaction is a completed sale written locally first and confirmed by the
// server opportunistically.
type Transaction struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	CashierID      string          `json:"cashier_id"`
	ShiftID        string          `json:"shift_id"`
	Items          []CartItem      `json:"items"`
	Discount       *CartDiscount   `json:"cart_discount,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Change         decimal.Decimal `json:"change"`
	CreatedAt      time.Time       `json:"created_at"`
	SyncStatus     SyncStatus      `json:"sync_status"`
}

// Product is the local catalog record the cart builds lines from.
type Product struct {
	ID     string          `json:"id"`
	SKU    string          `json:"sku"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Promo  *Promo          `json:"promo,omitempty"`
	Active bool            `json:"active"`
}

// StockLevel carries a version counter so decrements can be compare-and-swap
// instead of blind read-then-write.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Version   int64  `json:"version"`
}

// DiscountRecord is the local copy of a discount code's rules, used to
// revalidate a held order's cached discount on resume.
type DiscountRecord struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	Type       PromoType       `json:"type"`
	Value      decimal.Decimal `json:"value"`
	Active     bool            `json:"active"`
	StartsAt   *time.Time      `json:"starts_at,omitempty"`
	EndsAt     *time.Time      `json:"ends_at,omitempty"`
	UsageLimit int             `json:"usage_limit"`
	UsedCount  int             `json:"used_count"`
}

// DayCloseSummary is the server's end-of-day result for one store/date.
type DayCloseSummary struct {
	StoreID         string          `json:"store_id"`
	Date            string          `json:"date"`
	Transactions    int64           `json:"transactions"`
	GrossSales      decimal.Decimal `json:"gross_sales"`
	DiscountTotal   decimal.Decimal `json:"discount_total"`
	TaxTotal        decimal.Decimal `json:"tax_total"`
	NetSales        decimal.Decimal `json:"net_sales"`
	ClosedShiftIDs  []string        `json:"closed_shift_ids,omitempty"`
	PendingSyncLeft int             `json:"pending_sync_left"`
}
