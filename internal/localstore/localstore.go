// Package localstore defines the terminal-local persistent store consumed by
// the cart and shift managers. Implementations must make PopHeldOrder an
// atomic read+delete so resume stays single-use, and DecrementStock a
// compare-and-swap on the record version.
package localstore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Store interface {
	// Held orders. PopHeldOrder deletes the record in the same operation as
	// the read; a second pop of the same id returns ErrNotFound.
	CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error)
	GetHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error)
	ListHeldOrders(ctx context.Context, storeID string, cashierID string, limit int) ([]domain.HeldOrder, error)
	PopHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error)
	DeleteHeldOrder(ctx context.Context, id string) error
	DeleteExpiredHeldOrders(ctx context.Context, now time.Time) (int, error)

	// Shifts. SaveShift upserts by id.
	SaveShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error)
	ListShiftsBySyncStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.Shift, error)
	UpdateShiftSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error

	// Transactions.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactionsBySyncStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.Transaction, error)
	UpdateTransactionSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error
	CountPendingSync(ctx context.Context) (int, error)
	CashSalesForShift(ctx context.Context, shiftID string) (decimal.Decimal, error)

	// Stock. DecrementStock succeeds only when the caller's version matches
	// the stored one; on mismatch it returns ErrVersionConflict and the
	// caller re-reads and retries.
	GetStock(ctx context.Context, productID string) (*domain.StockLevel, error)
	SetStock(ctx context.Context, productID string, qty int) error
	DecrementStock(ctx context.Context, productID string, qty int, version int64) error

	// Catalog and discounts.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
	GetDiscount(ctx context.Context, id string) (*domain.DiscountRecord, error)
	UpsertDiscount(ctx context.Context, discount domain.DiscountRecord) error
}
