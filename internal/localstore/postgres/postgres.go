// Package postgres backs the terminal-local store with an embedded Postgres
// instance. Cart line snapshots and approval records are stored as JSONB so
// held orders and transactions survive restarts byte-for-byte; monetary
// columns are NUMERIC scanned straight into decimals.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"warungpos/terminal/internal/domain"
	"warungpos/terminal/internal/localstore"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS held_orders (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			items JSONB NOT NULL,
			cart_discount JSONB,
			subtotal NUMERIC(14,2) NOT NULL,
			discount_amount NUMERIC(14,2) NOT NULL,
			tax_amount NUMERIC(14,2) NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			held_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			status TEXT NOT NULL,
			opening_float NUMERIC(14,2) NOT NULL,
			opening_note TEXT NOT NULL DEFAULT '',
			opened_at TIMESTAMPTZ NOT NULL,
			ending_cash NUMERIC(14,2) NOT NULL DEFAULT 0,
			closing_note TEXT NOT NULL DEFAULT '',
			closed_at TIMESTAMPTZ,
			variance NUMERIC(14,2) NOT NULL DEFAULT 0,
			approval JSONB,
			sync_status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			store_id TEXT NOT NULL,
			cashier_id TEXT NOT NULL,
			shift_id TEXT NOT NULL DEFAULT '',
			items JSONB NOT NULL,
			cart_discount JSONB,
			subtotal NUMERIC(14,2) NOT NULL,
			discount_amount NUMERIC(14,2) NOT NULL,
			tax_amount NUMERIC(14,2) NOT NULL,
			total NUMERIC(14,2) NOT NULL,
			payment_method TEXT NOT NULL,
			cash_received NUMERIC(14,2) NOT NULL DEFAULT 0,
			change NUMERIC(14,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			sync_status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS stock_levels (
			product_id TEXT PRIMARY KEY,
			qty INT NOT NULL,
			version BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(14,2) NOT NULL,
			promo JSONB,
			active BOOLEAN NOT NULL DEFAULT true
		);
		CREATE TABLE IF NOT EXISTS discounts (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			value NUMERIC(14,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			starts_at TIMESTAMPTZ,
			ends_at TIMESTAMPTZ,
			usage_limit INT NOT NULL DEFAULT 0,
			used_count INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_held_orders_store ON held_orders (store_id, cashier_id, held_at);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_shifts_one_active
			ON shifts (store_id, cashier_id) WHERE status = 'ACTIVE';
		CREATE INDEX IF NOT EXISTS idx_shifts_sync ON shifts (sync_status);
		CREATE INDEX IF NOT EXISTS idx_transactions_sync ON transactions (sync_status);
		CREATE INDEX IF NOT EXISTS idx_transactions_shift ON transactions (shift_id);
	`)
	return err
}

func (s *Store) CreateHeldOrder(ctx context.Context, order domain.HeldOrder) (*domain.HeldOrder, error) {
	if order.ID == "" || len(order.Items) == 0 {
		return nil, localstore.ErrInvalidRecord
	}

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	discount, err := marshalNullable(order.Discount)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_orders (
			id, store_id, cashier_id, customer_name, note, items, cart_discount,
			subtotal, discount_amount, tax_amount, total, held_at, expires_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, order.ID, order.StoreID, order.CashierID, order.CustomerName, order.Note, items, discount,
		order.Subtotal, order.DiscountAmount, order.TaxAmount, order.Total, order.HeldAt, order.ExpiresAt)
	if err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

const heldOrderColumns = `
	id, store_id, cashier_id, customer_name, note, items, cart_discount,
	subtotal, discount_amount, tax_amount, total, held_at, expires_at
`

func (s *Store) GetHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+heldOrderColumns+`
		FROM held_orders
		WHERE id = $1
	`, id)
	return scanHeldOrder(row)
}

func (s *Store) ListHeldOrders(ctx context.Context, storeID string, cashierID string, limit int) ([]domain.HeldOrder, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+heldOrderColumns+`
		FROM held_orders
		WHERE store_id = $1 AND ($2 = '' OR cashier_id = $2)
		ORDER BY held_at DESC
		LIMIT $3
	`, storeID, cashierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.HeldOrder, 0, limit)
	for rows.Next() {
		order, err := scanHeldOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// PopHeldOrder relies on DELETE ... RETURNING so the read and the delete are
// one statement; concurrent resumes of the same id leave exactly one winner.
func (s *Store) PopHeldOrder(ctx context.Context, id string) (*domain.HeldOrder, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM held_orders
		WHERE id = $1
		RETURNING `+heldOrderColumns+`
	`, id)
	return scanHeldOrder(row)
}

func (s *Store) DeleteHeldOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredHeldOrders(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM held_orders WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) SaveShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.ID == "" || shift.StoreID == "" || shift.CashierID == "" {
		return nil, localstore.ErrInvalidRecord
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	if shift.SyncStatus == "" {
		shift.SyncStatus = domain.SyncPending
	}

	approval, err := marshalNullable(shift.Approval)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, store_id, cashier_id, status, opening_float, opening_note, opened_at,
			ending_cash, closing_note, closed_at, variance, approval, sync_status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			opening_float = EXCLUDED.opening_float,
			opening_note = EXCLUDED.opening_note,
			ending_cash = EXCLUDED.ending_cash,
			closing_note = EXCLUDED.closing_note,
			closed_at = EXCLUDED.closed_at,
			variance = EXCLUDED.variance,
			approval = EXCLUDED.approval,
			sync_status = EXCLUDED.sync_status
	`, shift.ID, shift.StoreID, shift.CashierID, shift.Status, shift.OpeningFloat, shift.OpeningNote,
		shift.OpenedAt, shift.EndingCash, shift.ClosingNote, nullTime(shift.ClosedAt), shift.Variance,
		approval, shift.SyncStatus)
	if err != nil {
		// The partial unique index on (store_id, cashier_id) WHERE ACTIVE
		// rejects a second active shift for the same cashier, like the
		// memory store does.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, localstore.ErrInvalidRecord
		}
		return nil, err
	}

	saved := shift
	return &saved, nil
}

const shiftColumns = `
	id, store_id, cashier_id, status, opening_float, opening_note, opened_at,
	ending_cash, closing_note, closed_at, variance, approval, sync_status
`

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1
	`, id)
	return scanShift(row)
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, cashierID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND cashier_id = $2 AND status = $3
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, cashierID, domain.ShiftActive)
	return scanShift(row)
}

func (s *Store) ListShiftsBySyncStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.Shift, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE sync_status = $1
		ORDER BY opened_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, limit)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

func (s *Store) UpdateShiftSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shifts SET sync_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || len(tx.Items) == 0 {
		return nil, localstore.ErrInvalidRecord
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.SyncStatus == "" {
		tx.SyncStatus = domain.SyncPending
	}

	items, err := json.Marshal(tx.Items)
	if err != nil {
		return nil, err
	}
	discount, err := marshalNullable(tx.Discount)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, store_id, cashier_id, shift_id, items, cart_discount,
			subtotal, discount_amount, tax_amount, total,
			payment_method, cash_received, change, created_at, sync_status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, tx.ID, tx.StoreID, tx.CashierID, tx.ShiftID, items, discount,
		tx.Subtotal, tx.DiscountAmount, tx.TaxAmount, tx.Total,
		tx.PaymentMethod, tx.CashReceived, tx.Change, tx.CreatedAt, tx.SyncStatus)
	if err != nil {
		return nil, err
	}

	created := tx
	return &created, nil
}

const transactionColumns = `
	id, store_id, cashier_id, shift_id, items, cart_discount,
	subtotal, discount_amount, tax_amount, total,
	payment_method, cash_received, change, created_at, sync_status
`

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (s *Store) ListTransactionsBySyncStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE sync_status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) UpdateTransactionSyncStatus(ctx context.Context, id string, status domain.SyncStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET sync_status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return localstore.ErrNotFound
	}
	return nil
}

func (s *Store) CountPendingSync(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions WHERE sync_status = $1) +
			(SELECT COUNT(*) FROM shifts WHERE sync_status = $1)
	`, domain.SyncPending).Scan(&count)
	return count, err
}

func (s *Store) CashSalesForShift(ctx context.Context, shiftID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM transactions
		WHERE shift_id = $1 AND payment_method = 'cash'
	`, shiftID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	var level domain.StockLevel
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, qty, version
		FROM stock_levels
		WHERE product_id = $1
	`, productID).Scan(&level.ProductID, &level.Quantity, &level.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	return &level, nil
}

func (s *Store) SetStock(ctx context.Context, productID string, qty int) error {
	if productID == "" || qty < 0 {
		return localstore.ErrInvalidRecord
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_levels (product_id, qty, version)
		VALUES ($1,$2,0)
		ON CONFLICT (product_id)
		DO UPDATE SET qty = EXCLUDED.qty, version = stock_levels.version + 1
	`, productID, qty)
	return err
}

// DecrementStock guards the write with the caller's version; a concurrent
// decrement bumps the version and the conditional UPDATE matches nothing,
// which is reported as a version conflict for the caller to retry.
func (s *Store) DecrementStock(ctx context.Context, productID string, qty int, version int64) error {
	if productID == "" || qty < 1 {
		return localstore.ErrInvalidRecord
	}

	var current domain.StockLevel
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, qty, version
		FROM stock_levels
		WHERE product_id = $1
	`, productID).Scan(&current.ProductID, &current.Quantity, &current.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return localstore.ErrNotFound
		}
		return err
	}
	if current.Version != version {
		return localstore.ErrVersionConflict
	}
	if current.Quantity < qty {
		return localstore.ErrInsufficientStock
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_levels
		SET qty = qty - $2, version = version + 1
		WHERE product_id = $1 AND version = $3 AND qty >= $2
	`, productID, qty, version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return localstore.ErrVersionConflict
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	var promo []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, price, promo, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.SKU, &product.Name, &product.Price, &promo, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	if len(promo) > 0 {
		var p domain.Promo
		if err := json.Unmarshal(promo, &p); err != nil {
			return nil, localstore.ErrInvalidRecord
		}
		product.Promo = &p
	}
	return &product, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" {
		return localstore.ErrInvalidRecord
	}

	promo, err := marshalNullable(product.Promo)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price, promo, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			promo = EXCLUDED.promo,
			active = EXCLUDED.active
	`, product.ID, product.SKU, product.Name, product.Price, promo, product.Active)
	return err
}

func (s *Store) GetDiscount(ctx context.Context, id string) (*domain.DiscountRecord, error) {
	var record domain.DiscountRecord
	var startsAt, endsAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, type, value, active, starts_at, ends_at, usage_limit, used_count
		FROM discounts
		WHERE id = $1
	`, id).Scan(&record.ID, &record.Code, &record.Name, &record.Type, &record.Value,
		&record.Active, &startsAt, &endsAt, &record.UsageLimit, &record.UsedCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	if startsAt.Valid {
		at := startsAt.Time.UTC()
		record.StartsAt = &at
	}
	if endsAt.Valid {
		at := endsAt.Time.UTC()
		record.EndsAt = &at
	}
	return &record, nil
}

func (s *Store) UpsertDiscount(ctx context.Context, discount domain.DiscountRecord) error {
	if discount.ID == "" || discount.Code == "" {
		return localstore.ErrInvalidRecord
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts (id, code, name, type, value, active, starts_at, ends_at, usage_limit, used_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			active = EXCLUDED.active,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			usage_limit = EXCLUDED.usage_limit,
			used_count = EXCLUDED.used_count
	`, discount.ID, discount.Code, discount.Name, discount.Type, discount.Value,
		discount.Active, nullTime(discount.StartsAt), nullTime(discount.EndsAt),
		discount.UsageLimit, discount.UsedCount)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeldOrder(row rowScanner) (*domain.HeldOrder, error) {
	var order domain.HeldOrder
	var items, discount []byte
	err := row.Scan(&order.ID, &order.StoreID, &order.CashierID, &order.CustomerName, &order.Note,
		&items, &discount, &order.Subtotal, &order.DiscountAmount, &order.TaxAmount, &order.Total,
		&order.HeldAt, &order.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, localstore.ErrInvalidRecord
	}
	if len(discount) > 0 {
		var d domain.CartDiscount
		if err := json.Unmarshal(discount, &d); err != nil {
			return nil, localstore.ErrInvalidRecord
		}
		order.Discount = &d
	}
	order.HeldAt = order.HeldAt.UTC()
	order.ExpiresAt = order.ExpiresAt.UTC()
	return &order, nil
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	var approval []byte
	err := row.Scan(&shift.ID, &shift.StoreID, &shift.CashierID, &shift.Status,
		&shift.OpeningFloat, &shift.OpeningNote, &shift.OpenedAt,
		&shift.EndingCash, &shift.ClosingNote, &closedAt, &shift.Variance,
		&approval, &shift.SyncStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	if len(approval) > 0 {
		var a domain.SupervisorApproval
		if err := json.Unmarshal(approval, &a); err != nil {
			return nil, localstore.ErrInvalidRecord
		}
		shift.Approval = &a
	}
	return &shift, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var items, discount []byte
	err := row.Scan(&tx.ID, &tx.StoreID, &tx.CashierID, &tx.ShiftID, &items, &discount,
		&tx.Subtotal, &tx.DiscountAmount, &tx.TaxAmount, &tx.Total,
		&tx.PaymentMethod, &tx.CashReceived, &tx.Change, &tx.CreatedAt, &tx.SyncStatus)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, localstore.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &tx.Items); err != nil {
		return nil, localstore.ErrInvalidRecord
	}
	if len(discount) > 0 {
		var d domain.CartDiscount
		if err := json.Unmarshal(discount, &d); err != nil {
			return nil, localstore.ErrInvalidRecord
		}
		tx.Discount = &d
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}
