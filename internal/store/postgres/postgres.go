package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables. The schema is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// EnsureShop inserts the shop unless a row with the same id exists. It
// returns true when the shop was created.
func (s *Store) EnsureShop(ctx context.Context, shop domain.Shop) (bool, error) {
	if shop.ID == "" || shop.Name == "" || shop.MasterPasscodeHash == "" {
		return false, store.ErrInvalidInput
	}
	if shop.Currency == "" {
		shop.Currency = "INR"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, name, currency, master_passcode_hash, upi_id, upi_qr_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (id) DO NOTHING
	`, shop.ID, shop.Name, shop.Currency, shop.MasterPasscodeHash, nullIfEmpty(shop.UPIID), nullIfEmpty(shop.UPIQRURL))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	var shop domain.Shop
	var upiID, upiQR sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, currency, master_passcode_hash, upi_id, upi_qr_url, created_at
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&shop.ID, &shop.Name, &shop.Currency, &shop.MasterPasscodeHash, &upiID, &upiQR, &shop.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shop.UPIID = upiID.String
	shop.UPIQRURL = upiQR.String
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

const itemColumns = `id, shop_id, name, base_price, stock_quantity, min_stock_alert,
	max_discount_percentage, max_discount_fixed, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(
		&item.ID, &item.ShopID, &item.Name, &item.BasePrice, &item.StockQuantity, &item.MinStockAlert,
		&item.MaxDiscountPercentage, &item.MaxDiscountFixed, &item.Active, &item.CreatedAt, &item.UpdatedAt,
	)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

// ListActiveItems returns the sellable catalog in creation order, which is
// the order inference breaks ties in.
func (s *Store) ListActiveItems(ctx context.Context, shopID string) ([]domain.Item, error) {
	return s.listItems(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE shop_id = $1 AND is_active = true
		ORDER BY seq
	`, shopID)
}

func (s *Store) ListItems(ctx context.Context, shopID string) ([]domain.Item, error) {
	return s.listItems(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE shop_id = $1
		ORDER BY seq
	`, shopID)
}

func (s *Store) listItems(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1
	`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if err := validItem(item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = xid.New("item")
	}

	created, err := scanItem(s.db.QueryRowContext(ctx, `
		INSERT INTO items (
			id, shop_id, name, base_price, stock_quantity, min_stock_alert,
			max_discount_percentage, max_discount_fixed, is_active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
		RETURNING `+itemColumns,
		item.ID, item.ShopID, item.Name, item.BasePrice, item.StockQuantity, item.MinStockAlert,
		item.MaxDiscountPercentage, item.MaxDiscountFixed, item.Active,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &created, nil
}

// UpdateItem replaces descriptive and policy fields. Stock is only changed by
// DecrementStock and AdjustStock.
func (s *Store) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	if err := validItem(item); err != nil {
		return nil, err
	}

	updated, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, base_price = $3, min_stock_alert = $4,
			max_discount_percentage = $5, max_discount_fixed = $6, is_active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, item.Name, item.BasePrice, item.MinStockAlert,
		item.MaxDiscountPercentage, item.MaxDiscountFixed, item.Active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

// DecrementStock applies the decrement only if the row still holds
// expectedPrior. A miss is either a conflict or a missing item.
func (s *Store) DecrementStock(ctx context.Context, itemID string, by int, expectedPrior int) (int, error) {
	if by < 0 {
		return 0, store.ErrInvalidInput
	}

	var next int
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET stock_quantity = GREATEST(stock_quantity - $2, 0), updated_at = now()
		WHERE id = $1 AND stock_quantity = $3
		RETURNING stock_quantity
	`, itemID, by, expectedPrior).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}
	return 0, store.ErrStockConflict
}

func (s *Store) AdjustStock(ctx context.Context, itemID string, newQuantity int) (int, error) {
	if newQuantity < 0 {
		return 0, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var prior int
	err = pgTx.QueryRowContext(ctx, `
		SELECT stock_quantity
		FROM items
		WHERE id = $1
		FOR UPDATE
	`, itemID).Scan(&prior)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE items SET stock_quantity = $2, updated_at = now() WHERE id = $1
	`, itemID, newQuantity); err != nil {
		return 0, err
	}
	if err := pgTx.Commit(); err != nil {
		return 0, err
	}
	return prior, nil
}

// RestockStock adds by units in a single statement, so it composes with
// concurrent sales instead of overwriting them.
func (s *Store) RestockStock(ctx context.Context, itemID string, by int) (int, int, error) {
	if by < 1 {
		return 0, 0, store.ErrInvalidInput
	}

	var next int
	err := s.db.QueryRowContext(ctx, `
		UPDATE items
		SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock_quantity
	`, itemID, by).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	return next - by, next, nil
}

func (s *Store) RecordInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error {
	if movement.ItemID == "" || movement.MovementType == "" {
		return store.ErrInvalidInput
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, shop_id, item_id, transaction_id, movement_type,
			quantity_change, previous_quantity, new_quantity, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, movement.ID, movement.ShopID, movement.ItemID, nullIfEmpty(movement.TransactionID), string(movement.MovementType),
		movement.QuantityChange, movement.PreviousQuantity, movement.NewQuantity, nullIfEmpty(movement.Notes), movement.CreatedAt)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return err
}

const movementColumns = `id, shop_id, item_id, transaction_id, movement_type,
	quantity_change, previous_quantity, new_quantity, notes, created_at`

func scanMovement(row rowScanner) (domain.InventoryMovement, error) {
	var m domain.InventoryMovement
	var txID, notes sql.NullString
	var movementType string
	if err := row.Scan(&m.ID, &m.ShopID, &m.ItemID, &txID, &movementType,
		&m.QuantityChange, &m.PreviousQuantity, &m.NewQuantity, &notes, &m.CreatedAt); err != nil {
		return domain.InventoryMovement{}, err
	}
	m.TransactionID = txID.String
	m.Notes = notes.String
	m.MovementType = domain.MovementType(movementType)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *Store) ListInventoryMovements(ctx context.Context, itemID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE item_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) FindSaleMovement(ctx context.Context, transactionID string) (*domain.InventoryMovement, error) {
	m, err := scanMovement(s.db.QueryRowContext(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements
		WHERE transaction_id = $1 AND movement_type = 'SALE'
		ORDER BY created_at, id
		LIMIT 1
	`, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const transactionColumns = `id, shop_id, staff_id, entered_amount, inferred_item_id, item_name, quantity, base_price,
	discount_amount, discount_percentage, payment_mode, cash_received, change_amount,
	is_discount_override, is_credit_settled, notes, idempotency_key, created_at`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var staffID, itemID, notes, key sql.NullString
	var mode string
	var cash, change decimal.NullDecimal
	if err := row.Scan(&tx.ID, &tx.ShopID, &staffID, &tx.EnteredAmount, &itemID, &tx.ItemName, &tx.Quantity,
		&tx.BasePrice, &tx.DiscountAmount, &tx.DiscountPercentage, &mode, &cash, &change,
		&tx.IsDiscountOverride, &tx.IsCreditSettled, &notes, &key, &tx.CreatedAt); err != nil {
		return domain.Transaction{}, err
	}
	tx.StaffID = staffID.String
	tx.InferredItemID = itemID.String
	tx.Notes = notes.String
	tx.IdempotencyKey = key.String
	tx.PaymentMode = domain.PaymentMode(mode)
	if cash.Valid {
		v := cash.Decimal
		tx.CashReceived = &v
	}
	if change.Valid {
		v := change.Decimal
		tx.ChangeAmount = &v
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

// InsertTransaction returns store.ErrDuplicate when the shop already holds a
// transaction with the same id or idempotency key.
func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ShopID == "" || tx.PaymentMode == "" || !tx.EnteredAmount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, tx.ID, tx.ShopID, nullIfEmpty(tx.StaffID), tx.EnteredAmount, nullIfEmpty(tx.InferredItemID), tx.ItemName,
		tx.Quantity, tx.BasePrice, tx.DiscountAmount, tx.DiscountPercentage, string(tx.PaymentMode),
		nullDecimal(tx.CashReceived), nullDecimal(tx.ChangeAmount),
		tx.IsDiscountOverride, tx.IsCreditSettled, nullIfEmpty(tx.Notes), nullIfEmpty(tx.IdempotencyKey), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) FindTransactionByIdempotencyKey(ctx context.Context, shopID string, key string) (*domain.Transaction, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE shop_id = $1 AND idempotency_key = $2
	`, shopID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, shopID string, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE shop_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, shopID, limit)
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
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error) {
	staff.Name = strings.TrimSpace(staff.Name)
	if staff.ShopID == "" || staff.Name == "" || staff.PasscodeHash == "" {
		return nil, store.ErrInvalidInput
	}
	if staff.ID == "" {
		staff.ID = xid.New("staff")
	}
	if staff.CreatedAt.IsZero() {
		staff.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, shop_id, name, passcode_hash, phone, email, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, staff.ID, staff.ShopID, staff.Name, staff.PasscodeHash, nullIfEmpty(staff.Phone), nullIfEmpty(staff.Email),
		staff.Active, staff.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := staff
	return &created, nil
}

const staffColumns = `id, shop_id, name, passcode_hash, phone, email, is_active, created_at`

func scanStaff(row rowScanner) (domain.Staff, error) {
	var member domain.Staff
	var phone, email sql.NullString
	err := row.Scan(&member.ID, &member.ShopID, &member.Name, &member.PasscodeHash, &phone, &email, &member.Active, &member.CreatedAt)
	member.Phone = phone.String
	member.Email = email.String
	member.CreatedAt = member.CreatedAt.UTC()
	return member, err
}

func (s *Store) ListStaff(ctx context.Context, shopID string) ([]domain.Staff, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+staffColumns+`
		FROM staff
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.Staff, 0, 16)
	for rows.Next() {
		member, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *Store) GetStaff(ctx context.Context, staffID string) (*domain.Staff, error) {
	member, err := scanStaff(s.db.QueryRowContext(ctx, `
		SELECT `+staffColumns+`
		FROM staff
		WHERE id = $1
	`, staffID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (s *Store) UpdateStaffActive(ctx context.Context, staffID string, active bool) (*domain.Staff, error) {
	member, err := scanStaff(s.db.QueryRowContext(ctx, `
		UPDATE staff
		SET is_active = $2
		WHERE id = $1
		RETURNING `+staffColumns,
		staffID, active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &member, nil
}

func validItem(item domain.Item) error {
	if item.ShopID == "" && item.ID == "" {
		return store.ErrInvalidInput
	}
	if strings.TrimSpace(item.Name) == "" || item.BasePrice.IsNegative() {
		return store.ErrInvalidInput
	}
	if item.StockQuantity < 0 || item.MinStockAlert < 0 || item.MaxDiscountFixed.IsNegative() {
		return store.ErrInvalidInput
	}
	if item.MaxDiscountPercentage.IsNegative() || item.MaxDiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrInvalidInput
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}
