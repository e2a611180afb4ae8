package store

import (
	"context"
	"errors"

	"github.com/thechillpixel0/tallyra/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStockConflict = errors.New("stock changed concurrently")
	ErrDuplicate     = errors.New("duplicate record")
)

// Repository is the persistence boundary. DecrementStock is a compare-and-set:
// it applies only when the stored quantity still equals expectedPrior and
// returns ErrStockConflict otherwise. The new quantity is floored at zero.
// RestockStock adds atomically and returns the quantities before and after.
// InsertTransaction returns ErrDuplicate for a reused id or idempotency key.
type Repository interface {
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)

	ListActiveItems(ctx context.Context, shopID string) ([]domain.Item, error)
	ListItems(ctx context.Context, shopID string) ([]domain.Item, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)

	DecrementStock(ctx context.Context, itemID string, by int, expectedPrior int) (int, error)
	AdjustStock(ctx context.Context, itemID string, newQuantity int) (int, error)
	RestockStock(ctx context.Context, itemID string, by int) (prior int, next int, err error)
	RecordInventoryMovement(ctx context.Context, movement domain.InventoryMovement) error
	ListInventoryMovements(ctx context.Context, itemID string, limit int) ([]domain.InventoryMovement, error)
	FindSaleMovement(ctx context.Context, transactionID string) (*domain.InventoryMovement, error)

	InsertTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	FindTransactionByIdempotencyKey(ctx context.Context, shopID string, key string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, shopID string, limit int) ([]domain.Transaction, error)

	CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error)
	ListStaff(ctx context.Context, shopID string) ([]domain.Staff, error)
	GetStaff(ctx context.Context, staffID string) (*domain.Staff, error)
	UpdateStaffActive(ctx context.Context, staffID string, active bool) (*domain.Staff, error)
}
