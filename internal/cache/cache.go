package cache

import (
	"context"
	"time"

	"github.com/thechillpixel0/tallyra/internal/domain"
)

// CatalogCache holds a shop's active item list in catalog order.
type CatalogCache interface {
	GetCatalog(ctx context.Context, shopID string) ([]domain.Item, bool, error)
	SetCatalog(ctx context.Context, shopID string, items []domain.Item, ttl time.Duration) error
	Invalidate(ctx context.Context, shopID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetCatalog(_ context.Context, _ string) ([]domain.Item, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetCatalog(_ context.Context, _ string, _ []domain.Item, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func catalogKey(shopID string) string {
	return "tallyra:catalog:" + shopID
}
