package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/thechillpixel0/tallyra/internal/domain"
)

// catalogVersion is bumped whenever domain.Item changes shape; entries
// written under another version read as a miss.
const catalogVersion = 1

const defaultCatalogTTL = time.Minute

type catalogEntry struct {
	Version  int           `json:"v"`
	CachedAt time.Time     `json:"cached_at"`
	Items    []domain.Item `json:"items"`
}

// RedisCatalogCache stores each shop's active catalog as one JSON value.
type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	return &RedisCatalogCache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

// GetCatalog reports a miss for absent, stale or unreadable entries. The
// latter two are evicted so the next write starts clean.
func (c *RedisCatalogCache) GetCatalog(ctx context.Context, shopID string) ([]domain.Item, bool, error) {
	key := catalogKey(shopID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read catalog %s: %w", shopID, err)
	}

	var entry catalogEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Version != catalogVersion {
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			return nil, false, fmt.Errorf("evict catalog %s: %w", shopID, delErr)
		}
		return nil, false, nil
	}
	return entry.Items, true, nil
}

// SetCatalog caches items, including an empty catalog. A non-positive ttl
// falls back to one minute so entries never live forever.
func (c *RedisCatalogCache) SetCatalog(ctx context.Context, shopID string, items []domain.Item, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultCatalogTTL
	}
	if items == nil {
		items = []domain.Item{}
	}
	payload, err := json.Marshal(catalogEntry{Version: catalogVersion, CachedAt: time.Now().UTC(), Items: items})
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, catalogKey(shopID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("write catalog %s: %w", shopID, err)
	}
	return nil
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, shopID string) error {
	return c.client.Del(ctx, catalogKey(shopID)).Err()
}
