package persistence

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/webitel/im-delivery-service/internal/domain/notification"
)

const snapshotCacheTTL = 5 * time.Second

// CachedStore wraps a Store with a short-lived cache over
// CountSnapshot, the hottest read on the initial-state handshake path.
// A singleflight group collapses concurrent cache misses for the same
// user into a single underlying query, so a burst of reconnects for one
// user never fans out into a burst of identical database reads.
type CachedStore struct {
	Store
	cache *expirable.LRU[string, notification.CountSnapshot]
	group singleflight.Group
}

// NewCachedStore wraps store with an in-memory notification-count cache.
func NewCachedStore(store Store, size int) *CachedStore {
	return &CachedStore{
		Store: store,
		cache: expirable.NewLRU[string, notification.CountSnapshot](size, nil, snapshotCacheTTL),
	}
}

func (c *CachedStore) CountSnapshot(ctx context.Context, userID string) (notification.CountSnapshot, error) {
	if snap, ok := c.cache.Get(userID); ok {
		return snap, nil
	}

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		snap, err := c.Store.CountSnapshot(ctx, userID)
		if err != nil {
			return notification.CountSnapshot{}, err
		}
		c.cache.Add(userID, snap)
		return snap, nil
	})
	if err != nil {
		return notification.CountSnapshot{}, err
	}
	return v.(notification.CountSnapshot), nil
}

// InvalidateUser evicts userID's cached snapshot, letting a caller that
// knows which user a status/read transition belongs to force a fresh
// read on the next snapshot request instead of waiting out the TTL.
func (c *CachedStore) InvalidateUser(userID string) {
	c.cache.Remove(userID)
}
