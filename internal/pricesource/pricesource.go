// Package pricesource is the single entry point for current price data.
// A Source returns a PriceSnapshot for a product ID or ErrUnavailable;
// callers treat unavailability as a normal outcome, never as something to
// recover from beyond trying again on a later tick.
package pricesource

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pricewatch/internal/model"
)

// ErrUnavailable covers every upstream failure mode: timeout, non-success
// status, malformed response, missing required fields.
var ErrUnavailable = errors.New("price data unavailable")

type Source interface {
	PriceData(ctx context.Context, productID string) (model.PriceSnapshot, error)
}

type cacheEntry struct {
	snapshot  model.PriceSnapshot
	fetchedAt time.Time
}

// Cache wraps a Source with a fixed-TTL in-memory cache keyed by product ID.
// Entries are shared across all chats tracking the same product, so many
// watches on one product cost one upstream call per TTL window.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

const DefaultCacheTTL = 5 * time.Minute

func NewCache(src Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cacheEntry{},
	}
}

func (c *Cache) PriceData(ctx context.Context, productID string) (model.PriceSnapshot, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[productID]
	c.mu.Unlock()
	if ok && now.Sub(e.fetchedAt) < c.ttl {
		return e.snapshot, nil
	}

	snap, err := c.src.PriceData(ctx, productID)
	if err != nil {
		// Failures are not cached; the next caller retries upstream.
		return model.PriceSnapshot{}, err
	}

	c.mu.Lock()
	c.entries[productID] = cacheEntry{snapshot: snap, fetchedAt: now}
	c.mu.Unlock()
	return snap, nil
}
