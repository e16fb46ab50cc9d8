// Package maps wraps the geocoding/directions providers used by the
// map-route overlay. The core status logic never depends on it; a missing
// result is nil, not an error.
package maps

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Polyline is a decoded route geometry.
type Polyline []models.Coord

// Service is the interface the overlay consumes.
type Service interface {
	// Geocode resolves an address; (nil, nil) means no result.
	Geocode(ctx context.Context, address string) (*models.Coord, error)
	// Route computes a polyline through coords in order; (nil, nil) means
	// no route found.
	Route(ctx context.Context, coords []models.Coord) (Polyline, error)
}

// Cached wraps a Service with a TTL cache over geocode lookups; addresses
// repeat constantly (pickup points, depots) and provider calls are billed.
type Cached struct {
	inner Service
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	coord *models.Coord
	ts    time.Time
}

func NewCached(inner Service, ttl time.Duration) *Cached {
	return &Cached{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *Cached) Geocode(ctx context.Context, address string) (*models.Coord, error) {
	key := strings.ToLower(strings.TrimSpace(address))
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.coord, nil
	}
	coord, err := c.inner.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store[key] = cacheEntry{coord: coord, ts: time.Now()}
	c.mu.Unlock()
	return coord, nil
}

func (c *Cached) Route(ctx context.Context, coords []models.Coord) (Polyline, error) {
	return c.inner.Route(ctx, coords)
}
