// Package reconcile keeps a client-side projection of a keyed entity set
// consistent with the store across three overlapping inputs: an initial
// snapshot fetch, optimistic local edits, and streamed change events.
// The projection is owned by one observer and needs no external locking;
// the store row stays the only source of truth.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/feed"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateSynced   State = "synced"
)

// Snapshot fetches the full entity set for the subscription's filter.
// It must honor ctx cancellation.
type Snapshot[T any] func(ctx context.Context) ([]T, error)

// Reconciler merges snapshots and events into one projection keyed by
// entity id. Events win by arrival order per key (last write wins); a
// snapshot only lands if no teardown or newer fetch superseded it.
type Reconciler[T any] struct {
	mu        sync.Mutex
	key       func(T) int64
	fromEvent func(feed.Event) (T, bool)
	items     map[int64]T
	state     State
	gen       int64
	onChange  func()
}

func New[T any](key func(T) int64, fromEvent func(feed.Event) (T, bool)) *Reconciler[T] {
	return &Reconciler[T]{
		key:       key,
		fromEvent: fromEvent,
		items:     make(map[int64]T),
		state:     StateIdle,
	}
}

// OnChange registers a callback fired (holding no locks) after every applied
// change. The marker renderer hangs off this.
func (r *Reconciler[T]) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Reconciler[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// BeginFetch marks the projection as fetching and returns the generation
// token the eventual result must present. Any teardown or later BeginFetch
// invalidates the token, which is what discards late-arriving snapshots.
func (r *Reconciler[T]) BeginFetch() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.state = StateFetching
	return r.gen
}

// CompleteFetch installs a snapshot if gen is still current. Events applied
// while the fetch was in flight are not replayed; the next event for any
// row the snapshot regressed will converge it (per-key LWW by arrival).
func (r *Reconciler[T]) CompleteFetch(gen int64, items []T) bool {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false
	}
	next := make(map[int64]T, len(items))
	for _, it := range items {
		next[r.key(it)] = it
	}
	r.items = next
	r.state = StateSynced
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Apply folds one change event into the projection. Inserts and updates are
// the same upsert, so duplicate delivery is harmless.
func (r *Reconciler[T]) Apply(e feed.Event) {
	switch e.Op {
	case feed.OpInsert, feed.OpUpdate:
		it, ok := r.fromEvent(e)
		if !ok {
			return
		}
		r.upsert(r.key(it), it)
	case feed.OpDelete:
		r.remove(e.Key)
	default:
		return
	}
	observability.FeedEventsApplied.WithLabelValues(e.Topic).Inc()
}

// ApplyLocal records an optimistic local edit. It takes the same upsert path
// as a streamed event: the echoed event for this write will confirm or
// overwrite it, which is what makes all observers converge.
func (r *Reconciler[T]) ApplyLocal(item T) {
	r.upsert(r.key(item), item)
}

func (r *Reconciler[T]) upsert(key int64, item T) {
	r.mu.Lock()
	r.items[key] = item
	r.state = StateSynced
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Reconciler[T]) remove(key int64) {
	r.mu.Lock()
	delete(r.items, key)
	r.state = StateSynced
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Teardown invalidates any in-flight fetch and clears the projection.
func (r *Reconciler[T]) Teardown() {
	r.mu.Lock()
	r.gen++
	r.items = make(map[int64]T)
	r.state = StateIdle
	r.mu.Unlock()
}

func (r *Reconciler[T]) Get(key int64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[key]
	return it, ok
}

func (r *Reconciler[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Items returns the projection sorted by key for stable iteration.
func (r *Reconciler[T]) Items() []T {
	r.mu.Lock()
	keys := make([]int64, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.items[k])
	}
	r.mu.Unlock()
	return out
}

// Run drives the full subscription lifecycle: subscribe, fetch, apply
// events, and on a dropped feed resubscribe and refetch to close the gap
// (no resume-from-offset is assumed). It returns when ctx is done.
func (r *Reconciler[T]) Run(ctx context.Context, f feed.Feed, topic string, filter feed.Filter, fetch Snapshot[T]) error {
	defer r.Teardown()
	for {
		sub, err := f.Subscribe(topic, filter)
		if err != nil {
			return err
		}

		gen := r.BeginFetch()
		fetchCtx, cancelFetch := context.WithCancel(ctx)
		go func() {
			items, err := fetch(fetchCtx)
			if err != nil {
				return // cancelled or failed; the projection keeps its state
			}
			r.CompleteFetch(gen, items)
		}()

		again, err := r.consume(ctx, sub)
		cancelFetch()
		sub.Close()
		if !again {
			return err
		}
	}
}

func (r *Reconciler[T]) consume(ctx context.Context, sub *feed.Subscription) (resubscribe bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case e, ok := <-sub.Events:
			if !ok {
				// feed dropped us; caller resubscribes and refetches
				return true, nil
			}
			r.Apply(e)
		}
	}
}

// BookingFromEvent adapts booking-topic events for a Reconciler[models.Booking].
func BookingFromEvent(e feed.Event) (models.Booking, bool) {
	if e.Booking == nil {
		return models.Booking{}, false
	}
	return *e.Booking, true
}

// DriverFromEvent adapts driver-topic events for a Reconciler[models.Driver].
func DriverFromEvent(e feed.Event) (models.Driver, bool) {
	if e.Driver == nil {
		return models.Driver{}, false
	}
	return *e.Driver, true
}

// NewBookings builds the projection used by the admin booking list and the
// public status page.
func NewBookings() *Reconciler[models.Booking] {
	return New(func(b models.Booking) int64 { return b.ID }, BookingFromEvent)
}

// NewDrivers builds the projection behind the live map.
func NewDrivers() *Reconciler[models.Driver] {
	return New(func(d models.Driver) int64 { return d.ID }, DriverFromEvent)
}
