// Package markers keeps a side-effecting rendered collection (map markers,
// or any set of external objects) in sync with a changing keyed data set,
// issuing only the create/move/tag/remove operations that are actually
// needed. Unchanged markers keep their handle, so a visual client keeps
// animation and selection state across updates.
package markers

import (
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Handle is whatever the renderer uses to address one rendered object.
type Handle any

// Renderer is the side-effecting target. Implementations wrap a map widget,
// a websocket client, or anything else that mirrors the keyed set.
type Renderer interface {
	Create(key int64, pos models.Coord, tag string) Handle
	Move(h Handle, pos models.Coord)
	SetTag(h Handle, tag string)
	Remove(h Handle)
}

type entry struct {
	handle Handle
	pos    models.Coord
	tag    string
}

// Sync diffs successive snapshots of a keyed set against the rendered
// collection. Item access goes through the three accessor funcs so the same
// reconciliation works for any element type.
type Sync[T any] struct {
	r       Renderer
	key     func(T) int64
	pos     func(T) *models.Coord
	tag     func(T) string
	entries map[int64]entry
}

func New[T any](r Renderer, key func(T) int64, pos func(T) *models.Coord, tag func(T) string) *Sync[T] {
	return &Sync[T]{
		r:       r,
		key:     key,
		pos:     pos,
		tag:     tag,
		entries: make(map[int64]entry),
	}
}

// NewDrivers builds the marker sync for the live driver map: position is the
// driver's last known location, the tag is its status.
func NewDrivers(r Renderer) *Sync[models.Driver] {
	return New(r,
		func(d models.Driver) int64 { return d.ID },
		func(d models.Driver) *models.Coord { return d.Loc },
		func(d models.Driver) string { return string(d.Status) },
	)
}

// Update reconciles the rendered collection against the new full snapshot.
// A key is rendered iff it is present with a usable location; everything
// else, including keys missing from the snapshot entirely, is removed.
func (s *Sync[T]) Update(items []T) {
	visited := make(map[int64]bool, len(items))

	for _, it := range items {
		key := s.key(it)
		visited[key] = true
		loc := s.pos(it)
		if !loc.Usable() {
			// present but unlocatable: a stale marker is worse than none
			s.removeKey(key)
			continue
		}
		tag := s.tag(it)
		e, ok := s.entries[key]
		if !ok {
			h := s.r.Create(key, *loc, tag)
			s.entries[key] = entry{handle: h, pos: *loc, tag: tag}
			observability.MarkersCreated.Inc()
			continue
		}
		if e.pos != *loc {
			s.r.Move(e.handle, *loc)
			e.pos = *loc
		}
		if e.tag != tag {
			s.r.SetTag(e.handle, tag)
			e.tag = tag
		}
		s.entries[key] = e
	}

	// cleanup pass: anything rendered but not revisited is gone
	for key := range s.entries {
		if !visited[key] {
			s.removeKey(key)
		}
	}
}

func (s *Sync[T]) removeKey(key int64) {
	if e, ok := s.entries[key]; ok {
		s.r.Remove(e.handle)
		delete(s.entries, key)
		observability.MarkersRemoved.Inc()
	}
}

// Len reports how many objects are currently rendered.
func (s *Sync[T]) Len() int {
	return len(s.entries)
}

// Reset removes every rendered object, for view teardown.
func (s *Sync[T]) Reset() {
	for key := range s.entries {
		s.removeKey(key)
	}
}
