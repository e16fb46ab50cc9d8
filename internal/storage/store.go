package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound = errors.New("row not found")
	// ErrVersionConflict means the caller's expected row version no longer
	// matches: someone else wrote the row first. Silent overwrite is not
	// an option for status rows.
	ErrVersionConflict = errors.New("row version conflict")
)

// EntityStore defines tenant-scoped persistence for bookings, drivers and
// notification records. All reads take a context so a torn-down view can
// cancel an in-flight fetch.
type EntityStore interface {
	GetBooking(ctx context.Context, tenantID, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, tenantID int64) ([]models.Booking, error)
	ListBookingsByDriver(ctx context.Context, tenantID, driverID int64) ([]models.Booking, error)
	InsertBooking(ctx context.Context, b *models.Booking) error
	// UpdateBooking writes b only if the stored row still carries
	// expectedVersion, then bumps the version. ErrVersionConflict otherwise.
	UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error
	DeleteBooking(ctx context.Context, tenantID, id int64) error

	GetDriver(ctx context.Context, tenantID, id int64) (*models.Driver, error)
	ListDrivers(ctx context.Context, tenantID int64) ([]models.Driver, error)
	InsertDriver(ctx context.Context, d *models.Driver) error
	UpdateDriver(ctx context.Context, d *models.Driver) error

	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, tenantID int64, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, tenantID, id int64) error
}

// MemoryStore backs tests and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	bookings      map[int64]*models.Booking
	drivers       map[int64]*models.Driver
	notifications map[int64]*models.Notification
	nextBookingID int64
	nextDriverID  int64
	nextNotifID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:      make(map[int64]*models.Booking),
		drivers:       make(map[int64]*models.Driver),
		notifications: make(map[int64]*models.Notification),
	}
}

func (m *MemoryStore) GetBooking(ctx context.Context, tenantID, id int64) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok || b.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBookings(ctx context.Context, tenantID int64) ([]models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		if b.TenantID == tenantID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListBookingsByDriver(ctx context.Context, tenantID, driverID int64) ([]models.Booking, error) {
	all, err := m.ListBookings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		if b.DriverID == driverID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		m.nextBookingID++
		b.ID = m.nextBookingID
	} else if b.ID > m.nextBookingID {
		m.nextBookingID = b.ID
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok || cur.TenantID != b.TenantID {
		return ErrNotFound
	}
	if cur.RowVersion != expectedVersion {
		return ErrVersionConflict
	}
	cp := *b
	cp.RowVersion = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	m.bookings[b.ID] = &cp
	b.RowVersion = cp.RowVersion
	b.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *MemoryStore) DeleteBooking(ctx context.Context, tenantID, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.bookings, id)
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, tenantID, id int64) (*models.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListDrivers(ctx context.Context, tenantID int64) ([]models.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		if d.TenantID == tenantID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertDriver(ctx context.Context, d *models.Driver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		m.nextDriverID++
		d.ID = m.nextDriverID
	} else if d.ID > m.nextDriverID {
		m.nextDriverID = d.ID
	}
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.drivers[d.ID]
	if !ok || cur.TenantID != d.TenantID {
		return ErrNotFound
	}
	cp := *d
	cp.Updated = time.Now()
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNotifID++
	n.ID = m.nextNotifID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, tenantID int64, limit int) ([]models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if n.TenantID == tenantID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, tenantID, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.TenantID != tenantID {
		return ErrNotFound
	}
	n.Read = true
	return nil
}
