package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const bookingCols = `id, tenant_id, status, driver_id, driver_name, amount, form_data, row_version, created_at, updated_at`

func (p *PostgresStore) GetBooking(ctx context.Context, tenantID, id int64) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanBooking(row)
}

func (p *PostgresStore) ListBookings(ctx context.Context, tenantID int64) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (p *PostgresStore) ListBookingsByDriver(ctx context.Context, tenantID, driverID int64) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE tenant_id=$1 AND driver_id=$2 ORDER BY id`, tenantID, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (p *PostgresStore) InsertBooking(ctx context.Context, b *models.Booking) error {
	form, err := json.Marshal(b.FormData)
	if err != nil {
		return err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	b.UpdatedAt = b.CreatedAt
	return p.db.QueryRowContext(ctx,
		`INSERT INTO bookings(tenant_id, status, driver_id, driver_name, amount, form_data, row_version, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		b.TenantID, string(b.Status), b.DriverID, b.DriverName, b.Amount, form, b.RowVersion, b.CreatedAt, b.UpdatedAt).Scan(&b.ID)
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	form, err := json.Marshal(b.FormData)
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings
		 SET status=$1, driver_id=$2, driver_name=$3, amount=$4, form_data=$5,
		     row_version=row_version+1, updated_at=$6
		 WHERE tenant_id=$7 AND id=$8 AND row_version=$9`,
		string(b.Status), b.DriverID, b.DriverName, b.Amount, form, now,
		b.TenantID, b.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// distinguish a missing row from a lost race
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE tenant_id=$1 AND id=$2)`,
			b.TenantID, b.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	b.RowVersion = expectedVersion + 1
	b.UpdatedAt = now
	return nil
}

func (p *PostgresStore) DeleteBooking(ctx context.Context, tenantID, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM bookings WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, tenantID, id int64) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, email, status, lat, lon, updated_at FROM drivers WHERE tenant_id=$1 AND id=$2`,
		tenantID, id)
	return scanDriver(row)
}

func (p *PostgresStore) ListDrivers(ctx context.Context, tenantID int64) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, email, status, lat, lon, updated_at FROM drivers WHERE tenant_id=$1 ORDER BY id`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) InsertDriver(ctx context.Context, d *models.Driver) error {
	lat, lon := locCols(d.Loc)
	return p.db.QueryRowContext(ctx,
		`INSERT INTO drivers(tenant_id, name, email, status, lat, lon, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		d.TenantID, d.Name, d.Email, string(d.Status), lat, lon, time.Now()).Scan(&d.ID)
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	lat, lon := locCols(d.Loc)
	res, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET name=$1, email=$2, status=$3, lat=$4, lon=$5, updated_at=$6 WHERE tenant_id=$7 AND id=$8`,
		d.Name, d.Email, string(d.Status), lat, lon, time.Now(), d.TenantID, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return p.db.QueryRowContext(ctx,
		`INSERT INTO notifications(tenant_id, recipient, subject, body, read, created_at)
		 VALUES($1,$2,$3,$4,$5,$6) RETURNING id`,
		n.TenantID, n.Recipient, n.Subject, n.Body, n.Read, n.CreatedAt).Scan(&n.ID)
}

func (p *PostgresStore) ListNotifications(ctx context.Context, tenantID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tenant_id, recipient, subject, body, read, created_at
		 FROM notifications WHERE tenant_id=$1 ORDER BY id DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.TenantID, &n.Recipient, &n.Subject, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkNotificationRead(ctx context.Context, tenantID, id int64) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE notifications SET read=true WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var form []byte
	err := row.Scan(&b.ID, &b.TenantID, (*string)(&b.Status), &b.DriverID, &b.DriverName,
		&b.Amount, &form, &b.RowVersion, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(form) > 0 {
		if err := json.Unmarshal(form, &b.FormData); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var lat, lon sql.NullFloat64
	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.Email, (*string)(&d.Status), &lat, &lon, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		d.Loc = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &d, nil
}

func locCols(c *models.Coord) (any, any) {
	if c == nil {
		return nil, nil
	}
	return c.Lat, c.Lon
}
