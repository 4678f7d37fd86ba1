package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// Record is a persisted device.
type Record struct {
	Address    nasa.Address `json:"address"`
	FirstSeen  time.Time    `json:"first_seen"`
	LastSeen   time.Time    `json:"last_seen"`
	Messages   uint64       `json:"messages"`
	Configured bool         `json:"configured"`
}

// Repository defines the interface for device and snapshot persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// SaveDevices upserts the given devices. Message counters and
	// timestamps only move forward.
	SaveDevices(ctx context.Context, devices []nasa.Device) error

	// ListDevices returns every stored device ordered by address.
	ListDevices(ctx context.Context) ([]Record, error)

	// GetDevice returns one stored device.
	// Returns ErrDeviceNotFound if the address is unknown.
	GetDevice(ctx context.Context, addr nasa.Address) (*Record, error)

	// DeleteDevice removes a device and its snapshot rows.
	// Returns ErrDeviceNotFound if the address is unknown.
	DeleteDevice(ctx context.Context, addr nasa.Address) error

	// SaveSnapshot upserts the last known value of each attribute.
	SaveSnapshot(ctx context.Context, states []nasa.AttributeState) error

	// LoadSnapshot returns every stored attribute value.
	LoadSnapshot(ctx context.Context) ([]nasa.AttributeState, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveDevices upserts devices in a single transaction.
func (r *SQLiteRepository) SaveDevices(ctx context.Context, devices []nasa.Device) error {
	if len(devices) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (address, first_seen, last_seen, messages, configured)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			first_seen = MIN(devices.first_seen, excluded.first_seen),
			last_seen  = MAX(devices.last_seen, excluded.last_seen),
			messages   = MAX(devices.messages, excluded.messages),
			configured = excluded.configured`)
	if err != nil {
		return fmt.Errorf("preparing device upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, d := range devices {
		first, last := d.FirstSeen, d.LastSeen
		if first.IsZero() {
			first = now
		}
		if last.IsZero() {
			last = first
		}
		// #nosec G115 -- message counters never approach int64 range
		if _, err := stmt.ExecContext(ctx,
			d.Address.String(),
			formatTime(first),
			formatTime(last),
			int64(d.Messages),
			boolToInt(d.Configured),
		); err != nil {
			return fmt.Errorf("upserting device %s: %w", d.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing devices: %w", err)
	}
	return nil
}

// ListDevices returns every stored device ordered by address.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, first_seen, last_seen, messages, configured
		FROM devices
		ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// GetDevice returns one stored device.
func (r *SQLiteRepository) GetDevice(ctx context.Context, addr nasa.Address) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT address, first_seen, last_seen, messages, configured
		FROM devices
		WHERE address = ?`, addr.String())

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return rec, err
}

// DeleteDevice removes a device and its snapshot rows.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, addr nasa.Address) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	res, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE address = ?", addr.String())
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM attribute_snapshots WHERE device = ?", addr.String()); err != nil {
		return fmt.Errorf("deleting device snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the last known value of each attribute.
//
// States with an unknown kind are skipped. The stale flag is not stored:
// every restored value is stale until re-read.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, states []nasa.AttributeState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attribute_snapshots (device, attribute, name, kind, number, raw, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device, attribute) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			number = excluded.number,
			raw = excluded.raw,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing snapshot upsert: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		if st.Kind == nasa.KindUnknown || st.Value.Kind != st.Kind {
			continue
		}
		updated := st.Updated
		if updated.IsZero() {
			updated = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			st.Device.String(),
			int64(st.ID),
			st.Name,
			st.Kind.String(),
			st.Value.Number,
			st.Value.Raw,
			formatTime(updated),
		); err != nil {
			return fmt.Errorf("upserting %s/%s: %w", st.Device, st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns every stored attribute value ordered by device and id.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context) ([]nasa.AttributeState, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device, attribute, name, kind, number, raw, updated_at
		FROM attribute_snapshots
		ORDER BY device, attribute`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var out []nasa.AttributeState
	for rows.Next() {
		var (
			device, name, kind, updated string
			id                          int64
			number                      float64
			raw                         []byte
		)
		if err := rows.Scan(&device, &id, &name, &kind, &number, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}

		addr, err := nasa.ParseAddress(device)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, device)
		}
		k, err := nasa.ParseKind(kind)
		if err != nil || k == nasa.KindUnknown {
			return nil, fmt.Errorf("%w: %s/0x%04X kind %q", ErrInvalidSnapshot, device, id, kind)
		}
		ts, err := parseTime(updated)
		if err != nil {
			return nil, err
		}

		// #nosec G115 -- attribute ids are stored from uint16
		out = append(out, nasa.AttributeState{
			Device:  addr,
			ID:      nasa.AttributeID(id),
			Name:    name,
			Kind:    k,
			Value:   nasa.Value{Kind: k, Number: number, Raw: raw},
			Updated: ts,
			Stale:   true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot: %w", err)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*Record, error) {
	var (
		address, first, last string
		messages             int64
		configured           int64
	)
	if err := s.Scan(&address, &first, &last, &messages, &configured); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	addr, err := nasa.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	firstSeen, err := parseTime(first)
	if err != nil {
		return nil, err
	}
	lastSeen, err := parseTime(last)
	if err != nil {
		return nil, err
	}

	// #nosec G115 -- stored from uint64 counters
	return &Record{
		Address:    addr,
		FirstSeen:  firstSeen,
		LastSeen:   lastSeen,
		Messages:   uint64(messages),
		Configured: configured != 0,
	}, nil
}

// formatTime stores timestamps as RFC 3339 UTC with nanoseconds so string
// comparison in SQL orders them correctly.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalidSnapshot)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
