package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryEntry is one recorded attribute change.
type HistoryEntry struct {
	ID        int64            `json:"id"`
	Device    nasa.Address     `json:"device"`
	Attribute nasa.AttributeID `json:"attribute"`
	Kind      nasa.Kind        `json:"kind"`
	Value     float64          `json:"value"`
	CreatedAt time.Time        `json:"created_at"`
}

// HistoryRepository stores and retrieves attribute change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordChange appends a change. Raw values are not recorded.
	RecordChange(ctx context.Context, st nasa.AttributeState) error

	// GetHistory returns recent changes newest first. The limit is
	// clamped to [1, 500]; zero selects 50.
	GetHistory(ctx context.Context, device nasa.Address, id nasa.AttributeID, limit int) ([]HistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns the
	// number removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ErrNotRecorded is returned by RecordChange for values that have no
// numeric form.
var ErrNotRecorded = errors.New("device: value kind not recorded")

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordChange inserts a new history row.
func (r *SQLiteHistoryRepository) RecordChange(ctx context.Context, st nasa.AttributeState) error {
	switch st.Value.Kind {
	case nasa.KindNumeric, nasa.KindEnum, nasa.KindBoolean:
	default:
		return ErrNotRecorded
	}

	ts := st.Updated
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO attribute_history (device, attribute, kind, number, created_at) VALUES (?, ?, ?, ?, ?)",
		st.Device.String(),
		int64(st.ID),
		st.Value.Kind.String(),
		st.Value.Number,
		formatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("inserting attribute history: %w", err)
	}
	return nil
}

// GetHistory returns recent history for one attribute, newest first.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, device nasa.Address, id nasa.AttributeID, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, number, created_at
		 FROM attribute_history
		 WHERE device = ? AND attribute = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		device.String(),
		int64(id),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying attribute history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e       HistoryEntry
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Value, &created); err != nil {
			return nil, fmt.Errorf("scanning attribute history: %w", err)
		}
		if e.Kind, err = nasa.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		e.Device = device
		e.Attribute = id
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than the given duration.
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx, "DELETE FROM attribute_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting attribute history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
