package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tably/grouporder-server/internal/model"
)

type SessionRepository interface {
	Save(ctx context.Context, snap model.SessionSnapshot) error
	FindByID(ctx context.Context, id string) (*model.SessionSnapshot, error)
	ListNonTerminal(ctx context.Context) ([]model.SessionSnapshot, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

// sessionRow is the persisted shape: queryable columns plus the full snapshot
// as JSONB. The registry's in-memory session stays authoritative while it is
// live; rows exist for crash recovery and retention.
type sessionRow struct {
	ID           string    `db:"id"`
	JoinCode     string    `db:"join_code"`
	RestaurantID string    `db:"restaurant_id"`
	Status       string    `db:"status"`
	Snapshot     []byte    `db:"snapshot"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Save upserts the snapshot, write-through after every mutation.
func (r *sessionRepo) Save(ctx context.Context, snap model.SessionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO group_order_sessions (id, join_code, restaurant_id, status, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, snap.ID, snap.JoinCode, snap.RestaurantID, string(snap.Status), data, snap.UpdatedAt)
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.SessionSnapshot, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM group_order_sessions WHERE id = $1
	`, id)
	found, err := HandleNotFound(&row, err)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}

	var snap model.SessionSnapshot
	if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session snapshot: %w", err)
	}
	return &snap, nil
}

// ListNonTerminal returns the snapshots the registry restores on startup.
func (r *sessionRepo) ListNonTerminal(ctx context.Context) ([]model.SessionSnapshot, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM group_order_sessions
		WHERE status IN ('active', 'locked', 'finalizing')
		ORDER BY updated_at
	`)
	if err != nil {
		return nil, err
	}

	snaps := make([]model.SessionSnapshot, 0, len(rows))
	for _, row := range rows {
		var snap model.SessionSnapshot
		if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal session snapshot %s: %w", row.ID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// DeleteTerminalOlderThan purges terminal sessions past the retention window.
func (r *sessionRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM group_order_sessions
		WHERE status IN ('completed', 'cancelled', 'expired')
		AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
