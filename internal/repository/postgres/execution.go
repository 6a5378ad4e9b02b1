package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/convoflow/internal/domain"
)

// ErrNotFound is returned when no snapshot has the requested id.
var ErrNotFound = errors.New("execution snapshot not found")

// Schema creates the snapshot table. It is safe to run on every boot.
const Schema = `
CREATE TABLE IF NOT EXISTS campaign_executions (
	id          TEXT PRIMARY KEY,
	category    TEXT NOT NULL,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	goal        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaign_executions_status ON campaign_executions (status);
`

// ExecutionRepo stores execution snapshots in PostgreSQL.
type ExecutionRepo struct{ db *sql.DB }

// NewExecutionRepo creates a Postgres-backed snapshot repository.
func NewExecutionRepo(db *sql.DB) *ExecutionRepo { return &ExecutionRepo{db: db} }

// Migrate applies Schema.
func (r *ExecutionRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate campaign_executions: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) Save(ctx context.Context, snap domain.Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_executions (id, category, status, mode, goal, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			status = EXCLUDED.status,
			mode = EXCLUDED.mode,
			goal = EXCLUDED.goal,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, snap.ID, snap.Category, snap.Status, snap.Mode, snap.Goal, snap.Payload, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (r *ExecutionRepo) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	var s domain.Snapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, category, status, mode, goal, payload, updated_at
		FROM campaign_executions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Category, &s.Status, &s.Mode, &s.Goal, &s.Payload, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("get execution: %w", err)
	}
	return s, nil
}

func (r *ExecutionRepo) ListActive(ctx context.Context) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category, status, mode, goal, payload, updated_at
		FROM campaign_executions
		WHERE status <> $1
		ORDER BY updated_at ASC, id ASC
	`, domain.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		if err := rows.Scan(&s.ID, &s.Category, &s.Status, &s.Mode, &s.Goal, &s.Payload, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func (r *ExecutionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM campaign_executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
