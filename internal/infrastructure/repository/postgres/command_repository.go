package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const schemaLockKey = int64(2026101901)

// CommandRepository is the append-only journal of handled commands.
type CommandRepository struct {
	db *sql.DB
}

func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

func (r *CommandRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrently starting instances.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS command_journal (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	route TEXT NOT NULL,
	command_text TEXT NOT NULL,
	kind TEXT NOT NULL,
	code INTEGER NOT NULL,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms DOUBLE PRECISION NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_command_journal_received_at ON command_journal(received_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *CommandRepository) Record(ctx context.Context, rec domain.CommandRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO command_journal (id, client_id, route, command_text, kind, code, cache_hit, duration_ms, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING
`,
		rec.ID, rec.ClientID, rec.Route, rec.Text, string(rec.Kind), rec.Code, rec.CacheHit,
		float64(rec.Duration.Microseconds())/1000.0, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command record: %w", err)
	}
	return nil
}

func (r *CommandRepository) ListRecent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, client_id, route, command_text, kind, code, cache_hit, duration_ms, received_at
FROM command_journal
ORDER BY received_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent commands: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CommandRecord, 0, limit)
	for rows.Next() {
		var rec domain.CommandRecord
		var kind string
		var durationMS float64
		if err := rows.Scan(
			&rec.ID,
			&rec.ClientID,
			&rec.Route,
			&rec.Text,
			&kind,
			&rec.Code,
			&rec.CacheHit,
			&durationMS,
			&rec.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan command record: %w", err)
		}
		rec.Kind = domain.CommandKind(kind)
		rec.Duration = time.Duration(durationMS * float64(time.Millisecond))
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate command records: %w", err)
	}
	return out, nil
}

func (r *CommandRepository) Name() string { return "journal" }

func (r *CommandRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
