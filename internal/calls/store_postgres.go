package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresSchema creates the call_configs table used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS call_configs (
  conversation_id TEXT PRIMARY KEY,
  type            TEXT NOT NULL,
  payload         JSONB NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists call configs as JSONB (see PostgresSchema).
// It is used with the pgx stdlib driver ("pgx").
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Save(ctx context.Context, id string, cfg CallConfig) error {
	if id == "" {
		return ErrEmptyID
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_configs (conversation_id, type, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (conversation_id)
DO UPDATE SET type = EXCLUDED.type, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
`
	if _, err := s.db.ExecContext(ctx, q, id, cfg.Type(), data, s.clock().UTC()); err != nil {
		return fmt.Errorf("calls: postgres save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallConfig, bool, error) {
	const q = `
SELECT payload
FROM call_configs
WHERE conversation_id = $1
`
	var data []byte
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("calls: postgres get: %w", err)
	}
	cfg, err := Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM call_configs WHERE conversation_id = $1`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("calls: postgres delete: %w", err)
	}
	return nil
}
