package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSchema creates the append-only call_events table.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS call_events (
  id                TEXT PRIMARY KEY,
  conversation_id   TEXT NOT NULL,
  type              TEXT NOT NULL,
  actor_operator_id TEXT NOT NULL DEFAULT '',
  actor_role        TEXT NOT NULL DEFAULT '',
  ip_address        TEXT NOT NULL DEFAULT '',
  message           TEXT NOT NULL DEFAULT '',
  metadata          JSONB,
  created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_events_conversation_idx ON call_events (conversation_id, created_at)`

// PostgresRepo is used with the pgx stdlib driver ("pgx").
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, conversation_id, type, actor_operator_id, actor_role, ip_address, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.ConversationID, string(e.Type), e.ActorOperatorID, e.ActorRole, e.IPAddress, e.Message, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: postgres append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByConversation(ctx context.Context, conversationID string) ([]Event, error) {
	const q = `
SELECT id, conversation_id, type, actor_operator_id, actor_role, ip_address, message, COALESCE(metadata::text, ''), created_at
FROM call_events
WHERE conversation_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("audit: postgres list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &e.ConversationID, &typ, &e.ActorOperatorID, &e.ActorRole, &e.IPAddress, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: postgres scan: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
