package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ai_requests (
		id               UUID PRIMARY KEY,
		request_id       TEXT NOT NULL DEFAULT '',
		request_type     TEXT NOT NULL,
		provider         TEXT NOT NULL,
		model            TEXT NOT NULL DEFAULT '',
		prompt           TEXT,
		request_payload  JSONB,
		response_payload JSONB,
		raw_response     TEXT,
		success          BOOLEAN NOT NULL,
		attempts         INTEGER NOT NULL DEFAULT 0,
		is_demo          BOOLEAN NOT NULL DEFAULT FALSE,
		error_message    TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ai_requests_created_at_idx ON ai_requests (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS ai_requests_type_idx ON ai_requests (request_type, success)`,
}

// EnsureSchema создает таблицы, если их еще нет.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, statement := range schemaStatements {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	return nil
}
