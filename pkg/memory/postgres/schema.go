package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — per-user memory records
// ─────────────────────────────────────────────────────────────────────────────

const ddlMemoryRecords = `
CREATE TABLE IF NOT EXISTS memory_records (
    hardware_id  TEXT         PRIMARY KEY,
    short_term   TEXT         NOT NULL DEFAULT '',
    long_term    TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_records_updated_at
    ON memory_records (updated_at);
`

// ddlSnippets returns the semantic index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlSnippets(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_snippets (
    id           TEXT         PRIMARY KEY,
    hardware_id  TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_snippets_hardware_id
    ON memory_snippets (hardware_id);

CREATE INDEX IF NOT EXISTS idx_memory_snippets_embedding
    ON memory_snippets USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every server start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMemoryRecords,
		ddlSnippets(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
