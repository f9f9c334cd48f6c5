// Package postgres provides the PostgreSQL-backed implementation of Parla's
// memory layer: per-user records plus a pgvector semantic index over retired
// long-term snippets.
//
// Both layers share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	rec, _ := store.Load(ctx, hardwareID)
//	_ = store.Save(ctx, rec)
//	_ = store.Semantic().Index(ctx, snippet)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/parla-assistant/parla/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Store         = (*Store)(nil)
	_ memory.SemanticIndex = (*SemanticIndexImpl)(nil)
)

// Store is the PostgreSQL-backed memory.Store. All operations are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	semantic *SemanticIndexImpl
}

// NewStore establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the configured
// embedding model (e.g., 1536 for text-embedding-3-small). Changing it after
// the first migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		semantic: &SemanticIndexImpl{pool: pool},
	}, nil
}

// Semantic returns the snippet index, which satisfies [memory.SemanticIndex].
func (s *Store) Semantic() *SemanticIndexImpl { return s.semantic }

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Load implements memory.Store. A missing record yields a zero Record with
// HardwareID set and a nil error.
func (s *Store) Load(ctx context.Context, hardwareID string) (memory.Record, error) {
	const q = `
		SELECT short_term, long_term, updated_at
		FROM   memory_records
		WHERE  hardware_id = $1`

	rec := memory.Record{HardwareID: hardwareID}
	err := s.pool.QueryRow(ctx, q, hardwareID).Scan(&rec.ShortTerm, &rec.LongTerm, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return memory.Record{HardwareID: hardwareID}, nil
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("postgres store: load %q: %w", hardwareID, err)
	}
	return rec, nil
}

// Save implements memory.Store. Oversized fields are clamped, UpdatedAt is
// stamped server-side.
func (s *Store) Save(ctx context.Context, rec memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Clamp()

	const q = `
		INSERT INTO memory_records (hardware_id, short_term, long_term, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hardware_id) DO UPDATE SET
		    short_term = EXCLUDED.short_term,
		    long_term  = EXCLUDED.long_term,
		    updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q, rec.HardwareID, rec.ShortTerm, rec.LongTerm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", rec.HardwareID, err)
	}
	return nil
}
