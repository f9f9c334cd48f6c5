package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/parla-assistant/parla/pkg/memory"
)

// SemanticIndexImpl is the snippet index backed by a pgvector HNSW index for
// fast approximate nearest-neighbour search.
//
// Obtain one via [Store.Semantic] rather than constructing directly. All
// methods are safe for concurrent use.
type SemanticIndexImpl struct {
	pool *pgxpool.Pool
}

// Index implements [memory.SemanticIndex]. A snippet with an existing ID is
// completely replaced.
func (s *SemanticIndexImpl) Index(ctx context.Context, sn memory.Snippet) error {
	const q = `
		INSERT INTO memory_snippets (id, hardware_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    hardware_id = EXCLUDED.hardware_id,
		    content     = EXCLUDED.content,
		    embedding   = EXCLUDED.embedding,
		    created_at  = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		sn.ID,
		sn.HardwareID,
		sn.Content,
		pgvector.NewVector(sn.Embedding),
		sn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("semantic index: index snippet: %w", err)
	}
	return nil
}

// Search implements [memory.SemanticIndex]. Results are ordered by ascending
// cosine distance (most similar first).
func (s *SemanticIndexImpl) Search(ctx context.Context, hardwareID string, embedding []float32, topK int) ([]memory.SnippetResult, error) {
	const q = `
		SELECT id, hardware_id, content, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   memory_snippets
		WHERE  hardware_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), hardwareID, topK)
	if err != nil {
		return nil, fmt.Errorf("semantic index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SnippetResult, error) {
		var (
			sr  memory.SnippetResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&sr.Snippet.ID,
			&sr.Snippet.HardwareID,
			&sr.Snippet.Content,
			&vec,
			&sr.Snippet.CreatedAt,
			&sr.Distance,
		); err != nil {
			return memory.SnippetResult{}, err
		}
		sr.Snippet.Embedding = vec.Slice()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic index: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SnippetResult{}
	}
	return results, nil
}
