// Package memory defines Parla's per-user memory model and storage
// interfaces.
//
// Each installation (keyed by hardware ID) owns one Record with two free-text
// fields: short-term memory for recent conversational context and long-term
// memory for durable facts about the user. The orchestrator reads the record
// before prompting and rewrites it asynchronously after each interaction.
// A semantic index over retired long-term snippets supplements the record
// with similarity-ranked recall.
package memory

import (
	"context"
	"fmt"
	"time"
)

// MaxFieldBytes caps each memory field. Oversized fields are truncated at
// write time, never rejected.
const MaxFieldBytes = 10 << 10

// Record is one user's memory state.
type Record struct {
	// HardwareID keys the record. Stable across restarts of one install.
	HardwareID string

	// ShortTerm holds recent conversational context, rewritten after every
	// interaction.
	ShortTerm string

	// LongTerm holds durable facts about the user.
	LongTerm string

	// UpdatedAt is the time of the last write. Zero on a never-written
	// record.
	UpdatedAt time.Time
}

// IsZero reports whether the record has never been written.
func (r Record) IsZero() bool {
	return r.ShortTerm == "" && r.LongTerm == "" && r.UpdatedAt.IsZero()
}

// Clamp truncates both fields to MaxFieldBytes, cutting on a rune boundary.
func (r *Record) Clamp() {
	r.ShortTerm = truncate(r.ShortTerm, MaxFieldBytes)
	r.LongTerm = truncate(r.LongTerm, MaxFieldBytes)
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}

// Validate checks the record can be persisted.
func (r Record) Validate() error {
	if r.HardwareID == "" {
		return fmt.Errorf("memory: record has empty hardware_id")
	}
	return nil
}

// Store persists memory records.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the record for hardwareID. A missing record yields a zero
	// Record with HardwareID set and a nil error.
	Load(ctx context.Context, hardwareID string) (Record, error)

	// Save upserts the record, clamping oversized fields and stamping
	// UpdatedAt.
	Save(ctx context.Context, rec Record) error
}

// Snippet is one retired long-term memory fragment held in the semantic
// index.
type Snippet struct {
	// ID uniquely identifies the snippet.
	ID string

	// HardwareID scopes the snippet to one installation.
	HardwareID string

	// Content is the snippet text.
	Content string

	// Embedding is the snippet's vector, produced by the configured
	// embeddings provider.
	Embedding []float32

	// CreatedAt is when the snippet was indexed.
	CreatedAt time.Time
}

// SnippetResult is one semantic search hit.
type SnippetResult struct {
	Snippet Snippet

	// Distance is the cosine distance to the query vector; smaller is more
	// similar.
	Distance float64
}

// SemanticIndex stores and searches embedded snippets.
//
// Implementations must be safe for concurrent use.
type SemanticIndex interface {
	// Index upserts a pre-embedded snippet.
	Index(ctx context.Context, sn Snippet) error

	// Search returns the topK snippets of hardwareID closest to the query
	// embedding, most similar first.
	Search(ctx context.Context, hardwareID string, embedding []float32, topK int) ([]SnippetResult, error)
}
