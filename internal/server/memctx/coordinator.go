// Package memctx coordinates the memory layer around each request: it reads
// the user's memory record under a strict time budget and prepends the
// MEMORY CONTEXT block to the prompt, and after the response it rewrites the
// record through an analyser model. Memory is best-effort throughout — a
// slow or failing store never delays or fails a request.
package memctx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parla-assistant/parla/internal/observe"
	"github.com/parla-assistant/parla/pkg/memory"
	"github.com/parla-assistant/parla/pkg/provider/embeddings"
)

// DefaultReadBudget bounds the pre-prompt memory fetch.
const DefaultReadBudget = 2 * time.Second

// defaultTopK is the number of semantic hits added to the context block.
const defaultTopK = 3

// Analyser distils an exchange into updated memory fields. Implementations
// must cap each field at [memory.MaxFieldBytes] (the store clamps anyway).
type Analyser interface {
	Analyse(ctx context.Context, current memory.Record, prompt, finalText string) (shortTerm, longTerm string, err error)
}

// Option configures a [Coordinator] during construction.
type Option func(*Coordinator)

// WithReadBudget overrides [DefaultReadBudget]. Non-positive values keep the
// default.
func WithReadBudget(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.readBudget = d
		}
	}
}

// WithSemanticIndex adds similarity-ranked snippet recall: the prompt is
// embedded and the closest snippets join the context block, and a long-term
// memory replaced on update is retired into the index.
func WithSemanticIndex(idx memory.SemanticIndex, embedder embeddings.Provider) Option {
	return func(c *Coordinator) {
		c.index = idx
		c.embedder = embedder
	}
}

// WithTopK sets the number of semantic hits recalled per request.
func WithTopK(k int) Option {
	return func(c *Coordinator) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithMetrics records memory read latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// Coordinator is the request-facing memory API. Safe for concurrent use.
type Coordinator struct {
	store    memory.Store
	analyser Analyser

	index    memory.SemanticIndex
	embedder embeddings.Provider
	topK     int

	readBudget time.Duration
	metrics    *observe.Metrics
}

// New creates a Coordinator over store and analyser.
func New(store memory.Store, analyser Analyser, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		analyser:   analyser,
		readBudget: DefaultReadBudget,
		topK:       defaultTopK,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enrich prepends the MEMORY CONTEXT block for hardwareID to prompt. When
// the read budget expires, the store fails, or there is simply no memory
// yet, the prompt is returned unchanged.
func (c *Coordinator) Enrich(ctx context.Context, hardwareID, prompt string) string {
	block := c.contextBlock(ctx, hardwareID, prompt)
	if block == "" {
		return prompt
	}
	return block + "\n\n" + prompt
}

// contextBlock fetches the record (and semantic hits, when configured)
// within the read budget and renders the block. Empty when nothing useful
// was retrieved in time.
func (c *Coordinator) contextBlock(ctx context.Context, hardwareID, prompt string) string {
	ctx, cancel := context.WithTimeout(ctx, c.readBudget)
	defer cancel()

	start := time.Now()
	rec, err := c.store.Load(ctx, hardwareID)
	if c.metrics != nil {
		c.metrics.MemoryReadDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Warn("memory read skipped", "hardware_id", hardwareID, "error", err)
		return ""
	}

	notes := c.recall(ctx, hardwareID, prompt)
	if rec.IsZero() && len(notes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("MEMORY CONTEXT\n")
	fmt.Fprintf(&b, "SHORT-TERM MEMORY: %s\n", rec.ShortTerm)
	fmt.Fprintf(&b, "LONG-TERM MEMORY: %s\n", rec.LongTerm)
	for _, n := range notes {
		fmt.Fprintf(&b, "RELEVANT PAST NOTE: %s\n", n)
	}
	b.WriteString("MEMORY USAGE INSTRUCTIONS: use this context only when relevant.")
	return b.String()
}

// recall embeds the prompt and searches the snippet index. Best-effort:
// any failure returns no notes.
func (c *Coordinator) recall(ctx context.Context, hardwareID, prompt string) []string {
	if c.index == nil || c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		slog.Warn("semantic recall skipped", "hardware_id", hardwareID, "error", err)
		return nil
	}
	hits, err := c.index.Search(ctx, hardwareID, vec, c.topK)
	if err != nil {
		slog.Warn("semantic recall skipped", "hardware_id", hardwareID, "error", err)
		return nil
	}
	notes := make([]string, 0, len(hits))
	for _, h := range hits {
		notes = append(notes, h.Snippet.Content)
	}
	return notes
}

// Update rewrites the memory record after a completed exchange. It is meant
// to run on its own goroutine, detached from the request lifetime; all
// failures are logged and swallowed.
func (c *Coordinator) Update(ctx context.Context, hardwareID, prompt, finalText string) {
	current, err := c.store.Load(ctx, hardwareID)
	if err != nil {
		slog.Warn("memory update: load failed", "hardware_id", hardwareID, "error", err)
		return
	}

	shortTerm, longTerm, err := c.analyser.Analyse(ctx, current, prompt, finalText)
	if err != nil {
		slog.Warn("memory update: analyse failed", "hardware_id", hardwareID, "error", err)
		return
	}

	// A rewritten long-term memory retires the previous one into the
	// semantic index so the fact stays recallable.
	if c.index != nil && c.embedder != nil &&
		current.LongTerm != "" && current.LongTerm != longTerm {
		c.retire(ctx, hardwareID, current.LongTerm)
	}

	err = c.store.Save(ctx, memory.Record{
		HardwareID: hardwareID,
		ShortTerm:  shortTerm,
		LongTerm:   longTerm,
	})
	if err != nil {
		slog.Warn("memory update: save failed", "hardware_id", hardwareID, "error", err)
		return
	}
	slog.Debug("memory updated", "hardware_id", hardwareID)
}

// retire embeds content and upserts it as a snippet. Best-effort.
func (c *Coordinator) retire(ctx context.Context, hardwareID, content string) {
	vec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		slog.Warn("memory retire: embed failed", "hardware_id", hardwareID, "error", err)
		return
	}
	err = c.index.Index(ctx, memory.Snippet{
		ID:         uuid.NewString(),
		HardwareID: hardwareID,
		Content:    content,
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("memory retire: index failed", "hardware_id", hardwareID, "error", err)
	}
}
