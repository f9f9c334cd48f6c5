// Package mock provides in-memory test doubles for the memory.Store and
// memory.SemanticIndex interfaces.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/parla-assistant/parla/pkg/memory"
)

// Compile-time interface assertions.
var (
	_ memory.Store         = (*Store)(nil)
	_ memory.SemanticIndex = (*SemanticIndex)(nil)
)

// Store is a map-backed memory.Store with call records and optional
// scripted failures and delays.
type Store struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// SaveErr, if non-nil, is returned by Save.
	SaveErr error

	// Delay, if non-zero, is waited (ctx-aware) before each operation. Lets
	// tests exercise the read-budget path.
	Delay time.Duration

	// --- State and call records ---

	// Records maps hardware ID to the stored record. May be pre-seeded.
	Records map[string]memory.Record

	// LoadCalls records the hardware ID of every Load in order.
	LoadCalls []string

	// SaveCalls records every saved record in order.
	SaveCalls []memory.Record
}

// Load implements memory.Store.
func (s *Store) Load(ctx context.Context, hardwareID string) (memory.Record, error) {
	if err := s.wait(ctx); err != nil {
		return memory.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadCalls = append(s.LoadCalls, hardwareID)
	if s.LoadErr != nil {
		return memory.Record{}, s.LoadErr
	}
	if rec, ok := s.Records[hardwareID]; ok {
		return rec, nil
	}
	return memory.Record{HardwareID: hardwareID}, nil
}

// Save implements memory.Store.
func (s *Store) Save(ctx context.Context, rec memory.Record) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCalls = append(s.SaveCalls, rec)
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Clamp()
	rec.UpdatedAt = time.Now()
	if s.Records == nil {
		s.Records = make(map[string]memory.Record)
	}
	s.Records[rec.HardwareID] = rec
	return nil
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.Delay
	s.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SemanticIndex is a slice-backed memory.SemanticIndex. Search returns
// SearchResults verbatim; similarity ranking is not simulated.
type SemanticIndex struct {
	mu sync.Mutex

	// IndexErr, if non-nil, is returned by Index.
	IndexErr error

	// SearchResults is returned by Search.
	SearchResults []memory.SnippetResult

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// Indexed records every snippet passed to Index in order.
	Indexed []memory.Snippet

	// SearchCalls records the hardware ID of every Search in order.
	SearchCalls []string
}

// Index implements memory.SemanticIndex.
func (m *SemanticIndex) Index(_ context.Context, sn memory.Snippet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Indexed = append(m.Indexed, sn)
	return m.IndexErr
}

// Search implements memory.SemanticIndex.
func (m *SemanticIndex) Search(_ context.Context, hardwareID string, _ []float32, _ int) ([]memory.SnippetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, hardwareID)
	return m.SearchResults, m.SearchErr
}
