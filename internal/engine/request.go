package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// StreamIDGenerator names the request stream of an engine. Responses are
// correlated by (request stream id, request id).
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type StreamIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 stream ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined stream ids for testing, so that
// logged commands and golden traces are reproducible.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics if all ids have been consumed.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Sequence hands out strictly increasing request ids.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations);
// clients submit from many goroutines.
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next request id.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last request id handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
