package testutil

import (
	"fmt"
	"sync"
)

// SeqIDGenerator hands out "chk-0001", "chk-0002", ... so stored record
// ids are stable across runs and readable in golden files.
//
// Implements checkout.IDGenerator.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SeqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGenerator creates a generator with the given prefix. An empty
// prefix defaults to "chk".
func NewSeqIDGenerator(prefix string) *SeqIDGenerator {
	if prefix == "" {
		prefix = "chk"
	}
	return &SeqIDGenerator{prefix: prefix}
}

// Generate returns the next sequential id.
func (g *SeqIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// FixedIDGenerator returns a preset list of ids in order and panics
// when the list runs out, so a scenario that creates more records than
// it declared fails loudly instead of silently diverging from its
// golden file.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	n   int
}

// NewFixedIDGenerator creates a generator over the given ids.
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next preset id.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n >= len(g.ids) {
		panic(fmt.Sprintf("FixedIDGenerator exhausted after %d ids", len(g.ids)))
	}
	id := g.ids[g.n]
	g.n++
	return id
}
