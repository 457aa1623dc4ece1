// Package idgen produces mapping identifiers.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator generates unique identifiers.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate() (uuid.UUID, error)
}

// Func adapts a plain function to Generator.
type Func func() (uuid.UUID, error)

func (f Func) Generate() (uuid.UUID, error) { return f() }

type v7Gen struct {
	maxRetries int
	next       func() (uuid.UUID, error)
}

type Option func(*v7Gen)

// WithRetries sets how many times to retry after the initial attempt.
// Defaults to 1. Set to 0 to disable retries.
func WithRetries(n int) Option {
	return func(g *v7Gen) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// withSource replaces uuid.NewV7, for tests.
func withSource(next func() (uuid.UUID, error)) Option {
	return func(g *v7Gen) { g.next = next }
}

// NewV7 returns a Generator of time-ordered UUID v7 values, which keep
// inserts on the url_mappings primary key index roughly sequential.
func NewV7(opts ...Option) Generator {
	g := &v7Gen{maxRetries: 1, next: uuid.NewV7}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *v7Gen) Generate() (uuid.UUID, error) {
	var last error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		id, err := g.next()
		if err == nil {
			return id, nil
		}
		last = err
	}
	return uuid.Nil, fmt.Errorf("uuid v7 generation failed after %d attempts: %w", g.maxRetries+1, last)
}
