// Package analysis runs analyzers behind the content-addressable cache.
//
// The Invoker derives the cache key of a subject, serves cached payloads,
// and on a miss runs the analyzer once per key even when many requests
// miss concurrently in the same process.
package analysis

import (
	"context"
	"time"
)

// Subject is the thing being analyzed: a category and the fields that
// describe it. Volatile fields (timestamps, session or user ids) may be
// present; they do not take part in the cache key.
type Subject struct {
	Category string
	Fields   map[string]any
}

// Analyzer produces the serialized analysis of a subject. Implementations
// must be deterministic for equal identity fields.
type Analyzer interface {
	Analyze(ctx context.Context, subject Subject) ([]byte, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, subject Subject) ([]byte, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, subject Subject) ([]byte, error) {
	return f(ctx, subject)
}

// Result is the outcome of a lookup or invocation.
type Result struct {
	// Hit is set when Payload came from the cache.
	Hit bool

	Payload []byte

	// CachedAt is when the payload was computed.
	CachedAt time.Time

	// HitCount counts cache hits of the entry including this one; 0 for
	// fresh results.
	HitCount int64

	Key string
}
