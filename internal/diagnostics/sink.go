// Package diagnostics collects de-duplicated warnings about unresolvable
// class and member references.
package diagnostics

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/standardbeagle/shrinker/internal/debug"
)

// Kind classifies a diagnostic
type Kind string

const (
	KindUnknownClass     Kind = "unknown_class"
	KindUnresolvedMember Kind = "unresolved_member"
	KindInvalidEdge      Kind = "invalid_edge"
	KindHierarchy        Kind = "incomplete_hierarchy"
	KindDuplicateClass   Kind = "duplicate_class"
)

// Warning is a single reported problem
type Warning struct {
	Kind    Kind
	Source  string
	Target  string
	Message string
	Hint    string
}

type key struct {
	source string
	target string
}

// Sink receives warnings keyed by (source, target); repeats within a run are suppressed.
type Sink struct {
	mu       sync.Mutex
	seen     map[key]struct{}
	warnings []Warning
	logger   *slog.Logger
}

// NewSink creates a sink that logs through logger (nil for the default logger)
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = debug.Logger("DIAG")
	}
	return &Sink{
		seen:   make(map[key]struct{}),
		logger: logger,
	}
}

// Warn records w unless a warning for the same (source, target) was already seen.
// It returns true when the warning was new.
func (s *Sink) Warn(w Warning) bool {
	k := key{source: w.Source, target: w.Target}

	s.mu.Lock()
	if _, dup := s.seen[k]; dup {
		s.mu.Unlock()
		return false
	}
	s.seen[k] = struct{}{}
	s.warnings = append(s.warnings, w)
	s.mu.Unlock()

	attrs := []any{
		slog.String("kind", string(w.Kind)),
		slog.String("source", w.Source),
		slog.String("target", w.Target),
	}
	if w.Hint != "" {
		attrs = append(attrs, slog.String("hint", w.Hint))
	}
	s.logger.Warn(w.Message, attrs...)
	return true
}

// Warnf is a shorthand for Warn
func (s *Sink) Warnf(kind Kind, source, target, message string) bool {
	return s.Warn(Warning{Kind: kind, Source: source, Target: target, Message: message})
}

// Count returns the number of distinct warnings
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.warnings)
}

// Warnings returns the distinct warnings ordered by source then target
func (s *Sink) Warnings() []Warning {
	s.mu.Lock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Reset forgets everything seen so far
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[key]struct{})
	s.warnings = nil
}
