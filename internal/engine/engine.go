// Package engine implements the two issue-detection backends: the
// deterministic pattern engine and the context-aware semantic engine. The
// task runner is backend-agnostic; it selects engines at construction time
// from the resolved analysis mode.
package engine

import (
	"context"

	"proofread-service/internal/models"
)

// Engine detects issues in a batch of chunk units. Implementations recover
// their own transient failures (retry, fallback, degradation); an error
// return is reserved for context cancellation.
type Engine interface {
	Name() string
	// BatchSize is the maximum number of units an implementation accepts per
	// Analyze call. The runner partitions the unit list accordingly.
	BatchSize() int
	Analyze(ctx context.Context, units []models.ChunkUnit) ([]models.Issue, error)
}

// Factory builds the engine set for one task from its resolved mode.
type Factory interface {
	EnginesFor(mode models.Mode) []Engine
}

// DefaultFactory wires the concrete pattern and semantic engines. Engines
// carrying per-task state (the pattern engine's fallback latch) are built
// fresh per call; the underlying clients and the rate limiter are shared.
type DefaultFactory struct {
	Rules    *RuleClient
	Semantic *SemanticEngine

	PatternBatchSize int
	FailureThreshold int
}

// EnginesFor applies the documented mode precedence: full-semantic and
// semantic-only bypass the pattern engine entirely, pattern+semantic runs
// both, pattern-only is the base tier.
func (f *DefaultFactory) EnginesFor(mode models.Mode) []Engine {
	switch mode {
	case models.ModeFullSemantic:
		return []Engine{f.Semantic.withFullContext()}
	case models.ModeSemanticOnly:
		return []Engine{f.Semantic}
	case models.ModePatternSemantic:
		return []Engine{f.newPattern(), f.Semantic}
	default:
		return []Engine{f.newPattern()}
	}
}

func (f *DefaultFactory) newPattern() *PatternEngine {
	return NewPatternEngine(f.Rules, f.PatternBatchSize, f.FailureThreshold)
}
