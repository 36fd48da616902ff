// Package matching implements pairwise record scoring and batch matching
package matching

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Engine is the batch matcher. It scores every unordered pair inside each
// block and emits a candidate for every pair at or above the threshold.
type Engine struct {
	logger ectologger.Logger
	scorer *Scorer
	config Config
}

// NewEngine creates a new match engine
func NewEngine(logger ectologger.Logger, config Config) (*Engine, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		logger: logger,
		scorer: NewScorer(),
		config: config,
	}, nil
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.config
}

// FindMatches blocks the records and returns every match candidate in the batch
func (e *Engine) FindMatches(ctx context.Context, records []models.SourceRecord) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	index := blocking.Build(records, e.config.BlockingAttribute)
	return e.MatchIndex(ctx, index)
}

// MatchIndex matches every block of a prebuilt index. Blocks are scored
// concurrently by a bounded worker pool; a failure in any block fails the
// whole call and no partial result is returned.
func (e *Engine) MatchIndex(ctx context.Context, index *blocking.Index) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.MatchIndex")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"block_count": index.Len(),
		"comparisons": index.Comparisons(),
		"threshold":   e.config.Threshold,
		"workers":     e.config.Workers,
	})

	blocks := index.Blocks()
	results := make([][]models.MatchCandidate, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)

	for i, block := range blocks {
		if block.Pairs() == 0 {
			continue
		}
		g.Go(func() error {
			matches, err := e.matchBlock(gctx, block)
			if err != nil {
				return errors.Wrapf(err, "failed to match block %s", block.Key)
			}
			results[i] = matches
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Batch matching failed")
		return nil, err
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	candidates := make([]models.MatchCandidate, 0, total)
	for _, r := range results {
		candidates = append(candidates, r...)
	}

	log.WithFields(map[string]any{"candidate_count": len(candidates)}).Debug("Batch matching complete")

	return candidates, nil
}

// matchBlock compares every unordered pair in a block exactly once
func (e *Engine) matchBlock(ctx context.Context, block blocking.Block) (matches []models.MatchCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = errors.Errorf("panic while scoring: %v", r)
		}
	}()

	records := block.Records
	for i := 0; i < len(records); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(records); j++ {
			a, b := records[i], records[j]
			if a.RecordID == b.RecordID {
				continue
			}

			score, fieldScores := e.ScorePair(a, b)
			if score < e.config.Threshold {
				continue
			}

			matches = append(matches, models.MatchCandidate{
				RecordAID:    a.RecordID,
				RecordBID:    b.RecordID,
				Score:        score,
				MatchReasons: e.reasons(block.Key, score, fieldScores),
				EntityType:   a.EntityType,
				BlockKey:     block.Key,
				FieldScores:  fieldScores,
			})
		}
	}

	return matches, nil
}

// ScorePair returns the weighted similarity of two records and the per-attribute
// similarities that took part in it.
//
// Only attributes non-empty on both sides participate: a missing attribute
// is excluded from numerator and denominator alike rather than counted as a
// zero. Two records sharing only an identical phone therefore score 1.0.
func (e *Engine) ScorePair(a, b models.SourceRecord) (float64, map[string]float64) {
	fieldScores := make(map[string]float64, len(e.config.Weights))

	var numerator, denominator float64
	for _, w := range e.config.Weights {
		if w.Weight == 0 {
			continue
		}

		va := a.Attributes.Get(w.Attribute)
		vb := b.Attributes.Get(w.Attribute)
		if va.IsEmpty() || vb.IsEmpty() {
			continue
		}

		similarity := e.scorer.Compare(w.Comparator, va, vb)
		fieldScores[w.Attribute] = similarity
		numerator += similarity * w.Weight
		denominator += w.Weight
	}

	if denominator == 0 {
		return 0.0, fieldScores
	}

	return min(numerator/denominator, 1.0), fieldScores
}

func (e *Engine) reasons(blockKey string, score float64, fieldScores map[string]float64) []string {
	reasons := make([]string, 0, len(fieldScores)+2)
	reasons = append(reasons, fmt.Sprintf("block=%s", blockKey), fmt.Sprintf("score=%.4f", score))
	for _, w := range e.config.Weights {
		if s, ok := fieldScores[w.Attribute]; ok {
			reasons = append(reasons, fmt.Sprintf("%s=%.4f", w.Attribute, s))
		}
	}
	return reasons
}
