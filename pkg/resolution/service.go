// Package resolution runs the entity resolution pipeline: blocking and
// matching, clustering, then merging clusters into golden records.
package resolution

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/blocking"
	"github.com/Ramsey-B/fern/pkg/clustering"
	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// Config contains configuration for the resolution service
type Config struct {
	// MergeSingletons turns unmatched records into single-member golden
	// records instead of reporting them as unmatched.
	MergeSingletons bool
}

// Option configures a Service
type Option func(*Service)

// WithRunLocker serialises Run calls over the same entity types
func WithRunLocker(locker RunLocker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// WithSinks registers sinks; they receive each result in registration order
func WithSinks(sinks ...Sink) Option {
	return func(s *Service) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// Service orchestrates a resolution run
type Service struct {
	logger  ectologger.Logger
	matcher *matching.Engine
	builder *clustering.Builder
	merger  *merging.Engine
	config  Config
	locker  RunLocker
	sinks   []Sink
}

// NewService creates a new resolution service
func NewService(
	logger ectologger.Logger,
	matcher *matching.Engine,
	builder *clustering.Builder,
	merger *merging.Engine,
	config Config,
	opts ...Option,
) *Service {
	s := &Service{
		logger:  logger,
		matcher: matcher,
		builder: builder,
		merger:  merger,
		config:  config,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Matcher returns the service's batch matcher
func (s *Service) Matcher() *matching.Engine {
	return s.matcher
}

// WithMatcher returns a copy of the service that matches with m
func (s *Service) WithMatcher(m *matching.Engine) *Service {
	clone := *s
	clone.matcher = m
	return &clone
}

// Resolve runs the pipeline over records without touching any collaborator
func (s *Service) Resolve(ctx context.Context, records []models.SourceRecord) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.Resolve")
	defer span.End()

	result, err := s.resolve(ctx, records)
	if err != nil {
		metrics.RecordRun(statusFailed, 0)
		return nil, err
	}

	metrics.RecordRun(statusSuccess, result.Stats.Duration.Seconds())
	return result, nil
}

// Run resolves a batch under the run lock and hands the result to every sink.
// A sink failure fails the run; earlier sinks are not rolled back.
func (s *Service) Run(ctx context.Context, batch models.RecordBatch) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.Run")
	defer span.End()

	start := time.Now()
	result, err := s.run(ctx, batch)
	if err != nil {
		metrics.RecordRun(statusFailed, time.Since(start).Seconds())
		return nil, err
	}

	metrics.RecordRun(statusSuccess, time.Since(start).Seconds())
	return result, nil
}

func (s *Service) run(ctx context.Context, batch models.RecordBatch) (*Result, error) {
	if batch.BatchID != "" {
		ctx = fernctx.SetBatchID(ctx, batch.BatchID)
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": batch.BatchID,
		"records":  len(batch.Records),
	})

	if s.locker != nil {
		key := lockKey(entityTypes(batch.Records))
		unlock, err := s.locker.Lock(ctx, key)
		if err != nil {
			log.WithError(err).Warn("Failed to acquire resolution run lock")
			return nil, errors.Wrapf(err, "failed to acquire run lock %s", key)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("Failed to release resolution run lock")
			}
		}()
	}

	result, err := s.resolve(ctx, batch.Records)
	if err != nil {
		return nil, err
	}
	result.BatchID = batch.BatchID
	ctx = fernctx.SetRunID(ctx, result.RunID)

	for _, sink := range s.sinks {
		if err := sink.Write(ctx, result); err != nil {
			metrics.RecordSinkWrite(sink.Name(), statusFailed)
			log.WithError(err).WithFields(map[string]any{
				"run_id": result.RunID,
				"sink":   sink.Name(),
			}).Error("Failed to write resolution result")
			return nil, errors.Wrapf(err, "sink %s failed", sink.Name())
		}
		metrics.RecordSinkWrite(sink.Name(), statusSuccess)
	}

	return result, nil
}

func (s *Service) resolve(ctx context.Context, records []models.SourceRecord) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:         uuid.NewString(),
		StartedAt:     start.UTC(),
		Records:       records,
		Candidates:    []models.MatchCandidate{},
		GoldenRecords: []models.GoldenRecord{},
		Unmatched:     []models.SourceRecord{},
	}

	ctx = fernctx.SetRunID(ctx, result.RunID)
	log := s.logger.WithContext(ctx).WithFields(fernctx.Fields(ctx)).WithField("records", len(records))

	index := blocking.Build(records, s.matcher.Config().BlockingAttribute)

	candidates, err := s.matcher.MatchIndex(ctx, index)
	if err != nil {
		log.WithError(err).Error("Matching failed")
		return nil, errors.Wrap(err, "failed to match records")
	}
	if candidates != nil {
		result.Candidates = candidates
	}

	clusters, err := s.builder.Build(ctx, records, candidates)
	if err != nil {
		log.WithError(err).Error("Clustering failed")
		return nil, errors.Wrap(err, "failed to build clusters")
	}
	result.Clusters = clusters

	chained := 0
	for _, cluster := range clusters {
		if cluster.Chained {
			chained++
		}
		if cluster.IsSingleton() && !s.config.MergeSingletons {
			result.Unmatched = append(result.Unmatched, cluster.Members[0])
			continue
		}

		golden, err := s.merger.CreateGoldenRecord(ctx, cluster.Members)
		if err != nil {
			log.WithError(err).Error("Merge failed")
			return nil, errors.Wrap(err, "failed to merge cluster")
		}
		result.GoldenRecords = append(result.GoldenRecords, *golden)
	}

	result.Stats = Stats{
		Records:         len(records),
		Blocks:          index.Len(),
		Comparisons:     index.Comparisons(),
		Candidates:      len(result.Candidates),
		Clusters:        len(clusters),
		ChainedClusters: chained,
		GoldenRecords:   len(result.GoldenRecords),
		Unmatched:       len(result.Unmatched),
		Duration:        time.Since(start),
	}

	metrics.RecordsProcessed.Add(float64(result.Stats.Records))
	metrics.Comparisons.Add(float64(result.Stats.Comparisons))
	metrics.CandidatesTotal.Add(float64(result.Stats.Candidates))
	metrics.GoldenRecordsTotal.Add(float64(result.Stats.GoldenRecords))
	metrics.ChainedClustersTotal.Add(float64(chained))

	log.WithFields(map[string]any{
		"blocks":           result.Stats.Blocks,
		"comparisons":      result.Stats.Comparisons,
		"candidates":       result.Stats.Candidates,
		"clusters":         result.Stats.Clusters,
		"chained_clusters": chained,
		"golden_records":   result.Stats.GoldenRecords,
		"unmatched":        result.Stats.Unmatched,
		"duration_ms":      result.Stats.Duration.Milliseconds(),
	}).Info("Resolution complete")

	return result, nil
}

func entityTypes(records []models.SourceRecord) []string {
	seen := make(map[string]bool)
	var types []string
	for _, r := range records {
		if !seen[r.EntityType] {
			seen[r.EntityType] = true
			types = append(types, r.EntityType)
		}
	}
	sort.Strings(types)
	return types
}

func lockKey(entityTypes []string) string {
	return "resolution:" + strings.Join(entityTypes, ",")
}
