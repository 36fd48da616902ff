package resolutionrun

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/goldenrecord"
	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Sink persists a whole resolution result in one transaction
type Sink struct {
	db         database.DB
	logger     ectologger.Logger
	runs       *Repository
	records    *sourcerecord.Repository
	candidates *matchcandidate.Repository
	golden     *goldenrecord.Repository
}

// NewSink creates a new PostgreSQL result sink
func NewSink(
	db database.DB,
	logger ectologger.Logger,
	runs *Repository,
	records *sourcerecord.Repository,
	candidates *matchcandidate.Repository,
	golden *goldenrecord.Repository,
) *Sink {
	return &Sink{
		db:         db,
		logger:     logger,
		runs:       runs,
		records:    records,
		candidates: candidates,
		golden:     golden,
	}
}

// Name implements resolution.Sink
func (s *Sink) Name() string {
	return "postgres"
}

// Write implements resolution.Sink
func (s *Sink) Write(ctx context.Context, result *resolution.Result) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Sink.Write")
	defer span.End()

	ctxTx, tx, err := s.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := s.runs.Create(ctxTx, result); err != nil {
		return err
	}
	if err := s.records.UpsertBatch(ctxTx, result.RunID, result.Records); err != nil {
		return err
	}
	if err := s.candidates.CreateBatch(ctxTx, result.RunID, result.Candidates); err != nil {
		return err
	}
	for i := range result.GoldenRecords {
		if err := s.golden.Upsert(ctxTx, result.RunID, &result.GoldenRecords[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctxTx); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":         result.RunID,
		"golden_records": len(result.GoldenRecords),
		"candidates":     len(result.Candidates),
	}).Info("Persisted resolution run")

	return nil
}
