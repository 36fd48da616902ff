package matchcandidate

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	table     = "match_candidates"
	batchSize = 1000
)

type row struct {
	RunID        string                             `db:"run_id"`
	RecordAID    string                             `db:"record_a_id"`
	RecordBID    string                             `db:"record_b_id"`
	Score        float64                            `db:"score"`
	EntityType   string                             `db:"entity_type"`
	BlockKey     string                             `db:"block_key"`
	MatchReasons database.JSONB[[]string]           `db:"match_reasons"`
	FieldScores  database.JSONB[map[string]float64] `db:"field_scores"`
}

// Repository handles match candidate persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new match candidate repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch stores the candidates of one run
func (r *Repository) CreateBatch(ctx context.Context, runID string, candidates []models.MatchCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.CreateBatch")
	defer span.End()

	for start := 0; start < len(candidates); start += batchSize {
		end := min(start+batchSize, len(candidates))

		ib := database.NewInsertBuilder()
		ib.InsertInto(table)
		ib.Cols("run_id", "record_a_id", "record_b_id", "score", "entity_type", "block_key", "match_reasons", "field_scores")
		for _, c := range candidates[start:end] {
			ib.Values(runID, c.RecordAID, c.RecordBID, c.Score, c.EntityType, c.BlockKey,
				database.NewJSONB(c.MatchReasons), database.NewJSONB(c.FieldScores))
		}
		database.OnConflictDoNothing(ib, "run_id", "record_a_id", "record_b_id")

		query, args := ib.Build()
		if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID}).Error("Failed to create match candidates batch")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create match candidates")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(candidates)}).Debug("Created match candidates batch")
	return nil
}

// ListByRun retrieves the candidates of a run, strongest first
func (r *Repository) ListByRun(ctx context.Context, runID string, limit, offset int) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matchcandidate.Repository.ListByRun")
	defer span.End()

	if limit < 1 || limit > 1000 {
		limit = 100
	}

	sb := database.NewSelectBuilder()
	sb.Select("run_id", "record_a_id", "record_b_id", "score", "entity_type", "block_key", "match_reasons", "field_scores")
	sb.From(table)
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("score DESC", "record_a_id", "record_b_id")
	sb.Limit(limit)
	sb.Offset(max(offset, 0))

	query, args := sb.Build()
	var rows []row
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list match candidates")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list match candidates")
	}

	out := make([]models.MatchCandidate, len(rows))
	for i, rec := range rows {
		out[i] = models.MatchCandidate{
			RecordAID:    rec.RecordAID,
			RecordBID:    rec.RecordBID,
			Score:        rec.Score,
			MatchReasons: rec.MatchReasons.Data,
			EntityType:   rec.EntityType,
			BlockKey:     rec.BlockKey,
			FieldScores:  rec.FieldScores.Data,
		}
	}
	return out, nil
}
