package resolutionrun

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles resolution run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new resolution run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a finished run
func (r *Repository) Create(ctx context.Context, result *resolution.Result) error {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Create")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto("resolution_runs")
	ib.Cols("run_id", "batch_id", "entity_types", "stats", "started_at", "completed_at")
	ib.Values(result.RunID, result.BatchID, pq.Array(result.EntityTypes()), database.NewJSONB(result.Stats),
		result.StartedAt, time.Now().UTC())

	query, args := ib.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": result.RunID}).Error("Failed to create resolution run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create resolution run")
	}

	return nil
}

// Exists reports whether a run was recorded
func (r *Repository) Exists(ctx context.Context, runID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutionrun.Repository.Exists")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From("resolution_runs")
	sb.Where(sb.Equal("run_id", runID))

	query, args := sb.Build()
	var count int
	if err := database.Conn(ctx, r.db).QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up resolution run")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up resolution run")
	}
	return count > 0, nil
}
