package sourcerecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	table     = "source_records"
	batchSize = 1000
)

var columns = []string{"record_id", "source_system", "entity_type", "attributes", "timestamp", "last_run_id", "updated_at"}

type row struct {
	RecordID     string                            `db:"record_id"`
	SourceSystem string                            `db:"source_system"`
	EntityType   string                            `db:"entity_type"`
	Attributes   database.JSONB[models.Attributes] `db:"attributes"`
	Timestamp    string                            `db:"timestamp"`
}

func (r row) toModel() models.SourceRecord {
	return models.SourceRecord{
		RecordID:     r.RecordID,
		SourceSystem: r.SourceSystem,
		EntityType:   r.EntityType,
		Attributes:   r.Attributes.Data,
		Timestamp:    r.Timestamp,
	}
}

// Repository handles source record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch stores the latest version of each record, tagged with the run that saw it
func (r *Repository) UpsertBatch(ctx context.Context, runID string, records []models.SourceRecord) error {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.UpsertBatch")
	defer span.End()

	now := time.Now().UTC()
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		// a single statement may not touch the same key twice
		seen := make(map[string]bool, end-start)

		ib := database.NewInsertBuilder()
		ib.InsertInto(table)
		ib.Cols(columns...)
		for i := end - 1; i >= start; i-- {
			rec := records[i]
			if seen[rec.RecordID] {
				continue
			}
			seen[rec.RecordID] = true
			ib.Values(rec.RecordID, rec.SourceSystem, rec.EntityType, database.NewJSONB(rec.Attributes), rec.Timestamp, runID, now)
		}
		database.OnConflictUpdate(ib, []string{"record_id"}, "source_system", "entity_type", "attributes", "timestamp", "last_run_id", "updated_at")

		query, args := ib.Build()
		if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"run_id": runID,
				"count":  end - start,
			}).Error("Failed to upsert source records")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store source records")
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(records)}).Debug("Upserted source records")
	return nil
}

// Get retrieves a source record by id
func (r *Repository) Get(ctx context.Context, recordID string) (*models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("record_id", "source_system", "entity_type", "attributes", "timestamp")
	sb.From(table)
	sb.Where(sb.Equal("record_id", recordID))

	query, args := sb.Build()
	var rec row
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("source record %s not found", recordID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get source record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source record")
	}

	out := rec.toModel()
	return &out, nil
}

// ListByIDs retrieves source records by id in unspecified order
func (r *Repository) ListByIDs(ctx context.Context, recordIDs []string) ([]models.SourceRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcerecord.Repository.ListByIDs")
	defer span.End()

	if len(recordIDs) == 0 {
		return nil, nil
	}

	ids := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		ids[i] = id
	}

	sb := database.NewSelectBuilder()
	sb.Select("record_id", "source_system", "entity_type", "attributes", "timestamp")
	sb.From(table)
	sb.Where(sb.In("record_id", ids...))

	query, args := sb.Build()
	var rows []row
	if err := sqlx.SelectContext(ctx, database.Conn(ctx, r.db), &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list source records")
	}

	out := make([]models.SourceRecord, len(rows))
	for i, rec := range rows {
		out[i] = rec.toModel()
	}
	return out, nil
}
