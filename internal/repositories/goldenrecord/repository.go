package goldenrecord

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
	table        = "golden_records"
	membersTable = "golden_record_members"
)

type row struct {
	GoldenID    string                                 `db:"golden_id"`
	EntityType  string                                 `db:"entity_type"`
	Fingerprint string                                 `db:"fingerprint"`
	Attributes  database.JSONB[models.Attributes]      `db:"attributes"`
	Lineage     database.JSONB[[]models.LineageEntry]  `db:"lineage"`
	Conflicts   database.JSONB[[]models.MergeConflict] `db:"conflicts"`
}

// Repository handles golden record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new golden record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert stores a golden record keyed by its membership fingerprint.
// When the same membership was stored before, the existing golden id is kept
// and returned, and the record's GoldenID is updated to match.
func (r *Repository) Upsert(ctx context.Context, runID string, golden *models.GoldenRecord) error {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.Upsert")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"golden_id":   golden.GoldenID,
		"fingerprint": golden.Fingerprint,
	})

	ctxTx, tx, err := r.db.GetTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto(table)
	ib.Cols("golden_id", "entity_type", "fingerprint", "attributes", "lineage", "conflicts", "run_id", "created_at", "updated_at")
	ib.Values(golden.GoldenID, golden.EntityType, golden.Fingerprint,
		database.NewJSONB(golden.Attributes), database.NewJSONB(golden.Lineage), database.NewJSONB(golden.Conflicts),
		runID, now, now)
	database.OnConflictUpdate(ib, []string{"fingerprint"}, "attributes", "lineage", "conflicts", "run_id", "updated_at")

	query, args := ib.Build()
	query += " RETURNING golden_id"

	var storedID string
	if err := tx.QueryRowxContext(ctxTx, query, args...).Scan(&storedID); err != nil {
		log.WithError(err).Error("Failed to upsert golden record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store golden record")
	}
	golden.GoldenID = storedID

	mb := database.NewInsertBuilder()
	mb.InsertInto(membersTable)
	mb.Cols("golden_id", "record_id", "position")
	for i, id := range golden.SourceRecordIDs {
		mb.Values(storedID, id, i)
	}
	database.OnConflictDoNothing(mb, "golden_id", "record_id")

	query, args = mb.Build()
	if _, err := tx.ExecContext(ctxTx, query, args...); err != nil {
		log.WithError(err).Error("Failed to store golden record members")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to store golden record members")
	}

	return tx.Commit(ctxTx)
}

// Get retrieves a golden record with its members and lineage
func (r *Repository) Get(ctx context.Context, goldenID string) (*models.GoldenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "goldenrecord.Repository.Get")
	defer span.End()

	conn := database.Conn(ctx, r.db)

	sb := database.NewSelectBuilder()
	sb.Select("golden_id", "entity_type", "fingerprint", "attributes", "lineage", "conflicts")
	sb.From(table)
	sb.Where(sb.Equal("golden_id", goldenID))

	query, args := sb.Build()
	var rec row
	if err := sqlx.GetContext(ctx, conn, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("golden record %s not found", goldenID))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get golden record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get golden record")
	}

	mb := database.NewSelectBuilder()
	mb.Select("record_id")
	mb.From(membersTable)
	mb.Where(mb.Equal("golden_id", goldenID))
	mb.OrderBy("position")

	query, args = mb.Build()
	var members []string
	if err := sqlx.SelectContext(ctx, conn, &members, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get golden record members")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get golden record members")
	}

	return &models.GoldenRecord{
		GoldenID:        rec.GoldenID,
		EntityType:      rec.EntityType,
		Attributes:      rec.Attributes.Data,
		SourceRecordIDs: members,
		Lineage:         rec.Lineage.Data,
		Conflicts:       rec.Conflicts.Data,
		Fingerprint:     rec.Fingerprint,
	}, nil
}
