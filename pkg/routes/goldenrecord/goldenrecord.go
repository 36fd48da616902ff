package goldenrecord

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

// GoldenReader reads persisted golden records
type GoldenReader interface {
	Get(ctx context.Context, goldenID string) (*models.GoldenRecord, error)
}

// SourceReader reads persisted source records
type SourceReader interface {
	Get(ctx context.Context, recordID string) (*models.SourceRecord, error)
	ListByIDs(ctx context.Context, recordIDs []string) ([]models.SourceRecord, error)
}

// SourcesResponse is a golden record together with the records it was built from
type SourcesResponse struct {
	GoldenRecord *models.GoldenRecord  `json:"golden_record"`
	Sources      []models.SourceRecord `json:"sources"`
}

// Register registers golden and source record routes
func Register(g *echo.Group) {
	g.GET("/golden-records/:id", GetGoldenRecord)
	g.GET("/golden-records/:id/sources", GetGoldenRecordSources)
	g.GET("/source-records/:id", GetSourceRecord)
}

// GetGoldenRecord returns a golden record with its lineage
func GetGoldenRecord(c echo.Context) error {
	ctx, golden, err := ectoinject.GetContext[GoldenReader](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "golden record persistence is not configured")
	}

	record, err := golden.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}

// GetGoldenRecordSources returns a golden record and its member source records
func GetGoldenRecordSources(c echo.Context) error {
	ctx, golden, err := ectoinject.GetContext[GoldenReader](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "golden record persistence is not configured")
	}
	ctx, sources, err := ectoinject.GetContext[SourceReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "source record persistence is not configured")
	}

	record, err := golden.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	members, err := sources.ListByIDs(ctx, record.SourceRecordIDs)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, SourcesResponse{
		GoldenRecord: record,
		Sources:      orderBy(members, record.SourceRecordIDs),
	})
}

// GetSourceRecord returns one source record
func GetSourceRecord(c echo.Context) error {
	ctx, sources, err := ectoinject.GetContext[SourceReader](c.Request().Context())
	if err != nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "source record persistence is not configured")
	}

	record, err := sources.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, record)
}

// orderBy returns records in the order of ids, dropping ids with no record
func orderBy(records []models.SourceRecord, ids []string) []models.SourceRecord {
	byID := make(map[string]models.SourceRecord, len(records))
	for _, r := range records {
		byID[r.RecordID] = r
	}
	out := make([]models.SourceRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
