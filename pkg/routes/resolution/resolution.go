package resolution

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

// CandidateReader reads persisted match candidates
type CandidateReader interface {
	ListByRun(ctx context.Context, runID string, limit, offset int) ([]models.MatchCandidate, error)
}

// ResolveRequest is the body of POST /resolutions. Threshold and weights
// override the service's matcher for this request only.
type ResolveRequest struct {
	BatchID   string                 `json:"batch_id"`
	Records   []models.SourceRecord  `json:"records" validate:"required,min=1,dive"`
	Threshold *float64               `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	Weights   []matching.FieldWeight `json:"weights,omitempty" validate:"omitempty,dive"`
}

// CandidatesResponse is a page of persisted candidates
type CandidatesResponse struct {
	RunID      string                  `json:"run_id"`
	Candidates []models.MatchCandidate `json:"candidates"`
	Limit      int                     `json:"limit"`
	Offset     int                     `json:"offset"`
}

// Register registers resolution routes
func Register(g *echo.Group) {
	g.POST("", Resolve)
	g.GET("/:run_id/candidates", ListCandidates)
}

// Resolve runs the pipeline over the request's records. With dry_run=true
// the result is returned without being handed to any sink.
func Resolve(c echo.Context) error {
	ctx := c.Request().Context()

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, service, err := ectoinject.GetContext[*resolution.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, logger, err := ectoinject.GetContext[ectologger.Logger](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	service, err = serviceFor(service, logger, req)
	if err != nil {
		return err
	}

	var result *resolution.Result
	if c.QueryParam("dry_run") == "true" {
		result, err = service.Resolve(ctx, req.Records)
		if result != nil {
			result.BatchID = req.BatchID
		}
	} else {
		result, err = service.Run(ctx, models.RecordBatch{BatchID: req.BatchID, Records: req.Records})
	}
	if err != nil {
		return err
	}

	logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":         result.RunID,
		"golden_records": len(result.GoldenRecords),
	}).Info("Resolution request complete")

	return c.JSON(http.StatusOK, result)
}

func serviceFor(service *resolution.Service, logger ectologger.Logger, req ResolveRequest) (*resolution.Service, error) {
	if req.Threshold == nil && len(req.Weights) == 0 {
		return service, nil
	}

	cfg := service.Matcher().Config()
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if len(req.Weights) > 0 {
		cfg.Weights = req.Weights
	}

	matcher, err := matching.NewEngine(logger, cfg)
	if err != nil {
		return nil, err
	}
	return service.WithMatcher(matcher), nil
}

// ListCandidates returns persisted candidates for a run, highest score first
func ListCandidates(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, candidates, err := ectoinject.GetContext[CandidateReader](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "candidate persistence is not configured")
	}

	runID := c.Param("run_id")
	limit, err := intParam(c, "limit", 100)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}

	page, err := candidates.ListByRun(ctx, runID, limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, CandidatesResponse{
		RunID:      runID,
		Candidates: page,
		Limit:      limit,
		Offset:     offset,
	})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return v, nil
}
