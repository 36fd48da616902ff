package routes

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/routes/goldenrecord"
	resolutionroutes "github.com/Ramsey-B/fern/pkg/routes/resolution"
)

// Dependencies are the collaborators the route handlers resolve per request.
// Readers left nil are not registered and their routes answer 501.
type Dependencies struct {
	Logger     ectologger.Logger
	Service    *resolution.Service
	Candidates resolutionroutes.CandidateReader
	Golden     goldenrecord.GoldenReader
	Sources    goldenrecord.SourceReader
}

// NewContainer registers deps in a new dependency container. Every call gets
// its own container id.
func NewContainer(deps Dependencies) (ectocontainer.DIContainer, error) {
	if deps.Logger == nil {
		return nil, errors.New("routes: logger is required")
	}
	if deps.Service == nil {
		return nil, errors.New("routes: resolution service is required")
	}

	logger := deps.Logger
	container, err := ectoinject.NewDIContainer(ectocontainer.DIContainerConfig{
		ID:                       "fern-" + uuid.NewString(),
		AllowCaptiveDependencies: true,
		AllowMissingDependencies: true,
		LoggerConfig: &ectocontainer.DIContainerLoggerConfig{
			Enabled: true,
			LogFunc: func(ctx context.Context, level, msg string) {
				if level == loglevel.WARN {
					logger.WithContext(ctx).Warn(msg)
					return
				}
				logger.WithContext(ctx).Debug(msg)
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create dependency container")
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, deps.Logger); err != nil {
		return nil, errors.Wrap(err, "failed to register logger")
	}
	if err := ectoinject.RegisterInstance[*resolution.Service](container, deps.Service); err != nil {
		return nil, errors.Wrap(err, "failed to register resolution service")
	}
	if deps.Candidates != nil {
		if err := ectoinject.RegisterInstance[resolutionroutes.CandidateReader](container, deps.Candidates); err != nil {
			return nil, errors.Wrap(err, "failed to register candidate reader")
		}
	}
	if deps.Golden != nil {
		if err := ectoinject.RegisterInstance[goldenrecord.GoldenReader](container, deps.Golden); err != nil {
			return nil, errors.Wrap(err, "failed to register golden record reader")
		}
	}
	if deps.Sources != nil {
		if err := ectoinject.RegisterInstance[goldenrecord.SourceReader](container, deps.Sources); err != nil {
			return nil, errors.Wrap(err, "failed to register source record reader")
		}
	}

	return container, nil
}
