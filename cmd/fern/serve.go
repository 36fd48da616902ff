package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/repositories/goldenrecord"
	"github.com/Ramsey-B/fern/internal/repositories/matchcandidate"
	"github.com/Ramsey-B/fern/internal/repositories/resolutionrun"
	"github.com/Ramsey-B/fern/internal/repositories/sourcerecord"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the Kafka batch consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// server holds the collaborators created while starting up
type server struct {
	db        *database.DatabaseInstance
	redis     *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	service   *resolution.Service
	echo      *echo.Echo
	checker   *health.Checker
	listener  net.Listener
	serveErrs chan error
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.config
	log := a.logger.WithContext(ctx)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.OtelServiceName,
		Endpoint:    cfg.OtelEndpoint,
		Protocol:    cfg.OtelProtocol,
		Insecure:    cfg.OtelInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	s := &server{
		checker:   health.NewChecker(cfg.AppName),
		serveErrs: make(chan error, 1),
	}
	st := startup.NewStartup(a.logger, cfg.StartupMaxAttempts)
	pipelineDeps := []string{}

	if cfg.DatabaseEnabled {
		st.AddDependency(&startup.Dependency{
			Name:    "database",
			OnStart: func(ctx context.Context) error { return a.startDatabase(ctx, s) },
			OnStop: func(context.Context) error {
				return s.db.Close()
			},
		})
		pipelineDeps = append(pipelineDeps, "database")
	}

	if cfg.RedisEnabled {
		st.AddDependency(&startup.Dependency{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, a.logger)
				if err != nil {
					return err
				}
				s.redis = client
				s.checker.AddCheck("redis", client.Ping)
				return nil
			},
			OnStop: func(context.Context) error { return s.redis.Close() },
		})
		pipelineDeps = append(pipelineDeps, "redis")
	}

	if cfg.GraphDBEnabled {
		st.AddDependency(&startup.Dependency{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("graph database unreachable: %w", err)
				}
				s.graph = client
				s.checker.AddCheck("graph", client.VerifyConnectivity)
				return nil
			},
			OnStop: func(ctx context.Context) error { return s.graph.Close(ctx) },
		})
		pipelineDeps = append(pipelineDeps, "graph")
	}

	if cfg.KafkaProducerEnabled {
		st.AddDependency(&startup.Dependency{
			Name: "kafka-producer",
			OnStart: func(context.Context) error {
				s.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:        cfg.KafkaBrokers,
					GoldenTopic:    cfg.KafkaGoldenTopic,
					CandidateTopic: cfg.KafkaCandidateTopic,
					BatchSize:      cfg.KafkaBatchSize,
					BatchTimeout:   time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks:   cfg.KafkaRequiredAcks,
					Compression:    cfg.KafkaCompression,
				}, a.logger)
				return nil
			},
			OnStop: func(context.Context) error { return s.producer.Close() },
		})
		pipelineDeps = append(pipelineDeps, "kafka-producer")
	}

	st.AddDependency(&startup.Dependency{
		Name:     "pipeline",
		Requires: pipelineDeps,
		OnStart:  func(context.Context) error { return a.startPipeline(s) },
	})

	st.AddDependency(&startup.Dependency{
		Name:     "http",
		Requires: []string{"pipeline"},
		OnStart:  func(context.Context) error { return a.startHTTP(s) },
		OnStop: func(ctx context.Context) error {
			return s.echo.Shutdown(ctx)
		},
	})

	if cfg.KafkaConsumerEnabled {
		st.AddDependency(&startup.Dependency{
			Name:     "kafka-consumer",
			Requires: []string{"pipeline"},
			OnStart: func(ctx context.Context) error {
				s.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaInputTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, s.service, a.logger)
				return s.consumer.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(context.Context) error { return s.consumer.Stop() },
		})
	}

	if err := st.Start(ctx); err != nil {
		if stopErr := st.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			log.WithError(stopErr).Warn("Failed to stop partially started dependencies")
		}
		return err
	}
	s.checker.SetReady(true)
	log.Infof("%s listening on %s", cfg.AppName, s.listener.Addr())

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-s.serveErrs:
		log.WithError(err).Error("HTTP server stopped unexpectedly")
	}

	s.checker.SetReady(false)
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	return st.Stop(stopCtx)
}

func (a *app) startDatabase(ctx context.Context, s *server) error {
	cfg := a.config
	db, err := database.Connect(ctx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	if cfg.DatabaseMigrateOnStart {
		if err := a.migrationService().Migrate(db, cfg.DatabaseName); err != nil {
			_ = db.Close()
			return err
		}
	}

	s.db = db
	s.checker.AddCheck("database", db.PingContext)
	return nil
}

func (a *app) startPipeline(s *server) error {
	matchCfg, err := a.config.MatchingConfig()
	if err != nil {
		return err
	}

	var opts []resolution.Option
	if s.redis != nil {
		opts = append(opts, resolution.WithRunLocker(redis.NewLocker(s.redis, "", a.config.RunLockTTL)))
	}
	if s.db != nil {
		opts = append(opts, resolution.WithSinks(resolutionrun.NewSink(
			s.db,
			a.logger,
			resolutionrun.NewRepository(s.db, a.logger),
			sourcerecord.NewRepository(s.db, a.logger),
			matchcandidate.NewRepository(s.db, a.logger),
			goldenrecord.NewRepository(s.db, a.logger),
		)))
	}
	if s.graph != nil {
		opts = append(opts, resolution.WithSinks(graph.NewProjection(s.graph, a.logger)))
	}
	if s.producer != nil {
		opts = append(opts, resolution.WithSinks(s.producer))
	}

	service, err := buildService(a.config, matchCfg, a.logger, opts...)
	if err != nil {
		return err
	}
	s.service = service
	return nil
}

func (a *app) startHTTP(s *server) error {
	cfg := a.config

	e := routes.NewEcho(a.logger,
		otelecho.Middleware(cfg.AppName),
		echomw.Recover(),
		echomw.BodyLimit(cfg.HttpServerBodyLimit),
	)
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	deps := routes.Dependencies{Logger: a.logger, Service: s.service}
	if s.db != nil {
		deps.Candidates = matchcandidate.NewRepository(s.db, a.logger)
		deps.Golden = goldenrecord.NewRepository(s.db, a.logger)
		deps.Sources = sourcerecord.NewRepository(s.db, a.logger)
	}
	container, err := routes.NewContainer(deps)
	if err != nil {
		return err
	}
	routes.Register(e, container.GetContainerID(), s.checker)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}
	e.Listener = ln
	s.listener = ln
	s.echo = e

	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErrs <- err
		}
	}()
	return nil
}
