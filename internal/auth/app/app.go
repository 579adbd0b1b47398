package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/directory"
	"github.com/aussiebroadwan/authcore/internal/auth/events"
	httpapi "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/metrics"
	"github.com/aussiebroadwan/authcore/internal/auth/revocation"
	"github.com/aussiebroadwan/authcore/internal/auth/rpc"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/session"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// BuildVersion is overridden at build time with -ldflags "-X ...".
var BuildVersion = "v0.1.0"

// Application owns every long-lived dependency of the auth service.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Core dependencies
	db        *sqlite.Store // nil when nothing needs sqlite
	redis     *redis.Client
	keys      Keys
	directory service.PrincipalDirectory
	publisher *events.Publisher

	// Services
	engine       *service.Engine
	rotation     *service.KeyRotationService
	housekeeping *service.HousekeepingService

	// Listeners
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server

	stopErrors chan struct{}
}

// New creates a new Application instance with all dependencies initialized.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		clock:      clock.Real(),
		registry:   prometheus.NewRegistry(),
		stopErrors: make(chan struct{}),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New(app.registry)

	steps := []func(context.Context) error{
		app.initDatabase,
		app.initKeys,
		app.initCache,
		app.initEvents,
		app.initDirectory,
		app.initServices,
		app.initGRPC,
		app.initHTTP,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.closeResources(ctx)
			return nil, err
		}
	}
	return app, nil
}

// Run serves until SIGINT or SIGTERM, then shuts down.
func (app *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Serve(ctx)
}

// Serve starts the listeners and blocks until ctx ends or a listener fails,
// then shuts down.
func (app *Application) Serve(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", app.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	app.housekeeping.Start()
	go app.drainPublishErrors()

	app.logger.Info("auth service starting",
		"grpc_port", app.cfg.GRPCPort,
		"http_port", app.cfg.Port,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 2)
	go func() {
		if err := app.grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErrors <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := app.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErrors:
		app.logger.Error("listener failed", "error", runErr)
	case <-ctx.Done():
		app.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}

	if err := app.Shutdown(); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	return runErr
}

// Shutdown stops taking traffic, drains in-flight RPCs and queued events,
// then releases the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Load balancers watching grpc.health.v1 stop routing first.
	app.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		app.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		app.logger.Warn("grpc graceful stop timed out, forcing")
		app.grpcServer.Stop()
	}

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Error("graceful http shutdown failed", "error", err)
		_ = app.httpServer.Close()
	}

	app.housekeeping.Stop()

	err := app.closeResources(ctx)
	app.logger.Info("auth service stopped")
	return err
}

// closeResources releases whatever New managed to build.
func (app *Application) closeResources(ctx context.Context) error {
	var errs []error

	if app.publisher != nil {
		if err := app.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
		close(app.stopErrors)
	}
	if kd, ok := app.directory.(*directory.KafkaDirectory); ok {
		if err := kd.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka directory: %w", err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	for _, err := range errs {
		app.logger.Error("shutdown", "error", err)
	}
	return errors.Join(errs...)
}

// initDatabase opens sqlite when principals or signing keys live there and
// applies migrations.
func (app *Application) initDatabase(context.Context) error {
	if app.cfg.PrincipalSource != PrincipalSourceSQLite && app.cfg.KeyStorageMode != KeyStoragePersistent {
		return nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

func (app *Application) initKeys(ctx context.Context) error {
	var st *sqlite.Store
	if app.cfg.KeyStorageMode == KeyStoragePersistent {
		st = app.db
	}
	keys, err := InitKeys(ctx, app.cfg, storeOrNil(st), app.clock, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = keys
	app.metrics.SigningKeyVersion.Set(float64(keys.Ring.Version()))
	return nil
}

// storeOrNil keeps a nil *sqlite.Store from becoming a non-nil interface.
func storeOrNil(s *sqlite.Store) store.Store {
	if s == nil {
		return nil
	}
	return s
}

func (app *Application) initCache(ctx context.Context) error {
	app.redis = redis.NewClient(&redis.Options{
		Addr:         app.cfg.Redis.Addr,
		Password:     app.cfg.Redis.Password,
		DB:           app.cfg.Redis.DB,
		DialTimeout:  app.cfg.Redis.Timeout * 4,
		ReadTimeout:  app.cfg.Redis.Timeout,
		WriteTimeout: app.cfg.Redis.Timeout,
	})

	// Redis may come up after us; readiness reports it until then.
	pingCtx, cancel := context.WithTimeout(ctx, app.cfg.Redis.Timeout*4)
	defer cancel()
	if err := app.redis.Ping(pingCtx).Err(); err != nil {
		app.logger.Warn("redis not reachable at startup", "addr", app.cfg.Redis.Addr, "error", err)
	}
	return nil
}

func (app *Application) initEvents(context.Context) error {
	enc, err := events.ParseEncoding(app.cfg.Events.Encoding)
	if err != nil {
		return err
	}

	var sink events.Sink
	if len(app.cfg.Kafka.Brokers) > 0 {
		sink, err = events.NewKafkaSink(events.KafkaConfig{
			Brokers:  app.cfg.Kafka.Brokers,
			Topic:    app.cfg.Kafka.EventsTopic,
			Encoding: enc,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka event sink: %w", err)
		}
		app.logger.Info("publishing auth events to kafka", "topic", app.cfg.Kafka.EventsTopic, "encoding", enc)
	} else {
		sink = events.NewLogSink(app.logger)
		app.logger.Info("no kafka brokers configured, auth events go to the log")
	}

	app.publisher = events.NewPublisher(sink, events.Options{
		QueueSize: app.cfg.Events.QueueSize,
		Clock:     app.clock,
		Logger:    app.logger,
		Metrics:   app.metrics,
	})
	return nil
}

func (app *Application) initDirectory(ctx context.Context) error {
	switch app.cfg.PrincipalSource {
	case PrincipalSourceKafka:
		kd, err := directory.NewKafkaDirectory(ctx, directory.KafkaConfig{
			Brokers:      app.cfg.Kafka.Brokers,
			RequestTopic: app.cfg.Kafka.DirectoryRequestTopic,
			ReplyTopic:   app.cfg.Kafka.DirectoryReplyTopic,
			Timeout:      app.cfg.Kafka.DirectoryTimeout,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka directory: %w", err)
		}
		app.directory = kd
	default:
		n, err := app.db.Principals().CountPrincipals(ctx)
		if err != nil {
			return fmt.Errorf("failed to count principals: %w", err)
		}
		app.directory = directory.NewStoreDirectory(app.db)
		app.logger.Info("principal directory ready", "source", app.cfg.PrincipalSource, "principals", n)
		return nil
	}
	app.logger.Info("principal directory ready", "source", app.cfg.PrincipalSource)
	return nil
}

func (app *Application) initServices(context.Context) error {
	hasher, err := cryptox.NewHasher(app.cfg.HasherOptions())
	if err != nil {
		return err
	}

	revocations := revocation.New(app.redis, revocation.Options{
		Timeout: app.cfg.Redis.Timeout,
		Clock:   app.clock,
		Metrics: app.metrics,
	})
	sessions := session.New(app.redis, revocations, session.Options{
		MaxSessions: app.cfg.MaxSessions,
		Timeout:     2 * app.cfg.Redis.Timeout,
		Clock:       app.clock,
		Metrics:     app.metrics,
	})

	app.engine, err = service.NewEngine(service.Engine{
		Directory:   app.directory,
		Hasher:      hasher,
		Codec:       jwtx.NewCodec(app.cfg.Issuer, app.keys.Ring, app.clock),
		Revocations: revocations,
		Sessions:    sessions,
		Events:      app.publisher,
		Clock:       app.clock,
		Metrics:     app.metrics,
		Config: service.EngineConfig{
			TokenTTL:      app.cfg.TokenTTL,
			MaxTokenTTL:   app.cfg.MaxTokenTTL,
			DefaultScopes: app.cfg.DefaultScopes,
			FailPolicy:    service.FailPolicy(app.cfg.CacheFailPolicy),
		},
	})
	if err != nil {
		return err
	}

	app.rotation = &service.KeyRotationService{
		Store:       app.keys.Store,
		Encrypter:   app.keys.Encrypter,
		Ring:        app.keys.Ring,
		Algorithm:   app.cfg.Algorithm,
		RSABits:     app.cfg.RSABits,
		GracePeriod: app.cfg.KeyGracePeriod,
		Clock:       app.clock,
		Events:      app.publisher,
		Metrics:     app.metrics,
	}
	app.housekeeping = service.NewHousekeepingService(
		app.keys.Store,
		app.keys.Ring,
		app.rotation,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.KeyRotationInterval,
	)
	return nil
}

func (app *Application) initGRPC(context.Context) error {
	app.grpcServer, app.health = rpc.NewGRPCServer(rpc.NewServer(app.engine, app.rotation), rpc.Options{
		Logger:   app.logger,
		Metrics:  app.metrics,
		Strict:   app.cfg.RateLimit.Strict,
		Peer:     app.cfg.RateLimit.Peer,
		Moderate: app.cfg.RateLimit.Moderate,
	})
	return nil
}

func (app *Application) initHTTP(context.Context) error {
	checks := []httpapi.Check{
		{Name: "cache", Ping: func(ctx context.Context) error { return app.redis.Ping(ctx).Err() }},
	}
	if app.db != nil {
		checks = append(checks, httpapi.Check{Name: "database", Ping: app.db.Ping})
	}

	router := httpapi.NewRouter(httpapi.Options{
		Ring:     app.keys.Ring,
		Checks:   checks,
		Metrics:  app.metrics,
		Gatherer: app.registry,
		Version:  BuildVersion,
		Logger:   app.logger,
		Limit:    app.cfg.RateLimit.Public,
	})
	router.ApplyRoutes()

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

// drainPublishErrors logs events the publisher gave up on.
func (app *Application) drainPublishErrors() {
	for {
		select {
		case pe := <-app.publisher.Errors():
			app.logger.Error("auth events undelivered",
				"count", len(pe.Events),
				"error", pe.Err,
			)
		case <-app.stopErrors:
			return
		}
	}
}
