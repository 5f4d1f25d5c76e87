package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/clusterlink"
	contactrepo "github.com/Ramsey-B/fern/internal/repositories/contact"
	purchaserepo "github.com/Ramsey-B/fern/internal/repositories/purchase"
	"github.com/Ramsey-B/fern/pkg/cluster"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/purchases"
	"github.com/Ramsey-B/fern/pkg/reconcile"
	contactroute "github.com/Ramsey-B/fern/pkg/routes/contact"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/identify"
	purchaseroute "github.com/Ramsey-B/fern/pkg/routes/purchase"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	tracerShutdown, err := setupTracing(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to set up tracing")
		os.Exit(1)
	}

	pg := &postgresDependency{cfg: cfg, logger: logger}
	kafkaDep := &kafkaDependency{cfg: cfg, logger: logger}
	graphDep := &graphDependency{cfg: cfg, logger: logger}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(pg)
	if cfg.KafkaEnabled {
		boot.AddDependency(kafkaDep)
	}
	if cfg.GraphMirrorEnabled {
		boot.AddDependency(graphDep)
	}

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = boot.Stop(stopCtx)
		tracerShutdown(stopCtx)
	}()

	db := pg.db

	contacts := contactrepo.NewRepository(db, logger)
	links := clusterlink.NewRepository(db, logger)
	purchaseStore := purchaserepo.NewRepository(db, logger)
	clusterIndex := cluster.NewIndex(links, logger)

	var emitter reconcile.EventEmitter
	if kafkaDep.producer != nil {
		emitter = events.NewEmitter(kafkaDep.producer, logger)
	}

	var mirror reconcile.ClusterMirror
	var graphPinger health.GraphPinger
	if graphDep.client != nil {
		mirror = graph.NewClusterService(graphDep.client, logger)
		graphPinger = graphDep.client
	}

	engine := reconcile.NewEngine(db, contacts, clusterIndex, emitter, mirror, logger)
	purchasesSvc := purchases.NewService(contacts, clusterIndex, purchaseStore, logger)

	container, err := buildContainer(logger, contacts, engine, purchasesSvc)
	if err != nil {
		logger.WithError(err).Error("Failed to build DI container")
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(injectContainer(container))

	api := e.Group("/api/v1")
	identify.Register(api.Group("/identify"))
	purchaseroute.Register(api.Group("/purchases"))
	contactroute.Register(api.Group("/contacts"))

	checker := health.NewChecker(db, graphPinger, version)
	checker.RegisterRoutes(e)
	checker.SetReady(true)

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down server cleanly")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if cfg.PrettyLogs {
			fmt.Printf("%s [%s] %s %v\n", time.Now().UTC().Format(time.RFC3339), msg.Level, msg.Message, msg.Fields)
			return
		}
		data, err := json.Marshal(msg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal log message: %v\n", err)
			return
		}
		fmt.Println(string(data))
	})
}

func setupTracing(ctx context.Context, cfg config.Config, logger ectologger.Logger) (func(context.Context), error) {
	if !cfg.TracingEnabled {
		return func(context.Context) {}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	if cfg.TracingOTLPProtocol == "console" {
		exporter = exporters.NewConsoleExporter(logger)
	} else {
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: true,
			Timeout:  10 * time.Second,
		})
	}
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", version),
		)),
	)

	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	return func(ctx context.Context) { _ = tp.Shutdown(ctx) }, nil
}

func buildContainer(logger ectologger.Logger, contacts *contactrepo.Repository, engine *reconcile.Engine, purchasesSvc *purchases.Service) (ectocontainer.DIContainer, error) {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return nil, err
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*contactrepo.Repository](container, contacts); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*reconcile.Engine](container, engine); err != nil {
		return nil, err
	}
	if err := ectoinject.RegisterInstance[*purchases.Service](container, purchasesSvc); err != nil {
		return nil, err
	}

	return container, nil
}

func injectContainer(container ectocontainer.DIContainer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, err := ectoinject.SetActiveContainer(c.Request().Context(), container.GetContainerID())
			if err != nil {
				return err
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// postgresDependency connects to the identity store and applies migrations
type postgresDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	db     database.DB
	sqlxDB *sqlx.DB
}

func (d *postgresDependency) GetName() string     { return "postgres" }
func (d *postgresDependency) DependsOn() []string { return nil }

func (d *postgresDependency) Start(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.cfg.DatabaseHost, d.cfg.DatabasePort, d.cfg.DatabaseUserName,
		d.cfg.DatabasePassword, d.cfg.DatabaseName, d.cfg.DatabaseSSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, d.cfg.DatabaseDriver, dsn)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(d.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(d.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(d.cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(d.logger, &database.MigrationConfig{
		MigrationFolderPath: d.cfg.DatabaseMigrationFolderPath,
		Version:             uint(d.cfg.DatabaseMigrationVersion),
		Force:               d.cfg.DatabaseMigrationForce,
		AutoRollback:        d.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(d.cfg.DatabaseName, driver); err != nil {
		return err
	}

	d.sqlxDB = db
	d.db = database.NewDatabaseInstance(db, d.logger)
	return nil
}

func (d *postgresDependency) Stop(_ context.Context) error {
	if d.sqlxDB == nil {
		return nil
	}
	return d.sqlxDB.Close()
}

// kafkaDependency owns the identity event producer
type kafkaDependency struct {
	cfg      config.Config
	logger   ectologger.Logger
	producer *kafka.Producer
}

func (d *kafkaDependency) GetName() string     { return "kafka" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(_ context.Context) error {
	d.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      d.cfg.KafkaBrokers,
		Topic:        d.cfg.KafkaOutputTopic,
		BatchSize:    d.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(d.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: d.cfg.KafkaRequiredAcks,
		Compression:  d.cfg.KafkaCompression,
	}, d.logger)
	return nil
}

func (d *kafkaDependency) Stop(_ context.Context) error {
	if d.producer == nil {
		return nil
	}
	return d.producer.Close()
}

// graphDependency owns the optional cluster mirror connection
type graphDependency struct {
	cfg    config.Config
	logger ectologger.Logger
	client *graph.Client
}

func (d *graphDependency) GetName() string     { return "graph" }
func (d *graphDependency) DependsOn() []string { return nil }

func (d *graphDependency) Start(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     d.cfg.GraphDBHost,
		Port:     d.cfg.GraphDBPort,
		Username: d.cfg.GraphDBUser,
		Password: d.cfg.GraphDBPassword,
	}, d.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		return err
	}
	d.client = client
	return nil
}

func (d *graphDependency) Stop(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Close(ctx)
}
