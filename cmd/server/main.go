package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/fieldserve/trellis/config"
	"github.com/fieldserve/trellis/internal/repositories/auditlog"
	"github.com/fieldserve/trellis/internal/repositories/billing"
	"github.com/fieldserve/trellis/internal/repositories/invoice"
	"github.com/fieldserve/trellis/internal/repositories/stagedcustomer"
	"github.com/fieldserve/trellis/internal/repositories/stagedinventoryitem"
	"github.com/fieldserve/trellis/internal/repositories/stagedotheritem"
	"github.com/fieldserve/trellis/internal/repositories/stagedserviceitem"
	"github.com/fieldserve/trellis/pkg/bridge"
	"github.com/fieldserve/trellis/pkg/database"
	"github.com/fieldserve/trellis/pkg/events"
	"github.com/fieldserve/trellis/pkg/export"
	"github.com/fieldserve/trellis/pkg/kafka"
	"github.com/fieldserve/trellis/pkg/middleware"
	"github.com/fieldserve/trellis/pkg/qbxml"
	"github.com/fieldserve/trellis/pkg/routes/health"
	invoiceroutes "github.com/fieldserve/trellis/pkg/routes/invoice"
	"github.com/fieldserve/trellis/pkg/routes/qbwc"
	runroutes "github.com/fieldserve/trellis/pkg/routes/run"
	"github.com/fieldserve/trellis/pkg/session"
	"github.com/fieldserve/trellis/pkg/snapshot"
	"github.com/fieldserve/trellis/pkg/startup"
	"github.com/fieldserve/trellis/pkg/tracing"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(&cfg)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	if err := run(&cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger ectologger.Logger) error {
	ctx := context.Background()

	dbDep := &databaseDependency{cfg: cfg, logger: logger}
	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(dbDep)
	if err := boot.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = boot.Stop(context.Background()) }()
	db := dbDep.db

	registry := session.NewRegistry(cfg.SessionTTL, logger)
	registry.StartSweeper(cfg.SessionSweepInterval)
	defer registry.Close()

	auditRepo := auditlog.NewRepository(db, logger, cfg.AuditPayloadMaxBytes)
	inventoryRepo := stagedinventoryitem.NewRepository(db, logger)
	serviceRepo := stagedserviceitem.NewRepository(db, logger)
	otherRepo := stagedotheritem.NewRepository(db, logger)
	customerRepo := stagedcustomer.NewRepository(db, logger)
	invoiceRepo := invoice.NewRepository(db, logger)
	billingRepo := billing.NewRepository(db, logger, cfg)

	var emitter *events.Emitter
	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
		emitter = events.NewEmitter(producer, logger)
	}

	snapshotSvc := snapshot.NewService(billingRepo, invoiceRepo, logger)
	exportSvc := export.NewService(invoiceRepo, billingRepo, emitterOrNil(emitter), logger)

	builder := qbxml.NewRequestBuilder(qbxml.Version{Major: cfg.QBXMLVersionMajor, Minor: cfg.QBXMLVersionMinor})
	bridgeSvc := bridge.NewService(cfg, registry, builder, exportSvc, auditRepo,
		inventoryRepo, serviceRepo, otherRepo, customerRepo, bridgeEmitterOrNil(emitter), logger)

	if err := registerDependencies(auditRepo, inventoryRepo, serviceRepo, otherRepo, customerRepo, snapshotSvc, bridgeSvc); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	qbwc.Register(e)
	invoiceroutes.Register(e.Group("/api/v1/invoices"))
	runroutes.Register(e.Group("/api/v1/runs"))

	checker := health.NewChecker(db, registry, bridge.ServerVersionString)
	checker.RegisterRoutes(e)
	checker.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()
	logger.WithFields(map[string]any{"port": cfg.Port}).Info("Server started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-stop:
		logger.WithFields(map[string]any{"signal": sig.String()}).Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// databaseDependency connects and migrates the database under the startup
// retry loop; a slow-starting postgres container should not kill the server.
type databaseDependency struct {
	cfg    *config.Config
	logger ectologger.Logger
	db     database.DB
}

func (d *databaseDependency) GetName() string {
	return "database"
}

func (d *databaseDependency) DependsOn() []string {
	return nil
}

func (d *databaseDependency) Start(ctx context.Context) error {
	db, err := connectDatabase(d.cfg, d.logger)
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func connectDatabase(cfg *config.Config, logger ectologger.Logger) (database.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, err
	}

	db := database.NewDatabaseInstance(sqlxDB, logger)
	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return nil, err
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func registerDependencies(
	auditRepo *auditlog.Repository,
	inventoryRepo *stagedinventoryitem.Repository,
	serviceRepo *stagedserviceitem.Repository,
	otherRepo *stagedotheritem.Repository,
	customerRepo *stagedcustomer.Repository,
	snapshotSvc *snapshot.Service,
	bridgeSvc *bridge.Service,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*auditlog.Repository](container, auditRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*stagedinventoryitem.Repository](container, inventoryRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*stagedserviceitem.Repository](container, serviceRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*stagedotheritem.Repository](container, otherRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*stagedcustomer.Repository](container, customerRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*snapshot.Service](container, snapshotSvc); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*bridge.Service](container, bridgeSvc)
}

// emitterOrNil keeps the typed-nil interface trap out of the wiring: a nil
// *events.Emitter must become a nil interface, not a non-nil interface
// wrapping nil.
func emitterOrNil(emitter *events.Emitter) export.Emitter {
	if emitter == nil {
		return nil
	}
	return emitter
}

func bridgeEmitterOrNil(emitter *events.Emitter) bridge.Emitter {
	if emitter == nil {
		return nil
	}
	return emitter
}

func newLogger(cfg *config.Config) ectologger.Logger {
	zapCfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zapCfg.Level = level
	}
	zapLogger, err := zapCfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		zapLogger = zap.NewNop()
	}
	sugar := zapLogger.Sugar().With("app", cfg.AppName)

	return ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		args := make([]any, 0, len(msg.Fields)*2)
		for key, value := range msg.Fields {
			args = append(args, key, value)
		}
		switch strings.ToLower(fmt.Sprint(msg.Level)) {
		case "debug":
			sugar.Debugw(msg.Message, args...)
		case "warn":
			sugar.Warnw(msg.Message, args...)
		case "error", "fatal":
			sugar.Errorw(msg.Message, args...)
		default:
			sugar.Infow(msg.Message, args...)
		}
	})
}
