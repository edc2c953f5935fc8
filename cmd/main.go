package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classifieds/internal/config"
	"classifieds/internal/delivery/router"
	"classifieds/internal/infrastructure/cache"
	"classifieds/internal/infrastructure/metrics"
	"classifieds/internal/infrastructure/objectstore"
	"classifieds/internal/repository"
	"classifieds/internal/service"
	"classifieds/pkg/database"
	"classifieds/pkg/logger"
	"classifieds/pkg/utils"

	"github.com/go-chi/chi/v5"
	redisClient "github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	cfg := config.MustLoadConfig()

	loggers, err := logger.SetupLogger(cfg.Logger.Level, cfg.Logger.File)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	loggers.InfoLogger.Info("Logger initialized")

	db, cleanupDB := setupDatabase(cfg, loggers)
	defer cleanupDB()

	adCache, cleanupRedis := setupRedis(cfg, loggers)
	defer cleanupRedis()

	tracerProvider := setupTracer(cfg, loggers)
	defer shutdownTracer(tracerProvider, loggers)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	handlerMetrics := metrics.NewHandlerMetrics(registry)
	serviceMetrics := metrics.NewServiceMetrics(registry)
	repositoryMetrics := metrics.NewRepositoryMetrics(registry)
	objectStoreMetrics := metrics.NewObjectStoreMetrics(registry)
	loggers.InfoLogger.Info("Prometheus metrics initialized")

	store := setupObjectStore(cfg, loggers, objectStoreMetrics)

	adRepo := repository.NewSQLAdRepository(db, adCache, cfg.Redis.TTL, repositoryMetrics)
	adService := service.NewAdService(adRepo, store, cfg.Upload.KeyPrefix, cfg.ObjectStore.CleanupTimeout, serviceMetrics, loggers)
	loggers.InfoLogger.Info("Service and repository layers initialized")

	r := chi.NewRouter()
	router.SetupAdRoutes(r, adService, loggers, handlerMetrics, router.Options{
		RequestTimeout: cfg.HTTP.Timeout,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})
	loggers.InfoLogger.Info("Router and routes initialized")

	r.Handle("/metrics", handlerMetrics.HTTPHandler())

	serve(cfg, r, loggers)
}

func databaseDSN(cfg config.DatabaseConfig) string {
	if cfg.Driver == database.DriverSQLite {
		return cfg.Path
	}

	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mysqlCfg.DBName = cfg.Name
	mysqlCfg.ParseTime = true
	mysqlCfg.Loc = time.UTC
	// UPDATE reports matched rather than changed rows.
	mysqlCfg.ClientFoundRows = true
	return mysqlCfg.FormatDSN()
}

func setupDatabase(cfg *config.Config, loggers *logger.Loggers) (*sql.DB, func()) {
	db, err := database.NewDatabase(cfg.Database.Driver, databaseDSN(cfg.Database))
	if err != nil {
		loggers.ErrorLogger.Error("Failed to connect to database", utils.Err(err))
		os.Exit(1)
	}
	loggers.InfoLogger.Info("Connected to database", "driver", cfg.Database.Driver)

	if err := database.Migrate(context.Background(), db, cfg.Database.Driver); err != nil {
		loggers.ErrorLogger.Error("Failed to migrate database", utils.Err(err))
		os.Exit(1)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			loggers.ErrorLogger.Error("Failed to close database connection", utils.Err(err))
		}
	}

	return db, cleanup
}

func setupRedis(cfg *config.Config, loggers *logger.Loggers) (cache.Cache, func()) {
	if !cfg.Redis.Enabled {
		loggers.InfoLogger.Info("Redis disabled, ads are read from the database only")
		return cache.NewNoopCache(), func() {}
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		loggers.ErrorLogger.Error("Failed to connect to Redis", utils.Err(err))
		os.Exit(1)
	}
	loggers.InfoLogger.Info("Connected to Redis")

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			loggers.ErrorLogger.Error("Failed to close Redis client", utils.Err(err))
		}
	}

	return cache.NewRedisCache(rdb, cfg.Redis.Namespace), cleanup
}

func setupObjectStore(cfg *config.Config, loggers *logger.Loggers, m *metrics.ObjectStoreMetrics) objectstore.Gateway {
	var (
		gateway objectstore.Gateway
		err     error
	)

	switch cfg.ObjectStore.Backend {
	case "filesystem":
		gateway, err = objectstore.NewFilesystemGateway(cfg.ObjectStore.BasePath)
	default:
		gateway, err = objectstore.NewS3Gateway(context.Background(), objectstore.S3Options{
			Bucket:       cfg.ObjectStore.Bucket,
			Region:       cfg.ObjectStore.Region,
			Endpoint:     cfg.ObjectStore.Endpoint,
			AccessKey:    cfg.ObjectStore.AccessKey,
			SecretKey:    cfg.ObjectStore.SecretKey,
			UsePathStyle: cfg.ObjectStore.UsePathStyle,
		})
	}
	if err != nil {
		loggers.ErrorLogger.Error("Failed to set up object store", utils.Err(err))
		os.Exit(1)
	}
	loggers.InfoLogger.Info("Object store initialized", "backend", cfg.ObjectStore.Backend, "bucket", cfg.ObjectStore.Bucket)

	return objectstore.NewInstrumentedGateway(gateway, cfg.ObjectStore.Backend, m)
}

func setupTracer(cfg *config.Config, loggers *logger.Loggers) *sdktrace.TracerProvider {
	if !cfg.Tracing.Enabled {
		loggers.InfoLogger.Info("Tracing disabled")
		return nil
	}

	tracerProvider, err := metrics.InitTracer(context.Background(), metrics.TracerOptions{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     cfg.Tracing.Version,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		loggers.ErrorLogger.Error("Failed to initialize tracer", utils.Err(err))
		os.Exit(1)
	}
	loggers.InfoLogger.Info("OpenTelemetry Tracer initialized")
	return tracerProvider
}

func shutdownTracer(tp *sdktrace.TracerProvider, loggers *logger.Loggers) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		loggers.ErrorLogger.Error("Failed to shut down tracer provider", utils.Err(err))
	}
}

func serve(cfg *config.Config, handler http.Handler, loggers *logger.Loggers) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  2 * cfg.HTTP.Timeout,
		WriteTimeout: 2 * cfg.HTTP.Timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		loggers.InfoLogger.Info("Starting server", "port", cfg.HTTP.Port)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			loggers.ErrorLogger.Error("Server stopped unexpectedly", utils.Err(err))
		}
		return
	case <-ctx.Done():
		loggers.InfoLogger.Info("Shutdown signal received, draining requests", "timeout", cfg.HTTP.ShutdownTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		loggers.ErrorLogger.Error("Server forced to shutdown", utils.Err(err))
		return
	}
	loggers.InfoLogger.Info("Server shutdown gracefully")
}
