package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/retina-screen/internal/auth"
	"github.com/example/retina-screen/internal/config"
	"github.com/example/retina-screen/internal/handlers"
	"github.com/example/retina-screen/internal/inference"
	"github.com/example/retina-screen/internal/logging"
	"github.com/example/retina-screen/internal/metrics"
	"github.com/example/retina-screen/internal/report"
	"github.com/example/retina-screen/internal/repository"
	"github.com/example/retina-screen/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var attempts usecase.AttemptLog
	if cfg.DatabaseDSN != "" {
		repo := repository.NewSubmissionRepository(initDatabase(ctx, cfg.DatabaseDSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		attempts = repo
	} else {
		logger.Info("DATABASE_DSN not set, submission attempt log disabled")
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	var readiness handlers.ReadinessChecker
	if cfg.InferenceGRPCHealthAddr != "" {
		probe, err := inference.DialHealthProbe(ctx, cfg.InferenceGRPCHealthAddr, "", logger)
		if err != nil {
			logger.Fatal("failed to set up inference health probe", zap.Error(err))
		}
		defer probe.Close()
		readiness = probe
	}

	metrics.Register()

	client := inference.NewHTTPClient(cfg.InferenceURL, cfg.InferenceTimeout, logger)
	exporter := report.NewExporter(
		report.NewRefLoader(cfg.InferenceTimeout),
		report.NewCanvasRasterizer(cfg.ExportScale),
		logger,
	)
	uc := usecase.NewScreeningUseCase(client, usecase.NewRedisCache(redisClient), attempts, exporter, logger, usecase.Settings{
		TickInterval:   cfg.ProgressTick,
		MaxIncrement:   cfg.ProgressMaxIncrement,
		HydrationDelay: cfg.HydrationDelay,
		NavigationTTL:  cfg.NavigationTTL,
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go uc.ExpireSessions(janitorCtx, cfg.SessionIdleTTL, time.Minute)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, every caller may submit images")
	}
	gate := auth.SubmissionGate(cfg.JWTSecret, cfg.JWTAudience)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes
	handlers.RegisterRoutes(r, uc, gate, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Readiness:      readiness,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("screening API listening", zap.String("addr", cfg.ListenAddr))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
