package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/facestore"
	"github.com/example/facegate/internal/handlers"
	"github.com/example/facegate/internal/model"
	"github.com/example/facegate/internal/preprocess"
	"github.com/example/facegate/internal/remote"
	"github.com/example/facegate/internal/repository"
	"github.com/example/facegate/internal/verify"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the verification HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}

	repo := repository.NewAttemptRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return err
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(redisCtx).Err(); err != nil {
		return err
	}
	defer redisClient.Close()

	store := facestore.New(facestore.NewRedisKV(redisClient), logger)
	cache := verify.NewRedisCache(redisClient)
	runtime := model.NewRuntime(cfg.ModelConfig(), logger)

	var preOpts []preprocess.Option
	if cfg.LenientPreprocess {
		preOpts = append(preOpts, preprocess.WithLenient())
	}
	pipeline := preprocess.New(cfg.InputSize, logger, preOpts...)

	var remoteClient remote.Client
	if cfg.RemoteURL != "" {
		remoteClient = remote.NewHTTPClient(cfg.RemoteURL, cfg.RemoteAPIKey, logger)
	}

	svc := verify.NewService(runtime, pipeline, store, remoteClient, repo, cache, verify.Options{
		Policy:             cfg.Policy(),
		AllowFallbackMatch: cfg.AllowFallbackMatch,
	}, logger)
	defer svc.Dispose() //nolint:errcheck

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()
	if err := svc.Initialize(initCtx); err != nil {
		return err
	}

	router := gin.Default()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, svc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	logger.Info("facegate API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.Bool("real_model", runtime.Real()),
		zap.String("metric", cfg.Metric.String()),
	)
	return serveUntilShutdown(ctx, server)
}

func openDatabase(ctx context.Context) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// serveUntilShutdown runs the server until it fails or the command
// context is cancelled, then drains in-flight requests.
func serveUntilShutdown(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
