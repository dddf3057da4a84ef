// Package cmd hosts the facegate CLI: the serve command runs the HTTP
// service, the remaining commands administer enrollments directly
// against the configured backends.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/facestore"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/model"
	"github.com/example/facegate/internal/preprocess"
	"github.com/example/facegate/internal/verify"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Face-verification service for the student wallet point of sale",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.NewLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync() //nolint:errcheck
		}
	},
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLocalService builds an initialized service over Redis for the admin
// commands, without the HTTP/audit layers.
func newLocalService(ctx context.Context) (*verify.Service, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}

	store := facestore.New(facestore.NewRedisKV(client), logger)
	runtime := model.NewRuntime(cfg.ModelConfig(), logger)

	var preOpts []preprocess.Option
	if cfg.LenientPreprocess {
		preOpts = append(preOpts, preprocess.WithLenient())
	}
	pipeline := preprocess.New(cfg.InputSize, logger, preOpts...)

	svc := verify.NewService(runtime, pipeline, store, nil, nil, nil, verify.Options{
		Policy:             cfg.Policy(),
		AllowFallbackMatch: cfg.AllowFallbackMatch,
	}, logger)

	cleanup := func() {
		svc.Dispose() //nolint:errcheck
		client.Close()
	}

	if err := svc.Initialize(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}
