// Package config loads service configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/example/facegate/internal/embedding"
	"github.com/example/facegate/internal/model"
)

// Config carries every tunable knob of the service.
type Config struct {
	ListenAddr string
	LogLevel   string

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	// Model artifact and tensor shape.
	ModelPath        string
	ModelLibraryPath string
	InputSize        int
	EmbeddingDim     int

	// Decision policy.
	Metric             embedding.Metric
	Threshold          float64
	AllowFallbackMatch bool

	// Preprocessing.
	LenientPreprocess bool

	// Optional remote verification backend.
	RemoteURL    string
	RemoteAPIKey string
}

// Load reads configuration from a .env file (when present) and the
// process environment.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	metric, err := embedding.ParseMetric(getEnv("SIMILARITY_METRIC", "cosine"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", ""),

		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facegate port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),

		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		ModelPath:        os.Getenv("MODEL_PATH"),
		ModelLibraryPath: os.Getenv("ONNXRUNTIME_LIB"),

		Metric:             metric,
		AllowFallbackMatch: getBool("ALLOW_FALLBACK_MATCH", false),
		LenientPreprocess:  getBool("LENIENT_PREPROCESS", false),

		RemoteURL:    os.Getenv("REMOTE_VERIFY_URL"),
		RemoteAPIKey: os.Getenv("REMOTE_VERIFY_API_KEY"),
	}

	cfg.InputSize, err = getInt("MODEL_INPUT_SIZE", model.DefaultInputSize)
	if err != nil {
		return nil, err
	}
	cfg.EmbeddingDim, err = getInt("EMBEDDING_DIM", model.DefaultDim)
	if err != nil {
		return nil, err
	}

	defaultThreshold := embedding.DefaultPolicy(metric).Threshold
	cfg.Threshold, err = getFloat("SIMILARITY_THRESHOLD", defaultThreshold)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Policy builds the decision policy from the configured metric and
// threshold.
func (c *Config) Policy() embedding.Policy {
	return embedding.Policy{Metric: c.Metric, Threshold: c.Threshold}
}

// ModelConfig builds the runtime model configuration.
func (c *Config) ModelConfig() model.Config {
	return model.Config{
		Path:        c.ModelPath,
		InputSize:   c.InputSize,
		Dim:         c.EmbeddingDim,
		LibraryPath: c.ModelLibraryPath,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
