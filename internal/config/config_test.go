package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/facegate/internal/embedding"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 224, cfg.InputSize)
	assert.Equal(t, 1280, cfg.EmbeddingDim)
	assert.Equal(t, embedding.MetricCosine, cfg.Metric)
	assert.Equal(t, 0.8, cfg.Threshold)
	assert.False(t, cfg.AllowFallbackMatch)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SIMILARITY_METRIC", "euclidean")
	t.Setenv("SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("MODEL_INPUT_SIZE", "160")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("ALLOW_FALLBACK_MATCH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, embedding.MetricEuclidean, cfg.Metric)
	assert.Equal(t, 0.55, cfg.Threshold)
	assert.Equal(t, 160, cfg.InputSize)
	assert.Equal(t, 128, cfg.EmbeddingDim)
	assert.True(t, cfg.AllowFallbackMatch)

	policy := cfg.Policy()
	assert.Equal(t, embedding.MetricEuclidean, policy.Metric)
	assert.Equal(t, 0.55, policy.Threshold)
}

func TestLoadEuclideanDefaultThreshold(t *testing.T) {
	t.Setenv("SIMILARITY_METRIC", "euclidean")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Threshold)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SIMILARITY_METRIC", "hamming")
	_, err := Load()
	assert.Error(t, err)
}
