package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"Identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"Opposite", Vector{1, 0}, Vector{-1, 0}, -1},
		{"Orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"ZeroLeft", Vector{0, 0}, Vector{1, 2}, 0},
		{"ZeroRight", Vector{1, 2}, Vector{0, 0}, 0},
		{"Scaled", Vector{1, 1}, Vector{5, 5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-6)
		})
	}
}

func TestEuclidean(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"Identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 0},
		{"Simple", Vector{0, 0}, Vector{3, 4}, 5},
		{"Negative", Vector{1, -1}, Vector{-1, 1}, math.Sqrt(8)},
		{"Empty", Vector{}, Vector{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Euclidean(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, got, 1e-6)
		})
	}
}

func TestSimilaritySymmetry(t *testing.T) {
	a := Vector{0.3, -0.7, 1.2, 0.05}
	b := Vector{-1.1, 0.4, 0.9, 2.5}

	ab, err := Cosine(a, b)
	require.NoError(t, err)
	ba, err := Cosine(b, a)
	require.NoError(t, err)
	assert.InDelta(t, ab, ba, 1e-9)

	dab, err := Euclidean(a, b)
	require.NoError(t, err)
	dba, err := Euclidean(b, a)
	require.NoError(t, err)
	assert.InDelta(t, dab, dba, 1e-9)
}

func TestShapeMismatch(t *testing.T) {
	pairs := []struct {
		m, n int
	}{
		{1, 2},
		{3, 0},
		{1280, 512},
	}

	for _, p := range pairs {
		a := make(Vector, p.m)
		b := make(Vector, p.n)

		_, err := Cosine(a, b)
		var sm *ShapeMismatchError
		require.ErrorAs(t, err, &sm)
		assert.Equal(t, p.m, sm.Expected)
		assert.Equal(t, p.n, sm.Actual)

		_, err = Euclidean(a, b)
		require.ErrorAs(t, err, &sm)
	}
}

func TestConfidence(t *testing.T) {
	// Magnitude 5 -> 0.5; magnitude well above 10 caps at 1.
	assert.InDelta(t, 0.5, Confidence(Vector{3, 4}), 1e-6)
	assert.Equal(t, 1.0, Confidence(Vector{100, 0, 0}))
	assert.Equal(t, 0.0, Confidence(Vector{0, 0, 0}))
}
