package model

import (
	"fmt"
	"math/rand"

	"github.com/example/facegate/internal/embedding"
)

// SyntheticModel fabricates embeddings of the expected length without
// using the input's visual content. Output values are pseudo-random in
// (-1, 1), so two runs over the same tensor differ; this non-determinism
// is a documented limitation of the fallback path.
type SyntheticModel struct {
	dim      int
	inputLen int
}

// NewSynthetic builds the fallback model.
func NewSynthetic(dim, inputLen int) (*SyntheticModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("synthetic model requires a positive embedding dim, got %d", dim)
	}
	return &SyntheticModel{dim: dim, inputLen: inputLen}, nil
}

// Run ignores the tensor content and returns a random vector.
func (m *SyntheticModel) Run(tensor []float32) (embedding.Vector, error) {
	if m.inputLen > 0 && len(tensor) != m.inputLen {
		return nil, fmt.Errorf("input tensor length %d, expected %d", len(tensor), m.inputLen)
	}
	out := make(embedding.Vector, m.dim)
	for i := range out {
		out[i] = (rand.Float32() - 0.5) * 2
	}
	return out, nil
}

func (m *SyntheticModel) OutputDim() int { return m.dim }

func (m *SyntheticModel) Real() bool { return false }

func (m *SyntheticModel) Close() error { return nil }
