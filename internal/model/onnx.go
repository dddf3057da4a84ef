package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/example/facegate/internal/embedding"
)

var ortInitOnce sync.Once

func initEnvironment(libraryPath string) error {
	var err error
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		err = ort.InitializeEnvironment()
	})
	return err
}

// ONNXModel runs a face-embedding ONNX artifact through onnxruntime.
// Inference is deterministic: identical tensors yield identical
// embeddings.
type ONNXModel struct {
	// session.Run reads and writes the bound tensors, so calls are
	// serialized.
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	dim          int
	inputLen     int
}

// LoadONNX opens the artifact described by cfg. Input layout is NHWC
// [1, size, size, 3], matching the preprocessor's output.
func LoadONNX(cfg Config) (*ONNXModel, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("no model artifact configured")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, int64(cfg.InputSize), int64(cfg.InputSize), 3)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(cfg.Dim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Path,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("open model session %q: %w", cfg.Path, err)
	}

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		dim:          cfg.Dim,
		inputLen:     cfg.tensorLen(),
	}, nil
}

// Run copies the tensor into the bound input, executes the session and
// returns a copy of the output embedding.
func (m *ONNXModel) Run(tensor []float32) (embedding.Vector, error) {
	if len(tensor) != m.inputLen {
		return nil, fmt.Errorf("input tensor length %d, expected %d", len(tensor), m.inputLen)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.inputTensor.GetData(), tensor)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}

	out := make(embedding.Vector, m.dim)
	copy(out, m.outputTensor.GetData())
	return out, nil
}

func (m *ONNXModel) OutputDim() int { return m.dim }

func (m *ONNXModel) Real() bool { return true }

// Close releases the session and its bound tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	if err := m.session.Destroy(); err != nil {
		firstErr = err
	}
	if err := m.inputTensor.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.outputTensor.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
