// Package model wraps the loadable on-device embedding model behind a
// lifecycle-managed runtime. A real ONNX artifact is preferred; when it
// cannot be loaded the runtime falls back to a synthetic model so the
// surrounding system stays demoable, with the fallback always visible via
// Info().
package model

import (
	"errors"

	"github.com/example/facegate/internal/embedding"
	"github.com/example/facegate/internal/preprocess"
)

// ErrNotReady is returned when Run is called before the runtime reached
// StateReady. Recoverable: initialize first.
var ErrNotReady = errors.New("model runtime not initialized")

// Model produces an embedding from a preprocessed tensor.
type Model interface {
	// Run executes inference on a preprocessed input tensor.
	Run(tensor []float32) (embedding.Vector, error)
	// OutputDim is the fixed length of every vector Run returns.
	OutputDim() int
	// Real distinguishes a loaded artifact from the synthetic fallback.
	Real() bool
	Close() error
}

// Config describes the model artifact and its tensor shapes.
type Config struct {
	// Path to the ONNX artifact. Empty path skips straight to the
	// synthetic fallback.
	Path string
	// InputSize is the square edge length of the input image tensor.
	InputSize int
	// Dim is the embedding length (1280 for the MobileNet-class default).
	Dim int
	// InputName and OutputName are the graph tensor names; defaults suit
	// the bundled MobileNet export.
	InputName  string
	OutputName string
	// LibraryPath optionally points at the onnxruntime shared library.
	LibraryPath string
}

const (
	// DefaultInputSize matches the MobileNet input resolution.
	DefaultInputSize = 224
	// DefaultDim matches the MobileNet feature-vector width.
	DefaultDim = 1280

	defaultInputName  = "input"
	defaultOutputName = "embedding"
)

func (c Config) withDefaults() Config {
	if c.InputSize == 0 {
		c.InputSize = DefaultInputSize
	}
	if c.Dim == 0 {
		c.Dim = DefaultDim
	}
	if c.InputName == "" {
		c.InputName = defaultInputName
	}
	if c.OutputName == "" {
		c.OutputName = defaultOutputName
	}
	return c
}

// tensorLen is the expected input length for the configured size.
func (c Config) tensorLen() int {
	return c.InputSize * c.InputSize * preprocess.Channels
}

// Info describes the currently loaded model for introspection.
type Info struct {
	Loaded     bool   `json:"loaded"`
	ModelType  string `json:"model_type"`
	InputShape [3]int `json:"input_shape"`
	Dim        int    `json:"dim"`
	Real       bool   `json:"real"`
}
