package model

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/facegate/internal/embedding"
)

// State is the runtime lifecycle position.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Loader produces a Model; injectable so tests can count or fail loads.
type Loader func(ctx context.Context) (Model, error)

// Runtime owns the loaded model and its one-time, concurrency-safe
// initialization. Concurrent Initialize calls collapse into a single
// in-flight load through a shared singleflight handle, never a per-call
// lock.
type Runtime struct {
	cfg    Config
	logger *zap.Logger
	loader Loader

	group singleflight.Group

	mu    sync.RWMutex
	state State
	model Model
}

// NewRuntime creates an unloaded runtime for cfg.
func NewRuntime(cfg Config, logger *zap.Logger) *Runtime {
	cfg = cfg.withDefaults()
	r := &Runtime{
		cfg:    cfg,
		logger: logger.Named("model_runtime"),
	}
	r.loader = r.defaultLoad
	return r
}

// WithLoader overrides the model loader. Test hook.
func (r *Runtime) WithLoader(loader Loader) *Runtime {
	r.loader = loader
	return r
}

// defaultLoad tries the real ONNX artifact and falls back to the
// synthetic model on any failure.
func (r *Runtime) defaultLoad(ctx context.Context) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := LoadONNX(r.cfg)
	if err == nil {
		r.logger.Info("real model loaded",
			zap.String("path", r.cfg.Path),
			zap.Int("dim", m.OutputDim()),
		)
		return m, nil
	}
	r.logger.Warn("real model unavailable, falling back to synthetic",
		zap.String("path", r.cfg.Path),
		zap.Error(err),
	)

	return NewSynthetic(r.cfg.Dim, r.cfg.tensorLen())
}

// Initialize loads the model if it is not already loaded. Ready runtimes
// return immediately; concurrent callers attach to the same in-flight
// load. A failed load leaves the runtime unloaded so the caller may
// retry.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.mu.RLock()
	ready := r.state == StateReady
	r.mu.RUnlock()
	if ready {
		return nil
	}

	_, err, _ := r.group.Do("load", func() (interface{}, error) {
		r.mu.Lock()
		if r.state == StateReady {
			r.mu.Unlock()
			return nil, nil
		}
		r.state = StateLoading
		r.mu.Unlock()

		m, err := r.loader(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.state = StateUnloaded
			return nil, fmt.Errorf("model initialization failed: %w", err)
		}
		r.model = m
		r.state = StateReady
		return nil, nil
	})
	return err
}

// Run produces an embedding from a preprocessed tensor. Fails with
// ErrNotReady unless the runtime is ready.
func (r *Runtime) Run(tensor []float32) (embedding.Vector, error) {
	r.mu.RLock()
	m := r.model
	ready := r.state == StateReady
	r.mu.RUnlock()

	if !ready || m == nil {
		return nil, ErrNotReady
	}
	return m.Run(tensor)
}

// IsReady reports whether Run calls are currently accepted.
func (r *Runtime) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == StateReady
}

// Real reports whether the loaded model is the real artifact rather than
// the synthetic fallback. False when unloaded.
func (r *Runtime) Real() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == StateReady && r.model.Real()
}

// Info reports the current model for diagnostics and the /model endpoint.
func (r *Runtime) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := Info{
		InputShape: [3]int{r.cfg.InputSize, r.cfg.InputSize, 3},
		Dim:        r.cfg.Dim,
	}
	if r.state == StateReady && r.model != nil {
		info.Loaded = true
		info.Real = r.model.Real()
		if info.Real {
			info.ModelType = "face-embedding (onnx)"
		} else {
			info.ModelType = "face-embedding (synthetic fallback)"
		}
	}
	return info
}

// Dispose releases the model; subsequent Run calls require
// re-initialization.
func (r *Runtime) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.model != nil {
		err = r.model.Close()
		r.model = nil
	}
	r.state = StateUnloaded
	return err
}
