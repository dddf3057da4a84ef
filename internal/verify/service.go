// Package verify hosts the verification orchestrator: the only component
// the rest of the system calls directly. It sequences initialization,
// embedding generation, similarity comparison or remote submission, and
// audit/caching side effects into a single structured outcome.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/example/facegate/internal/embedding"
	"github.com/example/facegate/internal/facestore"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/model"
	"github.com/example/facegate/internal/preprocess"
	"github.com/example/facegate/internal/remote"
	"github.com/example/facegate/internal/repository"
)

// ErrNotReady is returned by Verify/Register before Initialize completed.
var ErrNotReady = errors.New("verification service not initialized")

// ErrDisposed is returned after Dispose until re-initialization.
var ErrDisposed = errors.New("verification service disposed")

// State is the orchestrator lifecycle position.
type State int

const (
	StateNotInitialized State = iota
	StateInitializing
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ModelRuntime is the embedding runtime surface the service depends on.
type ModelRuntime interface {
	Initialize(ctx context.Context) error
	Run(tensor []float32) (embedding.Vector, error)
	IsReady() bool
	Real() bool
	Info() model.Info
	Dispose() error
}

// Preprocessor converts a captured image reference into a model tensor.
type Preprocessor interface {
	FromFile(path string, box *preprocess.Box) ([]float32, error)
}

// Repository is the audit persistence surface the service depends on.
type Repository interface {
	SaveAttempt(ctx context.Context, attempt *repository.VerificationAttempt) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.VerificationAttempt, error)
	FindByStudent(ctx context.Context, studentID string, limit int) ([]*repository.VerificationAttempt, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// EmbeddingResult is the transient product of one embedding generation.
// Never persisted unless the caller explicitly registers it.
type EmbeddingResult struct {
	Embedding        embedding.Vector
	Confidence       float64
	ProcessingTimeMs int64
}

// Outcome is the single converged shape for local and remote verification
// decisions.
type Outcome struct {
	RequestID        string  `json:"request_id"`
	Success          bool    `json:"success"`
	Score            float64 `json:"score"`
	Message          string  `json:"message"`
	TransactionID    string  `json:"transaction_id,omitempty"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

const (
	modeLocal  = "local"
	modeRemote = "remote"

	cacheKeyPrefix  = "verification:"
	processingTTL   = time.Minute
	resultTTL       = 5 * time.Minute
	fallbackRefusal = "verification refused: model fallback active and fallback matches are not authorized"
)

// Options tune the service decision behavior.
type Options struct {
	Policy embedding.Policy
	// AllowFallbackMatch permits accept decisions while the synthetic
	// fallback model is active. Off by default: a demo model must never
	// silently authorize a debit.
	AllowFallbackMatch bool
}

// Service owns the verification pipeline. Construct with NewService and
// call Initialize before Verify/Register; there is no package-level
// instance.
type Service struct {
	runtime ModelRuntime
	pre     Preprocessor
	store   *facestore.Store
	remote  remote.Client
	repo    Repository
	cache   Cache
	opts    Options
	logger  *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	state State

	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewService wires the orchestrator. remoteClient, repo and cache are
// optional; nil disables the remote path, auditing, or caching
// respectively.
func NewService(
	runtime ModelRuntime,
	pre Preprocessor,
	store *facestore.Store,
	remoteClient remote.Client,
	repo Repository,
	cache Cache,
	opts Options,
	logger *zap.Logger,
) *Service {
	return &Service{
		runtime:        runtime,
		pre:            pre,
		store:          store,
		remote:         remoteClient,
		repo:           repo,
		cache:          cache,
		opts:           opts,
		logger:         logger.Named("verify_service"),
		state:          StateNotInitialized,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Initialize loads the model runtime and rehydrates the face store.
// Idempotent; concurrent callers share one in-flight initialization. The
// store load is part of the ready gate: no lookup is served before it
// completes.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.RLock()
	ready := s.state == StateReady
	s.mu.RUnlock()
	if ready {
		return nil
	}

	_, err, _ := s.group.Do("initialize", func() (interface{}, error) {
		s.mu.Lock()
		if s.state == StateReady {
			s.mu.Unlock()
			return nil, nil
		}
		s.state = StateInitializing
		s.mu.Unlock()

		err := s.doInitialize(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = StateNotInitialized
			return nil, err
		}
		s.state = StateReady
		return nil, nil
	})
	return err
}

func (s *Service) doInitialize(ctx context.Context) error {
	if err := s.runtime.Initialize(ctx); err != nil {
		return logging.NewOperationError("verify.initialize_runtime", "", err)
	}
	if err := s.store.LoadAll(ctx); err != nil {
		return logging.NewOperationError("verify.load_face_records", "", err)
	}
	s.logger.Info("verification service ready",
		zap.Int("stored_faces", s.store.Count()),
		zap.Bool("real_model", s.runtime.Real()),
	)
	return nil
}

// IsReady reports whether Verify/Register calls are accepted.
func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady && s.runtime.IsReady()
}

func (s *Service) readyGate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateReady:
		return nil
	case StateDisposed:
		return ErrDisposed
	default:
		return ErrNotReady
	}
}

// GenerateEmbedding runs the preprocessing and inference steps for one
// captured image and reports the derived vector with diagnostics. The
// confidence value is informational only and never gates a decision.
func (s *Service) GenerateEmbedding(ctx context.Context, imageRef string, box *preprocess.Box) (*EmbeddingResult, error) {
	if err := s.readyGate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	tensor, err := s.pre.FromFile(imageRef, box)
	if err != nil {
		return nil, logging.NewOperationError("verify.preprocess", imageRef, err)
	}

	vec, err := s.runtime.Run(tensor)
	if err != nil {
		return nil, logging.NewOperationError("verify.run_model", imageRef, err)
	}

	result := &EmbeddingResult{
		Embedding:        vec,
		Confidence:       embedding.Confidence(vec),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	s.logger.Debug("embedding generated",
		zap.Int("embedding_len", len(vec)),
		zap.Float64("confidence", result.Confidence),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

// Verify compares a fresh capture against the student's stored embedding
// and returns an accept/reject outcome with the similarity score.
//
// Not-ready and missing-enrollment conditions surface as errors so the
// caller can route to initialization or the enrollment flow; pipeline
// failures are translated into a structured failure outcome.
func (s *Service) Verify(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*Outcome, error) {
	if err := s.readyGate(); err != nil {
		return nil, err
	}

	stored, err := s.store.Lookup(ctx, studentID)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "verify.local", requestID)

	if s.cache != nil {
		if err := s.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
			return s.cache.Set(ctx, cacheKeyPrefix+requestID, "processing", processingTTL)
		}); err != nil {
			opLogger.Warn("failed to mark attempt as processing", zap.Error(err))
		}
	}

	result, err := s.GenerateEmbedding(ctx, imageRef, box)
	if err != nil {
		opLogger.Error("embedding generation failed", zap.Error(err))
		return s.finishAttempt(ctx, opLogger, modeLocal, studentID, &Outcome{
			RequestID: requestID,
			Success:   false,
			Message:   fmt.Sprintf("verification failed: %v", err),
		}), nil
	}

	score, accepted, err := s.opts.Policy.Compare(stored.Embedding, result.Embedding)
	if err != nil {
		opLogger.Error("embedding comparison failed", zap.Error(err))
		return s.finishAttempt(ctx, opLogger, modeLocal, studentID, &Outcome{
			RequestID:        requestID,
			Success:          false,
			Message:          fmt.Sprintf("verification failed: %v", err),
			Confidence:       result.Confidence,
			ProcessingTimeMs: result.ProcessingTimeMs,
		}), nil
	}

	if accepted && !s.runtime.Real() && !s.opts.AllowFallbackMatch {
		opLogger.Warn("fail-closed: rejecting fallback-derived match",
			zap.String("student_id", studentID),
			zap.Float64("score", score),
		)
		return s.finishAttempt(ctx, opLogger, modeLocal, studentID, &Outcome{
			RequestID:        requestID,
			Success:          false,
			Score:            score,
			Message:          fallbackRefusal,
			Confidence:       result.Confidence,
			ProcessingTimeMs: result.ProcessingTimeMs,
		}), nil
	}

	outcome := &Outcome{
		RequestID:        requestID,
		Success:          accepted,
		Score:            score,
		Confidence:       result.Confidence,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}
	if accepted {
		outcome.Message = fmt.Sprintf("face verification successful (%s score %.3f)", s.opts.Policy.Metric, score)
	} else {
		outcome.Message = fmt.Sprintf("face verification failed (%s score %.3f, threshold %.3f)", s.opts.Policy.Metric, score, s.opts.Policy.Threshold)
	}

	opLogger.Info("verification decided",
		zap.String("student_id", studentID),
		zap.Bool("success", outcome.Success),
		zap.Float64("score", score),
		zap.Float64("confidence", result.Confidence),
	)
	return s.finishAttempt(ctx, opLogger, modeLocal, studentID, outcome), nil
}

// VerifyRemote generates an embedding and submits it to the backend
// verification endpoint instead of comparing locally. The response
// converges on the same Outcome shape as the local path.
func (s *Service) VerifyRemote(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*Outcome, error) {
	if err := s.readyGate(); err != nil {
		return nil, err
	}
	if s.remote == nil {
		return nil, errors.New("no remote verification endpoint configured")
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "verify.remote", requestID)

	result, err := s.GenerateEmbedding(ctx, imageRef, box)
	if err != nil {
		opLogger.Error("embedding generation failed", zap.Error(err))
		return s.finishAttempt(ctx, opLogger, modeRemote, studentID, &Outcome{
			RequestID: requestID,
			Success:   false,
			Message:   fmt.Sprintf("verification failed: %v", err),
		}), nil
	}

	resp, err := s.remote.Verify(ctx, studentID, result.Embedding)
	if err != nil {
		opLogger.Error("remote submission failed", zap.Error(err))
		return s.finishAttempt(ctx, opLogger, modeRemote, studentID, &Outcome{
			RequestID:        requestID,
			Success:          false,
			Message:          fmt.Sprintf("remote verification failed: %v", err),
			Confidence:       result.Confidence,
			ProcessingTimeMs: result.ProcessingTimeMs,
		}), nil
	}

	outcome := &Outcome{
		RequestID:        requestID,
		Success:          resp.Success,
		Score:            resp.VerificationScore,
		Message:          resp.Message,
		TransactionID:    resp.TransactionID,
		Confidence:       result.Confidence,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}
	return s.finishAttempt(ctx, opLogger, modeRemote, studentID, outcome), nil
}

// Register enrolls a student's biometric template: generates a fresh
// embedding from the capture and persists it, overwriting any prior
// record.
func (s *Service) Register(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*EmbeddingResult, error) {
	if err := s.readyGate(); err != nil {
		return nil, err
	}
	if studentID == "" {
		return nil, errors.New("student id required")
	}

	result, err := s.GenerateEmbedding(ctx, imageRef, box)
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, facestore.Record{
		StudentID:  studentID,
		Embedding:  result.Embedding,
		CapturedAt: time.Now().UTC(),
		ImageRef:   imageRef,
	}); err != nil {
		return nil, logging.NewOperationError("verify.register", studentID, err)
	}
	return result, nil
}

// Remove erases a student's stored biometric template.
func (s *Service) Remove(ctx context.Context, studentID string) error {
	if err := s.readyGate(); err != nil {
		return err
	}
	return s.store.Remove(ctx, studentID)
}

// Students lists all enrolled student ids.
func (s *Service) Students() []string {
	return s.store.Students()
}

// ModelInfo reports the runtime model plus enrollment count.
func (s *Service) ModelInfo() ModelInfo {
	return ModelInfo{
		Info:        s.runtime.Info(),
		StoredFaces: s.store.Count(),
		State:       s.currentState().String(),
	}
}

// ModelInfo extends the runtime introspection with service state.
type ModelInfo struct {
	model.Info
	StoredFaces int    `json:"stored_faces"`
	State       string `json:"state"`
}

func (s *Service) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispose releases the model and rejects further calls until the service
// is re-initialized.
func (s *Service) Dispose() error {
	s.mu.Lock()
	s.state = StateDisposed
	s.mu.Unlock()
	return s.runtime.Dispose()
}

// Reinitialize allows a disposed service to come back; callers use
// Initialize afterwards.
func (s *Service) Reinitialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.state = StateNotInitialized
	}
	s.mu.Unlock()
	return s.Initialize(ctx)
}

// finishAttempt records the audit row and caches the outcome. Side
// effects here never change the decision; failures are logged and the
// outcome is returned as-is.
func (s *Service) finishAttempt(ctx context.Context, opLogger *zap.Logger, mode, studentID string, outcome *Outcome) *Outcome {
	if s.repo != nil {
		attempt := &repository.VerificationAttempt{
			RequestID:        outcome.RequestID,
			StudentID:        studentID,
			Mode:             mode,
			Score:            outcome.Score,
			Confidence:       outcome.Confidence,
			Success:          outcome.Success,
			Message:          outcome.Message,
			ModelReal:        s.runtime.Real(),
			ProcessingTimeMs: outcome.ProcessingTimeMs,
			CreatedAt:        time.Now().UTC(),
		}
		if err := s.repo.SaveAttempt(ctx, attempt); err != nil {
			opLogger.Error("failed to persist verification attempt", zap.Error(err))
		}
	}

	if s.cache != nil {
		serialized, err := json.Marshal(outcome)
		if err != nil {
			opLogger.Error("failed to serialize outcome", zap.Error(err))
			return outcome
		}
		if err := s.withCacheRetry(ctx, outcome.RequestID, "cache.set.result", func() error {
			return s.cache.Set(ctx, cacheKeyPrefix+outcome.RequestID, string(serialized), resultTTL)
		}); err != nil {
			opLogger.Warn("failed to cache outcome", zap.Error(err))
		}
	}
	return outcome
}
