package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facegate/internal/logging"
)

// VerificationAttempt is the persisted audit row for one verify call.
type VerificationAttempt struct {
	ID               uint      `gorm:"primaryKey"`
	RequestID        string    `gorm:"column:request_id;uniqueIndex;size:64"`
	StudentID        string    `gorm:"column:student_id;index;size:64"`
	Mode             string    `gorm:"column:mode;size:16"`
	Score            float64   `gorm:"column:score"`
	Confidence       float64   `gorm:"column:confidence"`
	Success          bool      `gorm:"column:success"`
	Message          string    `gorm:"column:message;type:text"`
	ModelReal        bool      `gorm:"column:model_real"`
	ProcessingTimeMs int64     `gorm:"column:processing_time_ms"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationAttempt) TableName() string {
	return "verification_attempts"
}

// MetricsAggregation holds raw aggregates computed in the database.
type MetricsAggregation struct {
	TotalCount                 int64
	SuccessCount               int64
	AverageScore               float64
	AverageProcessingLatencyMs float64
}

// AttemptRepository provides persistence APIs for verification attempts.
type AttemptRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAttemptRepository creates a new repository instance.
func NewAttemptRepository(db *gorm.DB, logger *zap.Logger) *AttemptRepository {
	return &AttemptRepository{
		db:             db,
		logger:         logger.Named("attempt_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AttemptRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationAttempt{})
}

// SaveAttempt persists one verification attempt.
func (r *AttemptRepository) SaveAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	return r.executeWithRetry(ctx, "repository.save_attempt", attempt.RequestID, func() error {
		return r.db.WithContext(ctx).Create(attempt).Error
	})
}

// FindByRequestID retrieves a single attempt by its request id.
func (r *AttemptRepository) FindByRequestID(ctx context.Context, requestID string) (*VerificationAttempt, error) {
	var attempt VerificationAttempt
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&attempt, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// FindByStudent lists the most recent attempts for a student.
func (r *AttemptRepository) FindByStudent(ctx context.Context, studentID string, limit int) ([]*VerificationAttempt, error) {
	var attempts []*VerificationAttempt
	err := r.executeWithRetry(ctx, "repository.find_by_student", studentID, func() error {
		return r.db.WithContext(ctx).
			Where("student_id = ?", studentID).
			Order("created_at DESC").
			Limit(limit).
			Find(&attempts).Error
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// AggregateMetrics computes totals and averages over all attempts.
func (r *AttemptRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&VerificationAttempt{}).
			Select(
				"COUNT(*) AS total_count, " +
					"COUNT(*) FILTER (WHERE success) AS success_count, " +
					"COALESCE(AVG(score), 0) AS average_score, " +
					"COALESCE(AVG(processing_time_ms), 0) AS average_processing_latency_ms",
			).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// executeWithRetry retries transient database failures with capped
// exponential backoff and wraps the terminal error with operation
// metadata.
func (r *AttemptRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
