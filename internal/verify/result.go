package verify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/logging"
)

// Result retrieves a past verification outcome: cache first, then the
// audit repository.
func (s *Service) Result(ctx context.Context, requestID string) (*Outcome, error) {
	if s.cache != nil {
		cached, err := s.withCacheGet(ctx, requestID, "cache.get.result", cacheKeyPrefix+requestID)
		if err == nil && cached != "" && cached != "processing" {
			var outcome Outcome
			if err := json.Unmarshal([]byte(cached), &outcome); err != nil {
				logging.WithOperation(s.logger, "verify.result", requestID).Warn("failed to decode cached outcome", zap.Error(err))
			} else {
				return &outcome, nil
			}
		} else if err != nil && !errors.Is(err, redis.Nil) {
			logging.WithOperation(s.logger, "verify.result", requestID).Warn("failed to read cache", zap.Error(err))
		}
	}

	if s.repo == nil {
		return nil, errors.New("no audit repository configured")
	}

	attempt, err := s.repo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		RequestID:        attempt.RequestID,
		Success:          attempt.Success,
		Score:            attempt.Score,
		Message:          attempt.Message,
		Confidence:       attempt.Confidence,
		ProcessingTimeMs: attempt.ProcessingTimeMs,
	}, nil
}

func (s *Service) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (s *Service) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := s.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
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
