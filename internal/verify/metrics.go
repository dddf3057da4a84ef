package verify

import (
	"context"
	"errors"
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalAttempts              int64   `json:"total_attempts"`
	SuccessfulAttempts         int64   `json:"successful_attempts"`
	SuccessRate                float64 `json:"success_rate"`
	AverageScore               float64 `json:"average_score"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
	StoredFaces                int     `json:"stored_faces"`
}

// Metrics aggregates verification metrics from persisted attempts.
func (s *Service) Metrics(ctx context.Context) (*MetricsSummary, error) {
	if s.repo == nil {
		return nil, errors.New("no audit repository configured")
	}

	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:              aggregation.TotalCount,
		SuccessfulAttempts:         aggregation.SuccessCount,
		AverageScore:               aggregation.AverageScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		StoredFaces:                s.store.Count(),
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
