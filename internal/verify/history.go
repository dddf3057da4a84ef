package verify

import (
	"context"
	"errors"
	"time"
)

// Attempt is one audit-trail entry in a student's verification history.
type Attempt struct {
	RequestID        string    `json:"request_id"`
	Mode             string    `json:"mode"`
	Success          bool      `json:"success"`
	Score            float64   `json:"score"`
	Confidence       float64   `json:"confidence"`
	Message          string    `json:"message"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

const defaultHistoryLimit = 20

// History lists a student's most recent verification attempts, newest
// first. A non-positive limit uses the default page size.
func (s *Service) History(ctx context.Context, studentID string, limit int) ([]Attempt, error) {
	if s.repo == nil {
		return nil, errors.New("no audit repository configured")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.repo.FindByStudent(ctx, studentID, limit)
	if err != nil {
		return nil, err
	}

	attempts := make([]Attempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, Attempt{
			RequestID:        row.RequestID,
			Mode:             row.Mode,
			Success:          row.Success,
			Score:            row.Score,
			Confidence:       row.Confidence,
			Message:          row.Message,
			ProcessingTimeMs: row.ProcessingTimeMs,
			CreatedAt:        row.CreatedAt,
		})
	}
	return attempts, nil
}
