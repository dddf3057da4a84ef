// Package remote submits face embeddings to a backend verification
// endpoint as an alternative to the local similarity check.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/embedding"
	"github.com/example/facegate/internal/logging"
)

// Response is the structured verdict returned by the backend.
type Response struct {
	Success           bool    `json:"success"`
	Message           string  `json:"message"`
	TransactionID     string  `json:"transactionId,omitempty"`
	VerificationScore float64 `json:"verificationScore,omitempty"`
}

// Client exposes the subset of backend functionality used by the
// verification flow.
type Client interface {
	Verify(ctx context.Context, studentID string, emb embedding.Vector) (*Response, error)
}

const defaultTimeout = 10 * time.Second

// HTTPClient talks JSON over HTTP to the verification backend.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a client for the given base URL. An empty apiKey
// omits the Authorization header.
func NewHTTPClient(baseURL, apiKey string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger.Named("remote_verifier"),
	}
}

type verifyRequest struct {
	StudentID string    `json:"studentId"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Verify posts the embedding and decodes the backend verdict.
func (c *HTTPClient) Verify(ctx context.Context, studentID string, emb embedding.Vector) (*Response, error) {
	payload, err := json.Marshal(verifyRequest{StudentID: studentID, Embedding: emb})
	if err != nil {
		return nil, logging.NewOperationError("remote.encode_request", studentID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/face-verification", bytes.NewReader(payload))
	if err != nil {
		return nil, logging.NewOperationError("remote.build_request", studentID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("remote.submit_embedding", studentID, err)
		c.logger.Error("verification submission failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("backend returned %d: %s", resp.StatusCode, body)
		wrapped := logging.NewOperationError("remote.submit_embedding", studentID, err)
		c.logger.Error("verification submission rejected", zap.Error(wrapped))
		return nil, wrapped
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, logging.NewOperationError("remote.decode_response", studentID, err)
	}

	c.logger.Info("remote verification completed",
		zap.String("student_id", studentID),
		zap.Bool("success", out.Success),
		zap.Float64("score", out.VerificationScore),
	)
	return &out, nil
}
