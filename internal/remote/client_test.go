package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/embedding"
)

func TestVerifySubmitsEmbedding(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		StudentID string    `json:"studentId"`
		Embedding []float32 `json:"embedding"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(Response{
			Success:           true,
			Message:           "verified",
			TransactionID:     "txn-42",
			VerificationScore: 0.93,
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "secret-key", zap.NewNop())
	resp, err := client.Verify(context.Background(), "STU001", embedding.Vector{0.25, -0.5})
	require.NoError(t, err)

	assert.Equal(t, "/face-verification", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "STU001", gotBody.StudentID)
	assert.Equal(t, []float32{0.25, -0.5}, gotBody.Embedding)

	assert.True(t, resp.Success)
	assert.Equal(t, "txn-42", resp.TransactionID)
	assert.InDelta(t, 0.93, resp.VerificationScore, 1e-9)
}

func TestVerifyBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "embedding store unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", zap.NewNop())
	_, err := client.Verify(context.Background(), "STU001", embedding.Vector{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
