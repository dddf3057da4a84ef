package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/facestore"
	"github.com/example/facegate/internal/preprocess"
	"github.com/example/facegate/internal/verify"
)

const testJWTSecret = "test-secret"

type stubService struct {
	verifyOutcome *verify.Outcome
	verifyErr     error
	registerOut   *verify.EmbeddingResult
	registerErr   error
	students      []string
	history       []verify.Attempt
	lastImagePath string
	lastBox       *preprocess.Box
}

func (s *stubService) IsReady() bool { return true }

func (s *stubService) Verify(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.Outcome, error) {
	s.lastImagePath = imageRef
	s.lastBox = box
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verifyOutcome, nil
}

func (s *stubService) VerifyRemote(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.Outcome, error) {
	return s.Verify(ctx, studentID, imageRef, box)
}

func (s *stubService) Register(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.EmbeddingResult, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return s.registerOut, nil
}

func (s *stubService) Remove(ctx context.Context, studentID string) error { return nil }
func (s *stubService) Students() []string                                 { return s.students }
func (s *stubService) History(ctx context.Context, studentID string, limit int) ([]verify.Attempt, error) {
	return s.history, nil
}
func (s *stubService) ModelInfo() verify.ModelInfo                        { return verify.ModelInfo{} }
func (s *stubService) Result(ctx context.Context, requestID string) (*verify.Outcome, error) {
	return s.verifyOutcome, s.verifyErr
}
func (s *stubService) Metrics(ctx context.Context) (*verify.MetricsSummary, error) {
	return &verify.MetricsSummary{}, nil
}

func newTestRouter(svc VerificationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func TestHealthRequiresNoAuth(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "image/png", []byte("fake"), map[string]string{"student_id": "STU001"})
	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestVerifyRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "merchant-1")
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1), map[string]string{"student_id": "STU001"})

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestVerifyRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "merchant-1")
	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"), map[string]string{"student_id": "STU001"})

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestVerifyHappyPath(t *testing.T) {
	svc := &stubService{verifyOutcome: &verify.Outcome{
		RequestID: "req-1",
		Success:   true,
		Score:     0.94,
		Message:   "face verification successful",
	}}
	router := newTestRouter(svc)

	token := buildTestToken(t, "merchant-1")
	body, contentType := buildMultipartBody(t, "image/jpeg", []byte("jpeg-bytes"), map[string]string{
		"student_id":  "STU001",
		"face_left":   "10",
		"face_top":    "20",
		"face_right":  "110",
		"face_bottom": "120",
	})

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var outcome verify.Outcome
	if err := json.Unmarshal(resp.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !outcome.Success || outcome.Score != 0.94 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	if svc.lastBox == nil || svc.lastBox.Left != 10 || svc.lastBox.Bottom != 120 {
		t.Fatalf("expected face box to reach the service, got %+v", svc.lastBox)
	}
	if svc.lastImagePath == "" {
		t.Fatal("expected spooled image path to reach the service")
	}
}

func TestVerifyIncompleteFaceBox(t *testing.T) {
	router := newTestRouter(&stubService{})

	token := buildTestToken(t, "merchant-1")
	body, contentType := buildMultipartBody(t, "image/png", []byte("fake"), map[string]string{
		"student_id": "STU001",
		"face_left":  "10",
	})

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestVerifyMissingEnrollment(t *testing.T) {
	svc := &stubService{verifyErr: fmt.Errorf("%w: STU404", facestore.ErrNotFound)}
	router := newTestRouter(svc)

	token := buildTestToken(t, "merchant-1")
	body, contentType := buildMultipartBody(t, "image/png", []byte("fake"), map[string]string{"student_id": "STU404"})

	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("enrollment_required")) {
		t.Fatalf("expected enrollment hint, got %s", resp.Body.String())
	}
}

func TestStudentsListing(t *testing.T) {
	router := newTestRouter(&stubService{students: []string{"STU001", "STU002"}})

	token := buildTestToken(t, "merchant-1")
	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("STU002")) {
		t.Fatalf("expected student ids in response, got %s", resp.Body.String())
	}
}

func TestAttemptHistory(t *testing.T) {
	router := newTestRouter(&stubService{history: []verify.Attempt{
		{RequestID: "req-2", Mode: "local", Success: true, Score: 0.91},
		{RequestID: "req-1", Mode: "local", Success: false, Score: 0.42},
	}})

	token := buildTestToken(t, "merchant-1")
	req := httptest.NewRequest(http.MethodGet, "/students/STU001/attempts?limit=5", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("req-2")) {
		t.Fatalf("expected attempts in response, got %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/students/STU001/attempts?limit=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", resp.Code)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field %s: %v", name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="capture"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
