package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/facegate/internal/facestore"
	"github.com/example/facegate/internal/preprocess"
	"github.com/example/facegate/internal/verify"
)

// MaxUploadSize bounds a single captured photo upload.
const MaxUploadSize = 8 << 20

// VerificationService is the orchestrator surface the HTTP layer uses.
type VerificationService interface {
	IsReady() bool
	Verify(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.Outcome, error)
	VerifyRemote(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.Outcome, error)
	Register(ctx context.Context, studentID, imageRef string, box *preprocess.Box) (*verify.EmbeddingResult, error)
	Remove(ctx context.Context, studentID string) error
	Students() []string
	History(ctx context.Context, studentID string, limit int) ([]verify.Attempt, error)
	ModelInfo() verify.ModelInfo
	Result(ctx context.Context, requestID string) (*verify.Outcome, error)
	Metrics(ctx context.Context) (*verify.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. All routes
// except the health probe sit behind the auth middleware.
func RegisterRoutes(router *gin.Engine, svc VerificationService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "ready": svc.IsReady()}
		c.JSON(http.StatusOK, status)
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/verify", func(c *gin.Context) {
		studentID := c.PostForm("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
			return
		}

		box, err := parseFaceBox(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		imagePath, cleanup, ok := receiveUpload(c)
		if !ok {
			return
		}
		defer cleanup()

		var outcome *verify.Outcome
		if c.PostForm("mode") == "remote" {
			outcome, err = svc.VerifyRemote(c.Request.Context(), studentID, imagePath, box)
		} else {
			outcome, err = svc.Verify(c.Request.Context(), studentID, imagePath, box)
		}
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, outcome)
	})

	authed.POST("/register", func(c *gin.Context) {
		studentID := c.PostForm("student_id")
		if studentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_id is required"})
			return
		}

		box, err := parseFaceBox(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		imagePath, cleanup, ok := receiveUpload(c)
		if !ok {
			return
		}
		defer cleanup()

		result, err := svc.Register(c.Request.Context(), studentID, imagePath, box)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"student_id":         studentID,
			"embedding_len":      len(result.Embedding),
			"confidence":         result.Confidence,
			"processing_time_ms": result.ProcessingTimeMs,
		})
	})

	authed.GET("/students", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"students": svc.Students()})
	})

	authed.GET("/students/:id/attempts", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = parsed
		}
		attempts, err := svc.History(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_id": c.Param("id"), "attempts": attempts})
	})

	authed.DELETE("/students/:id/face", func(c *gin.Context) {
		if err := svc.Remove(c.Request.Context(), c.Param("id")); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": c.Param("id")})
	})

	authed.GET("/model", func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.ModelInfo())
	})

	authed.GET("/result/:id", func(c *gin.Context) {
		outcome, err := svc.Result(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	authed.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.Metrics(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// receiveUpload validates the multipart image and spools it to a
// temporary file the preprocessor can read. Responds on failure.
func receiveUpload(c *gin.Context) (path string, cleanup func(), ok bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return "", nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return "", nil, false
	}
	if !supportedImageType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be JPEG or PNG"})
		return "", nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return "", nil, false
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "capture-*.img")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return "", nil, false
	}

	if _, err := io.Copy(tmp, io.LimitReader(src, MaxUploadSize+1)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return "", nil, false
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
		return "", nil, false
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, true
}

func supportedImageType(file *multipart.FileHeader) bool {
	switch file.Header.Get("Content-Type") {
	case "image/jpeg", "image/png":
		return true
	default:
		return false
	}
}

// parseFaceBox reads the optional face bounding rectangle form fields.
// The four coordinates come as a set or not at all.
func parseFaceBox(c *gin.Context) (*preprocess.Box, error) {
	fields := []string{"face_left", "face_top", "face_right", "face_bottom"}
	values := make([]int, len(fields))
	present := 0
	for i, name := range fields {
		raw := c.PostForm(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", name, raw)
		}
		values[i] = v
		present++
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(fields) {
		return nil, errors.New("face box requires face_left, face_top, face_right and face_bottom")
	}
	return &preprocess.Box{Left: values[0], Top: values[1], Right: values[2], Bottom: values[3]}, nil
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, verify.ErrNotReady), errors.Is(err, verify.ErrDisposed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, facestore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "enrollment_required": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
