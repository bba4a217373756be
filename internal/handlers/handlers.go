package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/idassure/internal/auth"
	"github.com/example/idassure/internal/repository"
	"github.com/example/idassure/internal/scoring"
	"github.com/example/idassure/internal/usecase"
)

// MaxUploadSize is the default limit for a single uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and part headers so that an
// oversized file is reported as such rather than as a broken form.
const multipartOverhead = 64 << 10

var allowedUploadTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// Service is the use case surface the HTTP layer depends on.
type Service interface {
	Verify(ctx context.Context, req usecase.VerifyRequest) (*usecase.Verdict, error)
	Enroll(ctx context.Context, req usecase.EnrollRequest) (*repository.ReferenceProfile, error)
	UploadImage(ctx context.Context, filename string, data []byte) (string, error)
	GetResult(ctx context.Context, identityKey, attemptID string) (*usecase.Verdict, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type claimPayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type documentPayload struct {
	Filename string `json:"filename"`
	ImageRef string `json:"image_ref"`
	Base64   string `json:"base64"`
}

type verifyPayload struct {
	IdentityKey      string            `json:"identity_key"`
	ProbeImageRef    string            `json:"probe_image_ref"`
	ProbeImageBase64 string            `json:"probe_image_base64"`
	Documents        []documentPayload `json:"documents"`
	Claims           []claimPayload    `json:"claims"`
}

type enrollPayload struct {
	IdentityKey string `json:"identity_key"`
	DisplayName string `json:"display_name"`
	ImageRef    string `json:"image_ref"`
	ImageBase64 string `json:"image_base64"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The upload limit
// follows router.MaxMultipartMemory when it is set.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, metricsHandler http.Handler) {
	limit := int64(MaxUploadSize)
	if router.MaxMultipartMemory > 0 {
		limit = router.MaxMultipartMemory
	}
	// JSON bodies carry base64 images, possibly several of them.
	jsonLimit := 8 * limit

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.POST("/uploads", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

		file, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeStatus(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit")
				return
			}
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "file is required")
			return
		}
		if file.Size > limit {
			writeStatus(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit")
			return
		}

		src, err := file.Open()
		if err != nil {
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "unable to open file")
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, limit+1))
		if err != nil {
			writeStatus(c, http.StatusInternalServerError, usecase.KindInternal.String(), "failed to read file")
			return
		}
		if int64(len(data)) > limit {
			writeStatus(c, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds upload limit")
			return
		}

		if !allowedUploadTypes[uploadContentType(data)] {
			writeStatus(c, http.StatusUnsupportedMediaType, "unsupported_media_type", "only jpeg, png and pdf files are accepted")
			return
		}

		key, err := svc.UploadImage(c.Request.Context(), file.Filename, data)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"key": key})
	})

	router.POST("/enroll", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, jsonLimit)

		var payload enrollPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "malformed request body")
			return
		}
		image, err := decodeBase64(payload.ImageBase64)
		if err != nil {
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "image_base64 is not valid base64")
			return
		}

		profile, err := svc.Enroll(c.Request.Context(), usecase.EnrollRequest{
			IdentityKey: payload.IdentityKey,
			DisplayName: payload.DisplayName,
			ImageRef:    payload.ImageRef,
			Image:       image,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"identity_key":        profile.IdentityKey,
			"display_name":        profile.DisplayName,
			"reference_image_key": profile.ReferenceImageKey,
		})
	})

	router.POST("/verify", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, jsonLimit)

		var payload verifyPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeStatus(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds limit")
				return
			}
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "malformed request body")
			return
		}

		req, err := payload.toRequest()
		if err != nil {
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), err.Error())
			return
		}

		verdict, err := svc.Verify(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}

		status := http.StatusOK
		if !verdict.Success {
			status = http.StatusUnauthorized
		}
		c.JSON(status, verdict)
	})

	router.GET("/attempts/:id", authMiddleware, func(c *gin.Context) {
		attemptID := strings.TrimSpace(c.Param("id"))
		if attemptID == "" {
			writeStatus(c, http.StatusBadRequest, usecase.KindInvalidRequest.String(), "id is required")
			return
		}

		identityKey, ok := auth.GetIdentityKey(c.Request.Context())
		if !ok {
			writeStatus(c, http.StatusUnauthorized, "unauthorized", "missing identity")
			return
		}

		verdict, err := svc.GetResult(c.Request.Context(), identityKey, attemptID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, verdict)
	})
}

func (p verifyPayload) toRequest() (usecase.VerifyRequest, error) {
	probe, err := decodeBase64(p.ProbeImageBase64)
	if err != nil {
		return usecase.VerifyRequest{}, errors.New("probe_image_base64 is not valid base64")
	}

	req := usecase.VerifyRequest{
		IdentityKey:   strings.TrimSpace(p.IdentityKey),
		ProbeImageRef: strings.TrimSpace(p.ProbeImageRef),
		ProbeImage:    probe,
	}
	for _, doc := range p.Documents {
		data, err := decodeBase64(doc.Base64)
		if err != nil {
			return usecase.VerifyRequest{}, errors.New("document base64 is not valid base64")
		}
		req.Documents = append(req.Documents, usecase.DocumentInput{
			Filename: doc.Filename,
			ImageRef: strings.TrimSpace(doc.ImageRef),
			Data:     data,
		})
	}
	for _, claim := range p.Claims {
		req.Claims = append(req.Claims, scoring.Claim{Field: claim.Field, Value: claim.Value})
	}
	return req, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i > 0 {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

// uploadContentType sniffs the media type from the bytes. The declared part
// header is not trusted.
func uploadContentType(data []byte) string {
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return ""
	}
	return mediaType
}

func statusForKind(kind usecase.ErrorKind) int {
	switch kind {
	case usecase.KindInvalidRequest:
		return http.StatusBadRequest
	case usecase.KindNotFound:
		return http.StatusNotFound
	case usecase.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := usecase.KindOf(err)
	message := "internal error"
	var verr *usecase.VerificationError
	if errors.As(err, &verr) && verr.Kind != usecase.KindInternal {
		message = verr.Message
	}
	if kind == usecase.KindServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	writeStatus(c, statusForKind(kind), kind.String(), message)
}

func writeStatus(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{"kind": kind, "message": message})
}
