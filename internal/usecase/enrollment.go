package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/repository"
	"github.com/example/idassure/internal/storage"
)

// EnrollRequest registers a reference image for an identity. When
// IdentityKey is empty a new one is generated.
type EnrollRequest struct {
	IdentityKey string
	DisplayName string
	ImageRef    string
	Image       []byte
}

// Enroll stores the reference image under the identity's reference key and
// upserts the profile. Re-enrolling replaces the previous reference.
func (uc *VerificationUseCase) Enroll(ctx context.Context, req EnrollRequest) (*repository.ReferenceProfile, error) {
	identityKey := strings.TrimSpace(req.IdentityKey)
	if identityKey == "" {
		identityKey = uuid.NewString()
	}
	opLogger := logging.WithIdentity(logging.WithOperation(uc.logger, "usecase.enroll", ""), identityKey)

	if req.ImageRef == "" && len(req.Image) == 0 {
		return nil, invalidRequest("a reference image is required", nil)
	}
	if req.ImageRef != "" && len(req.Image) > 0 {
		return nil, invalidRequest("reference image must be given either by reference or inline, not both", nil)
	}
	if req.ImageRef != "" && !storage.IsUploadKey(req.ImageRef) {
		return nil, invalidRequest("image_ref must name an upload", nil)
	}

	data := req.Image
	if req.ImageRef != "" {
		loaded, err := uc.store.Get(ctx, req.ImageRef)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, invalidRequest("reference image not found", err)
			}
			return nil, unavailable("load reference image", err)
		}
		data = loaded
	}

	key, err := uc.store.Put(ctx, storage.ReferenceKey(identityKey), data, storage.DetectContentType(data))
	if err != nil {
		opLogger.Error("failed to store reference image", zap.Error(err))
		return nil, unavailable("store reference image", err)
	}

	now := uc.now().UTC()
	profile := &repository.ReferenceProfile{
		IdentityKey:       identityKey,
		DisplayName:       strings.TrimSpace(req.DisplayName),
		ReferenceImageKey: key,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := uc.repo.UpsertProfile(ctx, profile); err != nil {
		opLogger.Error("failed to persist profile", zap.Error(err))
		return nil, internal("persist profile", logging.NewOperationError("usecase.upsert_profile", identityKey, err))
	}

	opLogger.Info("identity enrolled", zap.String("reference_image_key", key))
	return profile, nil
}

// UploadImage stores an uploaded document or probe image and returns its key.
func (uc *VerificationUseCase) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", invalidRequest("empty upload", nil)
	}
	start := time.Now()
	key, err := uc.store.Put(ctx, storage.UploadKey(filename), data, storage.DetectContentType(data))
	if err != nil {
		return "", unavailable("store upload", err)
	}
	uc.logger.Debug("upload stored", zap.String("key", key), zap.Int("bytes", len(data)), zap.Duration("elapsed", time.Since(start)))
	return key, nil
}
