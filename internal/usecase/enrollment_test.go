package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/idassure/internal/storage"
)

func TestEnrollGeneratesIdentityKey(t *testing.T) {
	f := newFixture(t)

	profile, err := f.uc.Enroll(context.Background(), EnrollRequest{DisplayName: " Carol ", Image: []byte("carol-face")})
	require.NoError(t, err)

	assert.NotEmpty(t, profile.IdentityKey)
	assert.Equal(t, "Carol", profile.DisplayName)
	assert.Equal(t, storage.ReferenceKey(profile.IdentityKey), profile.ReferenceImageKey)
	stored, err := f.store.Get(context.Background(), profile.ReferenceImageKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("carol-face"), stored)
	require.Len(t, f.repo.upserted, 1)
}

func TestEnrollFromUploadedImage(t *testing.T) {
	f := newFixture(t)

	profile, err := f.uc.Enroll(context.Background(), EnrollRequest{IdentityKey: "dave", ImageRef: "uploads/probe.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "refs/dave/ref.jpg", profile.ReferenceImageKey)
}

func TestEnrollRejectsMissingImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Enroll(context.Background(), EnrollRequest{IdentityKey: "erin"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))

	_, err = f.uc.Enroll(context.Background(), EnrollRequest{IdentityKey: "erin", ImageRef: "uploads/none.jpg"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.Empty(t, f.repo.upserted)
}

func TestEnrollRejectsNonUploadImageRefs(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(context.Background(), "attempts/alice/1.jpg", []byte("alice-probe"), "image/jpeg")
	require.NoError(t, err)

	for _, ref := range []string{storage.ReferenceKey("alice"), "attempts/alice/1.jpg"} {
		_, err := f.uc.Enroll(context.Background(), EnrollRequest{IdentityKey: "mallory", ImageRef: ref})
		require.Error(t, err, ref)
		assert.Equal(t, KindInvalidRequest, KindOf(err), ref)
	}
	assert.Empty(t, f.repo.upserted)
	_, err = f.store.Get(context.Background(), storage.ReferenceKey("mallory"))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestEnrollPersistenceFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.repo.upsertErr = errors.New("db down")

	_, err := f.uc.Enroll(context.Background(), EnrollRequest{IdentityKey: "frank", Image: []byte("face")})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t)

	key, err := f.uc.UploadImage(context.Background(), "Passport.PNG", []byte("\x89PNG\r\n\x1a\nrest"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	ct, ok := f.store.ContentType(key)
	require.True(t, ok)
	assert.Equal(t, "image/png", ct)

	_, err = f.uc.UploadImage(context.Background(), "empty.png", nil)
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}
