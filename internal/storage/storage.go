// Package storage keeps reference, probe and document images. Durability is
// owned by the backend; callers address objects by key.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrObjectNotFound reports a key with no stored object.
var ErrObjectNotFound = errors.New("object not found")

// Key prefixes partition the store. Only keys under UploadPrefix may be named
// by clients.
const (
	ReferencePrefix = "refs/"
	AttemptPrefix   = "attempts/"
	UploadPrefix    = "uploads/"
)

// IsUploadKey reports whether key names a client upload.
func IsUploadKey(key string) bool {
	return strings.HasPrefix(key, UploadPrefix) && !strings.Contains(key, "..")
}

// ReferenceKey is where the enrolled reference image of an identity lives.
func ReferenceKey(identityKey string) string {
	return fmt.Sprintf(ReferencePrefix+"%s/ref.jpg", sanitize(identityKey))
}

// AttemptKey returns a fresh key for a probe image submitted in an attempt.
func AttemptKey(identityKey string) string {
	return fmt.Sprintf(AttemptPrefix+"%s/%s.jpg", sanitize(identityKey), randomHex())
}

// UploadKey returns a fresh key for an uploaded file, keeping its extension.
func UploadKey(filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	return fmt.Sprintf(UploadPrefix+"%s%s", randomHex(), ext)
}

// DetectContentType sniffs the MIME type of data.
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}

func randomHex() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func sanitize(key string) string {
	key = strings.TrimSpace(key)
	key = strings.ReplaceAll(key, "/", "_")
	return strings.ReplaceAll(key, "..", "_")
}

// MemoryStore is an in-process store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores a copy of data under key, overwriting any previous object.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("storage: empty key")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: buf, contentType: contentType}
	return key, nil
}

// Get returns a copy of the object stored under key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// ContentType returns the content type recorded for key.
func (m *MemoryStore) ContentType(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.contentType, ok
}
