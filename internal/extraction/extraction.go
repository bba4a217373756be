// Package extraction recovers text from supporting document images.
package extraction

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrServiceUnavailable reports that the extraction backend could not be reached or failed.
	ErrServiceUnavailable = errors.New("extraction service unavailable")
	// ErrInvalidDocument reports that the document bytes could not be read by the backend.
	ErrInvalidDocument = errors.New("invalid document")
)

// Document is the text recovered from one document image. Fields carries
// form key/value pairs when the backend recognised any.
type Document struct {
	Text   string
	Fields map[string]string
}

// Client extracts a Document from image bytes. Finding no text is not an
// error; it yields an empty Document.
type Client interface {
	Extract(ctx context.Context, image []byte) (*Document, error)
}

// ExtractText returns only the text of the document.
func ExtractText(ctx context.Context, client Client, image []byte) (string, error) {
	doc, err := client.Extract(ctx, image)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// fieldsText renders fields as "key value" pairs in key order so the result
// stays deterministic.
func fieldsText(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, strings.TrimSpace(k+" "+fields[k]))
	}
	return strings.Join(parts, " ")
}
