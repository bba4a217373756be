// Package similarity compares a probe face image against an enrolled
// reference. Clients return every candidate match; deciding what is "similar
// enough" is left to the caller.
package similarity

import (
	"context"
	"errors"
)

var (
	// ErrServiceUnavailable reports that the face comparison backend could not be reached or failed.
	ErrServiceUnavailable = errors.New("similarity service unavailable")
	// ErrInvalidImage reports that an image could not be decoded or contained no usable face.
	ErrInvalidImage = errors.New("invalid image")
)

// Image is an image handed to the comparison backend.
type Image struct {
	Key   string
	Bytes []byte
}

// Match is one candidate face pair with a similarity in [0,100].
type Match struct {
	Similarity  float64 `json:"similarity"`
	SourceImage string  `json:"source_image"`
	TargetImage string  `json:"target_image"`
}

// Client exposes the face comparison primitive.
type Client interface {
	CompareFaces(ctx context.Context, reference, probe Image) ([]Match, error)
}

// MaxSimilarity returns the highest similarity among matches, or 0 when there
// are none.
func MaxSimilarity(matches []Match) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Similarity > best {
			best = m.Similarity
		}
	}
	return best
}

func clampSimilarity(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
