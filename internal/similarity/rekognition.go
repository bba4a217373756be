package similarity

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
)

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	CompareFaces(ctx context.Context, params *rekognition.CompareFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error)
}

// RekognitionClient compares faces with Amazon Rekognition.
type RekognitionClient struct {
	api    RekognitionAPI
	logger *zap.Logger
}

// NewRekognitionClient wraps a Rekognition API client.
func NewRekognitionClient(api RekognitionAPI, logger *zap.Logger) *RekognitionClient {
	return &RekognitionClient{api: api, logger: logger.Named("rekognition")}
}

// CompareFaces sends both images inline with a zero similarity threshold so
// that low-confidence candidates are returned too.
func (c *RekognitionClient) CompareFaces(ctx context.Context, reference, probe Image) ([]Match, error) {
	if len(reference.Bytes) == 0 || len(probe.Bytes) == 0 {
		return nil, logging.NewOperationError("similarity.compare_faces", "", ErrInvalidImage)
	}

	out, err := c.api.CompareFaces(ctx, &rekognition.CompareFacesInput{
		SourceImage:         &types.Image{Bytes: reference.Bytes},
		TargetImage:         &types.Image{Bytes: probe.Bytes},
		SimilarityThreshold: aws.Float32(0),
	})
	if err != nil {
		wrapped := logging.NewOperationError("similarity.compare_faces", "", classifyRekognitionError(err))
		c.logger.Warn("compare faces failed",
			zap.Error(err),
			zap.String("reference_key", reference.Key),
			zap.String("probe_key", probe.Key),
		)
		return nil, wrapped
	}

	matches := make([]Match, 0, len(out.FaceMatches))
	for _, fm := range out.FaceMatches {
		matches = append(matches, Match{
			Similarity:  clampSimilarity(float64(aws.ToFloat32(fm.Similarity))),
			SourceImage: reference.Key,
			TargetImage: probe.Key,
		})
	}
	c.logger.Debug("compare faces completed",
		zap.Int("matches", len(matches)),
		zap.Int("unmatched_faces", len(out.UnmatchedFaces)),
	)
	return matches, nil
}

func classifyRekognitionError(err error) error {
	var (
		badFormat *types.InvalidImageFormatException
		tooLarge  *types.ImageTooLargeException
		badParam  *types.InvalidParameterException
	)
	switch {
	case errors.As(err, &badFormat), errors.As(err, &tooLarge), errors.As(err, &badParam):
		return fmt.Errorf("%w: %w", ErrInvalidImage, err)
	default:
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
}
