package similarity

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRekognition struct {
	out   *rekognition.CompareFacesOutput
	err   error
	input *rekognition.CompareFacesInput
}

func (f *fakeRekognition) CompareFaces(_ context.Context, params *rekognition.CompareFacesInput, _ ...func(*rekognition.Options)) (*rekognition.CompareFacesOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestRekognitionReturnsEveryMatch(t *testing.T) {
	api := &fakeRekognition{out: &rekognition.CompareFacesOutput{
		FaceMatches: []types.CompareFacesMatch{
			{Similarity: aws.Float32(12.5)},
			{Similarity: aws.Float32(95)},
		},
	}}
	client := NewRekognitionClient(api, zap.NewNop())

	matches, err := client.CompareFaces(context.Background(),
		Image{Key: "refs/u1/ref.jpg", Bytes: []byte("ref")},
		Image{Key: "attempts/u1/a.jpg", Bytes: []byte("probe")},
	)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 12.5, matches[0].Similarity)
	assert.Equal(t, "refs/u1/ref.jpg", matches[1].SourceImage)
	assert.Equal(t, "attempts/u1/a.jpg", matches[1].TargetImage)
	assert.Equal(t, 95.0, MaxSimilarity(matches))
	assert.Equal(t, float32(0), aws.ToFloat32(api.input.SimilarityThreshold), "no floor is applied upstream")
}

func TestRekognitionNoMatchesIsNotAnError(t *testing.T) {
	client := NewRekognitionClient(&fakeRekognition{out: &rekognition.CompareFacesOutput{}}, zap.NewNop())

	matches, err := client.CompareFaces(context.Background(), Image{Bytes: []byte("a")}, Image{Bytes: []byte("b")})
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, 0.0, MaxSimilarity(matches))
}

func TestRekognitionClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "bad format", err: &types.InvalidImageFormatException{Message: aws.String("bad")}, want: ErrInvalidImage},
		{name: "too large", err: &types.ImageTooLargeException{Message: aws.String("big")}, want: ErrInvalidImage},
		{name: "throttled", err: &types.ThrottlingException{Message: aws.String("slow down")}, want: ErrServiceUnavailable},
		{name: "timeout", err: context.DeadlineExceeded, want: ErrServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewRekognitionClient(&fakeRekognition{err: tc.err}, zap.NewNop())
			_, err := client.CompareFaces(context.Background(), Image{Bytes: []byte("a")}, Image{Bytes: []byte("b")})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestRekognitionRejectsEmptyImages(t *testing.T) {
	api := &fakeRekognition{}
	client := NewRekognitionClient(api, zap.NewNop())

	_, err := client.CompareFaces(context.Background(), Image{}, Image{Bytes: []byte("b")})
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Nil(t, api.input, "upstream must not be called")
}
