package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/similarity"
)

// CompareFacesMethod is the unary RPC served by self-hosted face matchers.
// Requests and replies are google.protobuf.Struct values:
//
//	request: {reference_image: <base64>, probe_image: <base64>}
//	reply:   {face_matches: [{similarity: <0-100>}, ...]}
const CompareFacesMethod = "/facematch.v1.FaceMatcher/CompareFaces"

// NewFaceMatcher returns a similarity client backed by a gRPC face matcher.
// The connection is established in the background; a matcher that is not
// reachable surfaces as ErrServiceUnavailable on the first CompareFaces.
func NewFaceMatcher(addr string, logger *zap.Logger, opts ...grpc.DialOption) (similarity.Client, *grpc.ClientConn, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.new_face_matcher", "", err)
		logger.Error("failed to create face matcher client", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	conn.Connect()
	return &grpcFaceMatcher{conn: conn, logger: logger.Named("face_matcher")}, conn, nil
}

type grpcFaceMatcher struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcFaceMatcher) CompareFaces(ctx context.Context, reference, probe similarity.Image) ([]similarity.Match, error) {
	if len(reference.Bytes) == 0 || len(probe.Bytes) == 0 {
		return nil, logging.NewOperationError("grpcclient.compare_faces", "", similarity.ErrInvalidImage)
	}

	req, err := structpb.NewStruct(map[string]any{
		"reference_image": base64.StdEncoding.EncodeToString(reference.Bytes),
		"probe_image":     base64.StdEncoding.EncodeToString(probe.Bytes),
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.compare_faces", "", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, CompareFacesMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.compare_faces", "", classifyStatus(err))
		g.logger.Warn("face matcher call failed", zap.Error(err), zap.String("probe_key", probe.Key))
		return nil, wrapped
	}

	return decodeMatches(resp, reference.Key, probe.Key), nil
}

func decodeMatches(resp *structpb.Struct, sourceKey, targetKey string) []similarity.Match {
	values := resp.GetFields()["face_matches"].GetListValue().GetValues()
	matches := make([]similarity.Match, 0, len(values))
	for _, v := range values {
		fields := v.GetStructValue().GetFields()
		score := fields["similarity"].GetNumberValue()
		switch {
		case score < 0:
			score = 0
		case score > 100:
			score = 100
		}
		matches = append(matches, similarity.Match{
			Similarity:  score,
			SourceImage: sourceKey,
			TargetImage: targetKey,
		})
	}
	return matches
}

func classifyStatus(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %w", similarity.ErrInvalidImage, err)
	default:
		return fmt.Errorf("%w: %w", similarity.ErrServiceUnavailable, err)
	}
}
