package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTextract struct {
	analyzeBlocks []types.Block
	analyzeErr    error
	detectBlocks  []types.Block
	detectErr     error
	detectCalls   int
}

func (f *fakeTextract) AnalyzeDocument(_ context.Context, _ *textract.AnalyzeDocumentInput, _ ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return &textract.AnalyzeDocumentOutput{Blocks: f.analyzeBlocks}, nil
}

func (f *fakeTextract) DetectDocumentText(_ context.Context, _ *textract.DetectDocumentTextInput, _ ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	f.detectCalls++
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return &textract.DetectDocumentTextOutput{Blocks: f.detectBlocks}, nil
}

func line(text string) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text)}
}

func word(id, text string) types.Block {
	return types.Block{BlockType: types.BlockTypeWord, Id: aws.String(id), Text: aws.String(text)}
}

func formBlocks() []types.Block {
	return []types.Block{
		word("w1", "Name:"),
		word("w2", "Alice"),
		word("w3", "Smith"),
		{
			BlockType:   types.BlockTypeKeyValueSet,
			Id:          aws.String("k1"),
			EntityTypes: []types.EntityType{types.EntityTypeKey},
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeChild, Ids: []string{"w1"}},
				{Type: types.RelationshipTypeValue, Ids: []string{"v1"}},
			},
		},
		{
			BlockType:     types.BlockTypeKeyValueSet,
			Id:            aws.String("v1"),
			EntityTypes:   []types.EntityType{types.EntityTypeValue},
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"w2", "w3"}}},
		},
	}
}

func TestExtractUsesAnalysisLinesAndFields(t *testing.T) {
	blocks := append(formBlocks(), line("Certificate of Completion"), line("Name: Alice Smith"))
	api := &fakeTextract{analyzeBlocks: blocks}
	client := NewTextractClient(api, zap.NewNop())

	doc, err := client.Extract(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "Certificate of Completion Name: Alice Smith", doc.Text)
	assert.Equal(t, map[string]string{"Name": "Alice Smith"}, doc.Fields)
	assert.Zero(t, api.detectCalls, "detection is only a fallback")
}

func TestExtractFallsBackToDetection(t *testing.T) {
	api := &fakeTextract{
		analyzeErr:   errors.New("analyze exploded"),
		detectBlocks: []types.Block{line("Bachelor of Science"), word("w", "ignored"), line("Alice Smith")},
	}
	client := NewTextractClient(api, zap.NewNop())

	text, err := client.ExtractText(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "Bachelor of Science Alice Smith", text)
	assert.Equal(t, 1, api.detectCalls)
}

func TestExtractNoTextIsEmptyNotError(t *testing.T) {
	client := NewTextractClient(&fakeTextract{}, zap.NewNop())

	doc, err := client.Extract(context.Background(), []byte("blank page"))
	require.NoError(t, err)
	assert.Equal(t, "", doc.Text)
}

func TestExtractKeepsFieldsWhenDetectionFails(t *testing.T) {
	api := &fakeTextract{analyzeBlocks: formBlocks(), detectErr: errors.New("throttled")}
	client := NewTextractClient(api, zap.NewNop())

	doc, err := client.Extract(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "Name Alice Smith", doc.Text)
}

func TestExtractServiceUnavailableWhenEveryStepFails(t *testing.T) {
	api := &fakeTextract{analyzeErr: errors.New("dial tcp: timeout"), detectErr: errors.New("dial tcp: timeout")}
	client := NewTextractClient(api, zap.NewNop())

	_, err := client.Extract(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestExtractInvalidDocument(t *testing.T) {
	bad := &types.UnsupportedDocumentException{Message: aws.String("unsupported")}
	client := NewTextractClient(&fakeTextract{analyzeErr: bad, detectErr: bad}, zap.NewNop())

	_, err := client.Extract(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = client.Extract(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestExtractIsIdempotentForIdenticalBytes(t *testing.T) {
	blocks := append(formBlocks(), line("Transcript"), line("GPA 3.9"))
	client := NewTextractClient(&fakeTextract{analyzeBlocks: blocks}, zap.NewNop())

	first, err := client.Extract(context.Background(), []byte("same"))
	require.NoError(t, err)
	second, err := client.Extract(context.Background(), []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
