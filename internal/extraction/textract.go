package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/logging"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractClient extracts document text with Amazon Textract. Form analysis is
// tried first; plain line detection is the fallback whenever analysis fails or
// yields no lines.
type TextractClient struct {
	api    TextractAPI
	logger *zap.Logger
}

// NewTextractClient wraps a Textract API client.
func NewTextractClient(api TextractAPI, logger *zap.Logger) *TextractClient {
	return &TextractClient{api: api, logger: logger.Named("textract")}
}

// ExtractText satisfies callers that only need the text corpus.
func (c *TextractClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	return ExtractText(ctx, c, image)
}

// Extract runs the analysis/detection chain over image.
func (c *TextractClient) Extract(ctx context.Context, image []byte) (*Document, error) {
	if len(image) == 0 {
		return nil, logging.NewOperationError("extraction.extract", "", ErrInvalidDocument)
	}

	doc := &Document{}
	analyzed, analyzeErr := c.api.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: image},
		FeatureTypes: []types.FeatureType{types.FeatureTypeForms, types.FeatureTypeTables},
	})
	if analyzeErr == nil {
		doc.Fields = keyValuePairs(analyzed.Blocks)
		doc.Text = joinLines(analyzed.Blocks)
		if doc.Text != "" {
			return doc, nil
		}
	} else {
		c.logger.Warn("analyze document failed, falling back to text detection", zap.Error(analyzeErr))
	}

	detected, detectErr := c.api.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: image},
	})
	if detectErr != nil {
		if len(doc.Fields) > 0 {
			c.logger.Warn("text detection failed, using form fields only", zap.Error(detectErr))
			doc.Text = fieldsText(doc.Fields)
			return doc, nil
		}
		if analyzeErr != nil && isInvalidDocument(analyzeErr) && isInvalidDocument(detectErr) {
			return nil, logging.NewOperationError("extraction.extract", "", fmt.Errorf("%w: %w", ErrInvalidDocument, detectErr))
		}
		return nil, logging.NewOperationError("extraction.extract", "", fmt.Errorf("%w: %w", ErrServiceUnavailable, detectErr))
	}

	doc.Text = joinLines(detected.Blocks)
	if doc.Text == "" && len(doc.Fields) > 0 {
		doc.Text = fieldsText(doc.Fields)
	}
	return doc, nil
}

func joinLines(blocks []types.Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeLine {
			continue
		}
		if text := strings.TrimSpace(aws.ToString(b.Text)); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, " ")
}

// keyValuePairs resolves KEY blocks to their VALUE blocks and both to the
// text of their child words.
func keyValuePairs(blocks []types.Block) map[string]string {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	fields := make(map[string]string)
	for _, b := range blocks {
		if b.BlockType != types.BlockTypeKeyValueSet || !hasEntity(b, types.EntityTypeKey) {
			continue
		}
		key := strings.TrimSuffix(childText(b, byID), ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		var values []string
		for _, rel := range b.Relationships {
			if rel.Type != types.RelationshipTypeValue {
				continue
			}
			for _, id := range rel.Ids {
				if v, ok := byID[id]; ok {
					if text := childText(v, byID); text != "" {
						values = append(values, text)
					}
				}
			}
		}
		if len(values) > 0 {
			fields[key] = strings.Join(values, " ")
		}
	}
	return fields
}

func childText(b types.Block, byID map[string]types.Block) string {
	var words []string
	for _, rel := range b.Relationships {
		if rel.Type != types.RelationshipTypeChild {
			continue
		}
		for _, id := range rel.Ids {
			child, ok := byID[id]
			if !ok || child.BlockType != types.BlockTypeWord {
				continue
			}
			if text := strings.TrimSpace(aws.ToString(child.Text)); text != "" {
				words = append(words, text)
			}
		}
	}
	return strings.Join(words, " ")
}

func hasEntity(b types.Block, want types.EntityType) bool {
	for _, e := range b.EntityTypes {
		if e == want {
			return true
		}
	}
	return false
}

func isInvalidDocument(err error) bool {
	var (
		bad         *types.BadDocumentException
		unsupported *types.UnsupportedDocumentException
		tooLarge    *types.DocumentTooLargeException
		badParam    *types.InvalidParameterException
	)
	return errors.As(err, &bad) || errors.As(err, &unsupported) ||
		errors.As(err, &tooLarge) || errors.As(err, &badParam)
}
