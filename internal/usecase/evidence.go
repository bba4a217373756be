package usecase

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/idassure/internal/extraction"
	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/retry"
	"github.com/example/idassure/internal/scoring"
	"github.com/example/idassure/internal/similarity"
)

// gatherEvidence runs the requested paths concurrently and joins them. Path
// failures are recorded on the attempt instead of aborting the group.
func (uc *VerificationUseCase) gatherEvidence(ctx context.Context, attempt *Attempt, inputs *evidenceInputs, opLogger *zap.Logger) {
	var g errgroup.Group

	if inputs.probe.Key != "" {
		attempt.biometric = &biometricEvidence{}
		g.Go(func() error {
			uc.runBiometric(ctx, attempt.ID, attempt.biometric, inputs, opLogger)
			return nil
		})
	}
	if len(inputs.documents) > 0 {
		attempt.document = &documentEvidence{}
		g.Go(func() error {
			uc.runDocument(ctx, attempt.ID, attempt.document, inputs.documents, opLogger)
			return nil
		})
	}

	_ = g.Wait()
}

func (uc *VerificationUseCase) runBiometric(ctx context.Context, attemptID string, ev *biometricEvidence, inputs *evidenceInputs, opLogger *zap.Logger) {
	ctx, span := uc.tracer.Start(ctx, "usecase.biometric")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, uc.opts.BiometricTimeout)
	defer cancel()

	started := uc.now()
	var matches []similarity.Match
	err := retry.Do(ctx, uc.opts.Upstream, func() error {
		var callErr error
		matches, callErr = uc.similarity.CompareFaces(ctx, inputs.reference, inputs.probe)
		return callErr
	}, func(attempt int, err error) {
		opLogger.Warn("transient similarity error", zap.Int("attempt", attempt), zap.Error(err))
	})
	ev.latency = uc.now().Sub(started)
	uc.metrics.ObserveEvidenceLatency(PathBiometric, ev.latency)

	if err != nil {
		ev.err = logging.NewOperationError("usecase.compare_faces", attemptID, err)
		uc.metrics.IncrementEvidenceFailure(PathBiometric, failureReason(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare faces failed")
		opLogger.Warn("biometric path degraded", zap.Error(ev.err))
		return
	}

	ev.matches = matches
	ev.maxSimilarity = similarity.MaxSimilarity(matches)
	uc.metrics.ObserveSimilarity(ev.maxSimilarity)
	span.SetAttributes(attribute.Int("matches", len(matches)), attribute.Float64("max_similarity", ev.maxSimilarity))
}

// runDocument extracts every document, bounded by DocumentWorkers, and joins
// the texts in document order. The path fails only when no document could be
// read at all.
func (uc *VerificationUseCase) runDocument(ctx context.Context, attemptID string, ev *documentEvidence, documents [][]byte, opLogger *zap.Logger) {
	ctx, span := uc.tracer.Start(ctx, "usecase.document")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, uc.opts.DocumentTimeout)
	defer cancel()

	started := uc.now()
	results := make([]*extraction.Document, len(documents))
	errs := make([]error, len(documents))

	var g errgroup.Group
	g.SetLimit(uc.opts.DocumentWorkers)
	for i, data := range documents {
		g.Go(func() error {
			err := retry.Do(ctx, uc.opts.Upstream, func() error {
				doc, callErr := uc.extraction.Extract(ctx, data)
				if callErr != nil {
					return callErr
				}
				results[i] = doc
				return nil
			}, func(attempt int, err error) {
				opLogger.Warn("transient extraction error", zap.Int("document", i), zap.Int("attempt", attempt), zap.Error(err))
			})
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	ev.latency = uc.now().Sub(started)
	uc.metrics.ObserveEvidenceLatency(PathDocument, ev.latency)

	texts := make([]string, 0, len(documents))
	fields := map[string]string{}
	for i, doc := range results {
		if errs[i] != nil {
			ev.failed++
			uc.metrics.IncrementEvidenceFailure(PathDocument, failureReason(errs[i]))
			opLogger.Warn("document extraction failed", zap.Int("document", i), zap.Error(errs[i]))
			continue
		}
		if doc == nil {
			continue
		}
		if text := strings.TrimSpace(doc.Text); text != "" {
			texts = append(texts, text)
		}
		for k, v := range doc.Fields {
			if _, seen := fields[k]; !seen {
				fields[k] = v
			}
		}
	}

	if ev.failed == len(documents) {
		ev.err = logging.NewOperationError("usecase.extract_documents", attemptID, errors.Join(errs...))
		span.RecordError(ev.err)
		span.SetStatus(codes.Error, "extraction failed")
		opLogger.Warn("document path degraded", zap.Error(ev.err))
	}

	ev.evidence = scoring.Evidence{Text: strings.Join(texts, " "), Fields: fields}
	span.SetAttributes(attribute.Int("documents", len(documents)), attribute.Int("failed", ev.failed))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, similarity.ErrInvalidImage), errors.Is(err, extraction.ErrInvalidDocument):
		return "invalid_input"
	default:
		return "unavailable"
	}
}
