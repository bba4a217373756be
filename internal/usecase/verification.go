package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/idassure/internal/auth"
	"github.com/example/idassure/internal/events"
	"github.com/example/idassure/internal/extraction"
	"github.com/example/idassure/internal/logging"
	"github.com/example/idassure/internal/metrics"
	"github.com/example/idassure/internal/repository"
	"github.com/example/idassure/internal/retry"
	"github.com/example/idassure/internal/scoring"
	"github.com/example/idassure/internal/similarity"
	"github.com/example/idassure/internal/storage"
)

// VerificationRepository defines the persistence operations needed by the use case.
type VerificationRepository interface {
	FindProfile(ctx context.Context, identityKey string) (*repository.ReferenceProfile, error)
	UpsertProfile(ctx context.Context, profile *repository.ReferenceProfile) error
	SaveAttempt(ctx context.Context, attempt *repository.VerificationAttempt) error
	FindAttempt(ctx context.Context, attemptID, identityKey string) (*repository.VerificationAttempt, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ImageStore keeps reference, probe and document images.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// CredentialIssuer signs credentials for successful attempts.
type CredentialIssuer interface {
	Issue(ctx context.Context, identityKey, attemptID string) (*auth.Credential, error)
}

// EventPublisher announces decided attempts.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.DecisionEvent) error
}

// Dependencies groups the collaborators of the use case. Publisher and
// Metrics are optional.
type Dependencies struct {
	Repo       VerificationRepository
	Cache      Cache
	Store      ImageStore
	Similarity similarity.Client
	Extraction extraction.Client
	Issuer     CredentialIssuer
	Publisher  EventPublisher
	Metrics    *metrics.Metrics
}

// Options tune the decision and the upstream calls.
type Options struct {
	Policy           Policy
	Scoring          scoring.Policy
	BiometricTimeout time.Duration
	DocumentTimeout  time.Duration
	Upstream         retry.Policy
	ResultTTL        time.Duration
	DocumentWorkers  int
}

// DefaultOptions returns the stock thresholds and timeouts.
func DefaultOptions() Options {
	return Options{
		Policy:           DefaultPolicy(),
		Scoring:          scoring.DefaultPolicy(),
		BiometricTimeout: 10 * time.Second,
		DocumentTimeout:  20 * time.Second,
		Upstream:         retry.Policy{Attempts: 1, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second},
		ResultTTL:        15 * time.Minute,
		DocumentWorkers:  4,
	}
}

// DocumentInput is one supporting document, addressed by an uploaded key or
// carried inline.
type DocumentInput struct {
	Filename string
	ImageRef string
	Data     []byte
}

// VerifyRequest is the input of a verification attempt.
type VerifyRequest struct {
	IdentityKey   string
	ProbeImageRef string
	ProbeImage    []byte
	Documents     []DocumentInput
	Claims        []scoring.Claim
}

func (r VerifyRequest) hasProbe() bool {
	return r.ProbeImageRef != "" || len(r.ProbeImage) > 0
}

// Verdict is the decided outcome of an attempt.
type Verdict struct {
	AttemptID     string          `json:"attempt_id"`
	IdentityKey   string          `json:"identity_key"`
	Success       bool            `json:"success"`
	Score         float64         `json:"score"`
	Similarity    *float64        `json:"similarity,omitempty"`
	DocumentScore *float64        `json:"document_score,omitempty"`
	Issues        []scoring.Issue `json:"issues"`
	DegradedPaths []string        `json:"degraded_paths,omitempty"`
	Credential    string          `json:"credential,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	repo       VerificationRepository
	cache      Cache
	store      ImageStore
	similarity similarity.Client
	extraction extraction.Client
	issuer     CredentialIssuer
	publisher  EventPublisher
	metrics    *metrics.Metrics
	scorer     *scoring.Scorer
	tracer     trace.Tracer
	logger     *zap.Logger
	opts       Options
	cacheRetry retry.Policy
	now        func() time.Time
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(deps Dependencies, opts Options, logger *zap.Logger) *VerificationUseCase {
	defaults := DefaultOptions()
	if opts.BiometricTimeout <= 0 {
		opts.BiometricTimeout = defaults.BiometricTimeout
	}
	if opts.DocumentTimeout <= 0 {
		opts.DocumentTimeout = defaults.DocumentTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = defaults.ResultTTL
	}
	if opts.DocumentWorkers <= 0 {
		opts.DocumentWorkers = defaults.DocumentWorkers
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &VerificationUseCase{
		repo:       deps.Repo,
		cache:      deps.Cache,
		store:      deps.Store,
		similarity: deps.Similarity,
		extraction: deps.Extraction,
		issuer:     deps.Issuer,
		publisher:  publisher,
		metrics:    deps.Metrics,
		scorer:     scoring.NewScorer(opts.Scoring),
		tracer:     otel.Tracer("github.com/example/idassure/internal/usecase"),
		logger:     logger.Named("verification_usecase"),
		opts:       opts,
		cacheRetry: retry.Policy{Attempts: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second},
		now:        time.Now,
	}
}

// Verify runs one attempt to a verdict. A rejected attempt is a verdict with
// Success false; errors are reserved for requests that could not be decided.
func (uc *VerificationUseCase) Verify(ctx context.Context, req VerifyRequest) (*Verdict, error) {
	started := uc.now()
	attemptID := uuid.NewString()
	ctx, span := uc.tracer.Start(ctx, "usecase.Verify", trace.WithAttributes(
		attribute.String("attempt_id", attemptID),
		attribute.String("identity_key", req.IdentityKey),
	))
	defer span.End()

	opLogger := logging.WithIdentity(logging.WithOperation(uc.logger, "usecase.verify", attemptID), req.IdentityKey)

	verdict, err := uc.verify(ctx, attemptID, req, started, opLogger)
	uc.metrics.ObserveVerifyLatency(uc.now().Sub(started))
	if err != nil {
		kind := KindOf(err)
		uc.metrics.IncrementError(kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, kind.String())
		if kind == KindInternal || kind == KindServiceUnavailable {
			opLogger.Error("verification failed", zap.String("kind", kind.String()), zap.Error(err))
		} else {
			opLogger.Info("verification rejected before evidence", zap.String("kind", kind.String()), zap.Error(err))
		}
		return nil, err
	}

	span.SetAttributes(attribute.Bool("success", verdict.Success), attribute.Float64("score", verdict.Score))
	return verdict, nil
}

func (uc *VerificationUseCase) verify(ctx context.Context, attemptID string, req VerifyRequest, started time.Time, opLogger *zap.Logger) (*Verdict, error) {
	if err := validateVerifyRequest(req); err != nil {
		return nil, err
	}

	attempt := newAttempt(attemptID, req.IdentityKey, started.UTC())
	inputs, err := uc.loadInputs(ctx, attempt, req)
	if err != nil {
		return nil, err
	}

	uc.gatherEvidence(ctx, attempt, inputs, opLogger)
	if attempt.allPathsFailed() {
		return nil, unavailable("no evidence could be gathered", errors.Join(ErrAllEvidenceFailed, attempt.pathErrors()))
	}
	if err := attempt.advance(StateEvidenceGathered); err != nil {
		return nil, internal("advance attempt", err)
	}

	if attempt.document != nil {
		attempt.document.result = uc.scorer.Score(req.Claims, attempt.document.evidence)
	}
	if err := attempt.advance(StateScored); err != nil {
		return nil, internal("advance attempt", err)
	}

	verdict := uc.buildVerdict(attempt)
	credentialID := ""
	if verdict.Success {
		credential, err := uc.issuer.Issue(ctx, attempt.IdentityKey, attempt.ID)
		if err != nil {
			return nil, internal("issue credential", logging.NewOperationError("usecase.issue_credential", attempt.ID, err))
		}
		verdict.Credential = credential.Token
		credentialID = credential.ID
	}
	if err := attempt.decide(verdict); err != nil {
		return nil, internal("decide attempt", err)
	}
	if err := uc.persist(ctx, attempt, credentialID, started); err != nil {
		return nil, err
	}

	uc.metrics.IncrementVerdict(verdict.Success, attempt.paths())
	opLogger.Info("verification decided",
		zap.Bool("success", verdict.Success),
		zap.Float64("score", verdict.Score),
		zap.String("paths", attempt.paths()),
		zap.Strings("degraded_paths", verdict.DegradedPaths),
		zap.Int("issues", len(verdict.Issues)),
	)

	uc.cacheVerdict(ctx, verdict, opLogger)
	uc.publishDecision(ctx, verdict, opLogger)
	return verdict, nil
}

func validateVerifyRequest(req VerifyRequest) error {
	if strings.TrimSpace(req.IdentityKey) == "" {
		return invalidRequest("identity_key is required", nil)
	}
	if !req.hasProbe() && len(req.Documents) == 0 {
		return invalidRequest("a probe image or at least one document is required", nil)
	}
	if req.ProbeImageRef != "" && len(req.ProbeImage) > 0 {
		return invalidRequest("probe image must be given either by reference or inline, not both", nil)
	}
	if req.ProbeImageRef != "" && !storage.IsUploadKey(req.ProbeImageRef) {
		return invalidRequest("probe_image_ref must name an upload", nil)
	}
	for i, doc := range req.Documents {
		if doc.ImageRef == "" && len(doc.Data) == 0 {
			return invalidRequest(fmt.Sprintf("document %d has no image", i), nil)
		}
		if doc.ImageRef != "" && !storage.IsUploadKey(doc.ImageRef) {
			return invalidRequest(fmt.Sprintf("document %d image_ref must name an upload", i), nil)
		}
	}
	if len(req.Documents) > 0 && len(req.Claims) == 0 {
		return invalidRequest("documents require at least one claim", nil)
	}
	for i, claim := range req.Claims {
		if strings.TrimSpace(claim.Field) == "" || strings.TrimSpace(claim.Value) == "" {
			return invalidRequest(fmt.Sprintf("claim %d needs a field and a value", i), nil)
		}
	}
	return nil
}

type evidenceInputs struct {
	reference similarity.Image
	probe     similarity.Image
	documents [][]byte
}

// loadInputs resolves every image the attempt needs before any evidence is
// gathered, so that missing inputs never produce a recorded attempt.
func (uc *VerificationUseCase) loadInputs(ctx context.Context, attempt *Attempt, req VerifyRequest) (*evidenceInputs, error) {
	inputs := &evidenceInputs{}

	if req.hasProbe() {
		profile, err := uc.repo.FindProfile(ctx, req.IdentityKey)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, notFound(fmt.Sprintf("identity %q is not enrolled", req.IdentityKey), err)
			}
			return nil, unavailable("load reference profile", err)
		}

		refBytes, err := uc.store.Get(ctx, profile.ReferenceImageKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return nil, notFound(fmt.Sprintf("identity %q has no reference image", req.IdentityKey), err)
			}
			return nil, unavailable("load reference image", err)
		}
		inputs.reference = similarity.Image{Key: profile.ReferenceImageKey, Bytes: refBytes}

		probe, err := uc.resolveProbe(ctx, req)
		if err != nil {
			return nil, err
		}
		inputs.probe = probe
		attempt.ProbeImageKey = probe.Key
	}

	for i, doc := range req.Documents {
		data := doc.Data
		key := doc.ImageRef
		if key != "" {
			loaded, err := uc.store.Get(ctx, key)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					return nil, invalidRequest(fmt.Sprintf("document %d not found", i), err)
				}
				return nil, unavailable("load document", err)
			}
			data = loaded
		} else {
			stored, err := uc.store.Put(ctx, storage.UploadKey(doc.Filename), data, storage.DetectContentType(data))
			if err != nil {
				return nil, unavailable("store document", err)
			}
			key = stored
		}
		inputs.documents = append(inputs.documents, data)
		attempt.DocumentKeys = append(attempt.DocumentKeys, key)
	}
	return inputs, nil
}

func (uc *VerificationUseCase) resolveProbe(ctx context.Context, req VerifyRequest) (similarity.Image, error) {
	if req.ProbeImageRef != "" {
		data, err := uc.store.Get(ctx, req.ProbeImageRef)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return similarity.Image{}, invalidRequest("probe image not found", err)
			}
			return similarity.Image{}, unavailable("load probe image", err)
		}
		return similarity.Image{Key: req.ProbeImageRef, Bytes: data}, nil
	}

	key, err := uc.store.Put(ctx, storage.AttemptKey(req.IdentityKey), req.ProbeImage, storage.DetectContentType(req.ProbeImage))
	if err != nil {
		return similarity.Image{}, unavailable("store probe image", err)
	}
	return similarity.Image{Key: key, Bytes: req.ProbeImage}, nil
}

func (uc *VerificationUseCase) buildVerdict(attempt *Attempt) *Verdict {
	verdict := &Verdict{
		AttemptID:     attempt.ID,
		IdentityKey:   attempt.IdentityKey,
		Issues:        []scoring.Issue{},
		DegradedPaths: attempt.degradedPaths(),
		DecidedAt:     uc.now().UTC(),
	}

	var bio, doc PathScore
	if attempt.biometric != nil {
		sim := attempt.biometric.maxSimilarity
		verdict.Similarity = &sim
		verdict.Score = sim
		bio = PathScore{Exercised: true, Score: sim}
	}
	if attempt.document != nil {
		docScore := attempt.document.result.Score
		verdict.DocumentScore = &docScore
		verdict.Score = docScore
		verdict.Issues = attempt.document.result.Issues
		doc = PathScore{Exercised: true, Score: docScore}
	}
	verdict.Success = uc.opts.Policy.Decide(bio, doc)
	return verdict
}

func (uc *VerificationUseCase) persist(ctx context.Context, attempt *Attempt, credentialID string, started time.Time) error {
	v := attempt.verdict
	record := &repository.VerificationAttempt{
		AttemptID:     attempt.ID,
		IdentityKey:   attempt.IdentityKey,
		ProbeImageKey: attempt.ProbeImageKey,
		Status:        repository.AttemptStatusDecided,
		Success:       v.Success,
		Score:         v.Score,
		Similarity:    v.Similarity,
		DocumentScore: v.DocumentScore,
		CredentialID:  credentialID,
		LatencyMs:     uc.now().Sub(started).Milliseconds(),
		CreatedAt:     attempt.CreatedAt,
		DecidedAt:     v.DecidedAt,
	}
	if err := record.SetIssues(v.Issues); err != nil {
		return internal("encode issues", err)
	}
	if err := record.SetDocumentKeys(attempt.DocumentKeys); err != nil {
		return internal("encode document keys", err)
	}
	if err := uc.repo.SaveAttempt(ctx, record); err != nil {
		return internal("record attempt", logging.NewOperationError("usecase.save_attempt", attempt.ID, err))
	}
	return nil
}

type cachedVerdict struct {
	AttemptID     string          `json:"attempt_id"`
	IdentityKey   string          `json:"identity_key"`
	Success       bool            `json:"success"`
	Score         float64         `json:"score"`
	Similarity    *float64        `json:"similarity,omitempty"`
	DocumentScore *float64        `json:"document_score,omitempty"`
	Issues        []scoring.Issue `json:"issues"`
	DecidedAt     time.Time       `json:"decided_at"`
}

func resultCacheKey(attemptID string) string {
	return fmt.Sprintf("verification:%s", attemptID)
}

// cacheVerdict stores the verdict without its credential. The attempt is
// already durable, so failures only cost a database read later.
func (uc *VerificationUseCase) cacheVerdict(ctx context.Context, v *Verdict, opLogger *zap.Logger) {
	if uc.cache == nil {
		return
	}
	serialized, err := json.Marshal(cachedVerdict{
		AttemptID:     v.AttemptID,
		IdentityKey:   v.IdentityKey,
		Success:       v.Success,
		Score:         v.Score,
		Similarity:    v.Similarity,
		DocumentScore: v.DocumentScore,
		Issues:        v.Issues,
		DecidedAt:     v.DecidedAt,
	})
	if err != nil {
		opLogger.Warn("failed to serialize verdict", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, v.AttemptID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultCacheKey(v.AttemptID), string(serialized), uc.opts.ResultTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verdict", zap.Error(err))
	}
}

func (uc *VerificationUseCase) publishDecision(ctx context.Context, v *Verdict, opLogger *zap.Logger) {
	err := uc.publisher.Publish(ctx, events.DecisionEvent{
		Type:          events.TypeVerificationDecided,
		AttemptID:     v.AttemptID,
		IdentityKey:   v.IdentityKey,
		Success:       v.Success,
		Score:         v.Score,
		Similarity:    v.Similarity,
		DocumentScore: v.DocumentScore,
		IssueCount:    len(v.Issues),
		DecidedAt:     v.DecidedAt,
	})
	if err != nil {
		opLogger.Warn("failed to publish decision event", zap.Error(err))
	}
}

// GetResult retrieves a decided verdict, from cache when possible. Only the
// identity that owns the attempt can read it. Credentials are never returned.
func (uc *VerificationUseCase) GetResult(ctx context.Context, identityKey, attemptID string) (*Verdict, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", attemptID)

	if uc.cache != nil {
		cached, err := uc.withRedisGet(ctx, attemptID, "cache.get.result", resultCacheKey(attemptID))
		if err == nil {
			var payload cachedVerdict
			if err := json.Unmarshal([]byte(cached), &payload); err != nil {
				opLogger.Warn("failed to decode cached result", zap.Error(err))
			} else if payload.IdentityKey == identityKey {
				return verdictFromCache(payload), nil
			}
		} else if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	record, err := uc.repo.FindAttempt(ctx, attemptID, identityKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound(fmt.Sprintf("attempt %q not found", attemptID), err)
		}
		return nil, unavailable("load attempt", err)
	}
	issues, err := record.DecodeIssues()
	if err != nil {
		return nil, internal("decode issues", err)
	}
	return &Verdict{
		AttemptID:     record.AttemptID,
		IdentityKey:   record.IdentityKey,
		Success:       record.Success,
		Score:         record.Score,
		Similarity:    record.Similarity,
		DocumentScore: record.DocumentScore,
		Issues:        issues,
		DecidedAt:     record.DecidedAt,
	}, nil
}

func verdictFromCache(payload cachedVerdict) *Verdict {
	issues := payload.Issues
	if issues == nil {
		issues = []scoring.Issue{}
	}
	return &Verdict{
		AttemptID:     payload.AttemptID,
		IdentityKey:   payload.IdentityKey,
		Success:       payload.Success,
		Score:         payload.Score,
		Similarity:    payload.Similarity,
		DocumentScore: payload.DocumentScore,
		Issues:        issues,
		DecidedAt:     payload.DecidedAt,
	}
}
