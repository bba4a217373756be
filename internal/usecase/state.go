package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/idassure/internal/scoring"
	"github.com/example/idassure/internal/similarity"
)

// State is the lifecycle position of an attempt.
type State int

const (
	StateCreated State = iota
	StateEvidenceGathered
	StateScored
	StateDecided
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateEvidenceGathered:
		return "evidence_gathered"
	case StateScored:
		return "scored"
	case StateDecided:
		return "decided"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrAttemptDecided is returned when a decided attempt is asked to change.
	ErrAttemptDecided = errors.New("attempt already decided")
	// ErrInvalidTransition is returned for out-of-order transitions.
	ErrInvalidTransition = errors.New("invalid attempt state transition")
)

// Path names used in logs, metrics and verdicts.
const (
	PathBiometric = "biometric"
	PathDocument  = "document"
)

type biometricEvidence struct {
	matches       []similarity.Match
	maxSimilarity float64
	latency       time.Duration
	err           error
}

type documentEvidence struct {
	evidence scoring.Evidence
	result   scoring.Result
	failed   int
	latency  time.Duration
	err      error
}

// Attempt carries one verification through Created → EvidenceGathered →
// Scored → Decided. It is owned by a single request and never shared.
type Attempt struct {
	ID            string
	IdentityKey   string
	ProbeImageKey string
	DocumentKeys  []string
	CreatedAt     time.Time

	state     State
	biometric *biometricEvidence
	document  *documentEvidence
	verdict   *Verdict
}

func newAttempt(id, identityKey string, now time.Time) *Attempt {
	return &Attempt{ID: id, IdentityKey: identityKey, CreatedAt: now, state: StateCreated}
}

// State returns the current state.
func (a *Attempt) State() State {
	return a.state
}

func (a *Attempt) advance(to State) error {
	if a.state == StateDecided {
		return ErrAttemptDecided
	}
	if to != a.state+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, to)
	}
	a.state = to
	return nil
}

// decide attaches the verdict and moves to the terminal state.
func (a *Attempt) decide(v *Verdict) error {
	if err := a.advance(StateDecided); err != nil {
		return err
	}
	a.verdict = v
	return nil
}

// allPathsFailed reports whether every requested path failed.
func (a *Attempt) allPathsFailed() bool {
	requested := 0
	failed := 0
	if a.biometric != nil {
		requested++
		if a.biometric.err != nil {
			failed++
		}
	}
	if a.document != nil {
		requested++
		if a.document.err != nil {
			failed++
		}
	}
	return requested > 0 && failed == requested
}

func (a *Attempt) pathErrors() error {
	var errs []error
	if a.biometric != nil && a.biometric.err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", PathBiometric, a.biometric.err))
	}
	if a.document != nil && a.document.err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", PathDocument, a.document.err))
	}
	return errors.Join(errs...)
}

func (a *Attempt) paths() string {
	switch {
	case a.biometric != nil && a.document != nil:
		return PathBiometric + "+" + PathDocument
	case a.biometric != nil:
		return PathBiometric
	case a.document != nil:
		return PathDocument
	default:
		return "none"
	}
}

func (a *Attempt) degradedPaths() []string {
	var out []string
	if a.biometric != nil && a.biometric.err != nil {
		out = append(out, PathBiometric)
	}
	if a.document != nil && a.document.err != nil {
		out = append(out, PathDocument)
	}
	return out
}
