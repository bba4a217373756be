// Package scoring corroborates claimed profile fields against text and fields
// extracted from supporting documents and turns the outcome into a trust score.
package scoring

import (
	"strings"

	"github.com/example/idassure/internal/fuzzy"
)

const (
	// MaxScore is the score of evidence that corroborates every claim.
	MaxScore = 100.0

	// DefaultMismatchPenalty is subtracted for every claim that cannot be corroborated.
	DefaultMismatchPenalty = 40.0

	// DefaultFuzzyCutoff is the minimum fuzzy ratio accepted as a match.
	DefaultFuzzyCutoff = 0.6

	// DetailNotFound explains an uncorroborated claim.
	DetailNotFound = "not found or low similarity"
)

// Claim is a single attribute asserted by the user.
type Claim struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Evidence is the corpus extracted from supporting documents. Fields holds
// structured key/value pairs when the extractor could recover them.
type Evidence struct {
	Text   string
	Fields map[string]string
}

// Issue records a claim that could not be corroborated.
type Issue struct {
	Field      string  `json:"field"`
	Matched    bool    `json:"matched"`
	Detail     string  `json:"detail"`
	Penalty    float64 `json:"penalty"`
	Similarity float64 `json:"similarity"`
}

// Result is the aggregate outcome for a set of claims.
type Result struct {
	Score  float64 `json:"score"`
	Issues []Issue `json:"issues"`
}

// Policy holds the tunable knobs trading precision against recall.
type Policy struct {
	MismatchPenalty float64
	FuzzyCutoff     float64
}

// DefaultPolicy returns the stock penalty and cutoff.
func DefaultPolicy() Policy {
	return Policy{MismatchPenalty: DefaultMismatchPenalty, FuzzyCutoff: DefaultFuzzyCutoff}
}

// Scorer evaluates claims under a fixed policy. The zero value is not usable;
// build one with NewScorer.
type Scorer struct {
	policy Policy
}

// NewScorer builds a Scorer. Negative penalties are clamped to zero and the
// cutoff to [0,1].
func NewScorer(policy Policy) *Scorer {
	if policy.MismatchPenalty < 0 {
		policy.MismatchPenalty = 0
	}
	policy.FuzzyCutoff = clamp(policy.FuzzyCutoff, 0, 1)
	return &Scorer{policy: policy}
}

// Policy returns the policy in force.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score checks every claim against ev. Claims with a blank value are not
// evaluated. Issues follow claim order; the score is floored at zero.
func (s *Scorer) Score(claims []Claim, ev Evidence) Result {
	corpus := strings.ToLower(ev.Text)
	fields := foldFields(ev.Fields)

	result := Result{Score: MaxScore, Issues: []Issue{}}
	for _, claim := range claims {
		value := strings.ToLower(strings.TrimSpace(claim.Value))
		if value == "" {
			continue
		}

		matched, best := s.match(strings.ToLower(strings.TrimSpace(claim.Field)), value, corpus, fields)
		if matched {
			continue
		}
		result.Score -= s.policy.MismatchPenalty
		result.Issues = append(result.Issues, Issue{
			Field:      claim.Field,
			Matched:    false,
			Detail:     DetailNotFound,
			Penalty:    s.policy.MismatchPenalty,
			Similarity: best,
		})
	}
	result.Score = clamp(result.Score, 0, MaxScore)
	return result
}

func (s *Scorer) match(field, value, corpus string, fields map[string]string) (bool, float64) {
	best := 0.0
	if extracted, ok := fields[field]; ok {
		if strings.Contains(extracted, value) {
			return true, 1
		}
		best = fuzzy.Ratio(value, extracted)
		if best >= s.policy.FuzzyCutoff {
			return true, best
		}
	}

	if strings.Contains(corpus, value) {
		return true, 1
	}
	if ratio := fuzzy.Ratio(value, corpus); ratio > best {
		best = ratio
	}
	return best >= s.policy.FuzzyCutoff, best
}

func foldFields(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
