package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreCaseInsensitiveSubstring(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	result := scorer.Score(
		[]Claim{{Field: "name", Value: "Alice Smith"}},
		Evidence{Text: "... alice smith is a graduate ..."},
	)

	assert.Equal(t, 100.0, result.Score)
	assert.Empty(t, result.Issues)
}

func TestScoreUnrelatedTextPenalizes(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	result := scorer.Score(
		[]Claim{{Field: "name", Value: "Alice Smith"}},
		Evidence{Text: "completely unrelated text"},
	)

	assert.Equal(t, 60.0, result.Score)
	require.Len(t, result.Issues, 1)
	issue := result.Issues[0]
	assert.Equal(t, "name", issue.Field)
	assert.False(t, issue.Matched)
	assert.Equal(t, DetailNotFound, issue.Detail)
	assert.Equal(t, DefaultMismatchPenalty, issue.Penalty)
	assert.Less(t, issue.Similarity, DefaultFuzzyCutoff)
}

func TestScoreFuzzyMatchWithinCutoff(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	result := scorer.Score([]Claim{{Field: "name", Value: "Alice Smith"}}, Evidence{Text: "Alice Smyth"})

	assert.Equal(t, 100.0, result.Score)
	assert.Empty(t, result.Issues)
}

func TestScoreMonotonicAndBounded(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())
	ev := Evidence{Text: "transcript of records for bob jones"}

	claims := []Claim{
		{Field: "name", Value: "bob jones"},
		{Field: "university", Value: "zyxwvut"},
		{Field: "gpa", Value: "9.99 out of 10"},
		{Field: "degree", Value: "quantum basket weaving"},
		{Field: "city", Value: "qqqqqqqqqqqq"},
	}

	prev := MaxScore + 1
	for n := 0; n <= len(claims); n++ {
		result := scorer.Score(claims[:n], ev)
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, MaxScore)
		assert.LessOrEqual(t, result.Score, prev, "score must not increase with more unmatched claims")
		prev = result.Score
	}

	final := scorer.Score(claims, ev)
	assert.Equal(t, 0.0, final.Score, "penalties floor at zero")
	require.Len(t, final.Issues, 4)
	assert.Equal(t, []string{"university", "gpa", "degree", "city"}, issueFields(final.Issues), "issues keep claim order")
}

func TestScoreSkipsBlankClaims(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	result := scorer.Score([]Claim{{Field: "name", Value: "   "}}, Evidence{Text: "anything"})

	assert.Equal(t, MaxScore, result.Score)
	assert.Empty(t, result.Issues)
}

func TestScoreUsesStructuredFields(t *testing.T) {
	scorer := NewScorer(DefaultPolicy())

	result := scorer.Score(
		[]Claim{{Field: "GPA", Value: "3.8"}},
		Evidence{Text: "", Fields: map[string]string{"gpa": "3.8 / 4.0"}},
	)

	assert.Equal(t, MaxScore, result.Score)
	assert.Empty(t, result.Issues)
}

func TestScoreHonoursCustomPolicy(t *testing.T) {
	scorer := NewScorer(Policy{MismatchPenalty: 25, FuzzyCutoff: 1})

	result := scorer.Score([]Claim{{Field: "name", Value: "Alice Smith"}}, Evidence{Text: "Alice Smyth"})

	assert.Equal(t, 75.0, result.Score)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, 25.0, result.Issues[0].Penalty)
}

func TestNewScorerClampsPolicy(t *testing.T) {
	scorer := NewScorer(Policy{MismatchPenalty: -5, FuzzyCutoff: 3})

	assert.Equal(t, Policy{MismatchPenalty: 0, FuzzyCutoff: 1}, scorer.Policy())
}

func issueFields(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Field)
	}
	return out
}
