package explain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbridge/internal/domain/classify"
	"crossbridge/internal/domain/signals"
)

type influenceRule struct {
	id         string
	confidence float64
	failure    classify.Category
}

func (r influenceRule) RuleID() string                     { return r.id }
func (r influenceRule) RulePriority() int                  { return 0 }
func (r influenceRule) RuleConfidence() float64             { return r.confidence }
func (r influenceRule) RuleFailureType() classify.Category { return r.failure }
func (r influenceRule) RuleMatches(string) bool             { return true }

func TestBuild_ContributionsNormalizeToAtMostOne(t *testing.T) {
	matched := []classify.MatchableRule{
		influenceRule{id: "A", confidence: 0.6, failure: classify.CategoryProductDefect},
		influenceRule{id: "B", confidence: 0.3, failure: classify.CategoryProductDefect},
	}
	result := classify.Result{
		FailureID:      uuid.New(),
		Category:       classify.CategoryProductDefect,
		RawConfidence:  0.6,
		MatchedRuleIDs: []string{"A", "B"},
		MatchedRules:   matched,
	}

	exp := Build(result, nil, "AssertionError: expected 1 got 2", "", nil, matched, map[string]string{"A": "desc a", "B": "desc b"}, HistoricalContext{})

	sum := 0.0
	for _, ri := range exp.RuleInfluences {
		if ri.Matched {
			sum += ri.Contribution
		}
	}
	assert.InDelta(t, 1.0, sum, 0.0001)
}

func TestBuild_UnmatchedRulesSurfacedWithZeroContribution(t *testing.T) {
	matched := []classify.MatchableRule{influenceRule{id: "A", confidence: 0.9, failure: classify.CategoryProductDefect}}
	allRules := []classify.MatchableRule{
		matched[0],
		influenceRule{id: "B", confidence: 0.5, failure: classify.CategoryAutomationDefect},
	}
	result := classify.Result{FailureID: uuid.New(), Category: classify.CategoryProductDefect, MatchedRuleIDs: []string{"A"}, MatchedRules: matched}

	exp := Build(result, nil, "boom", "", nil, allRules, nil, HistoricalContext{})

	require.Len(t, exp.RuleInfluences, 2)
	var unmatched *RuleInfluence
	for i := range exp.RuleInfluences {
		if exp.RuleInfluences[i].RuleID == "B" {
			unmatched = &exp.RuleInfluences[i]
		}
	}
	require.NotNil(t, unmatched)
	assert.False(t, unmatched.Matched)
	assert.Equal(t, 0.0, unmatched.Contribution)
}

func TestBuild_FinalConfidenceBoundedToZeroOne(t *testing.T) {
	matched := []classify.MatchableRule{influenceRule{id: "A", confidence: 1.0, failure: classify.CategoryProductDefect}}
	result := classify.Result{FailureID: uuid.New(), Category: classify.CategoryProductDefect, MatchedRuleIDs: []string{"A"}, MatchedRules: matched}

	sigs := []signals.Signal{{SignalType: signals.TypeAssertion, Confidence: 1.0, Evidence: "boom"}}
	exp := Build(result, sigs, "boom", "frame1\nframe2\nframe3", nil, matched, map[string]string{"A": "desc"},
		HistoricalContext{Occurrences: 100, RetriesTotal: 2, RetriesReproduced: 2, SiblingTestsTotal: 4, SiblingTestsMatching: 4})

	assert.GreaterOrEqual(t, exp.FinalConfidence, 0.0)
	assert.LessOrEqual(t, exp.FinalConfidence, 1.0)
}

func TestBuild_IsDeterministicForIdenticalInputs(t *testing.T) {
	matched := []classify.MatchableRule{
		influenceRule{id: "Z", confidence: 0.5, failure: classify.CategoryProductDefect},
		influenceRule{id: "A", confidence: 0.5, failure: classify.CategoryProductDefect},
	}
	result := classify.Result{FailureID: uuid.New(), Category: classify.CategoryProductDefect, MatchedRuleIDs: []string{"Z", "A"}, MatchedRules: matched}
	descriptions := map[string]string{"Z": "z rule", "A": "a rule"}

	exp1 := Build(result, nil, "boom", "", nil, matched, descriptions, HistoricalContext{})
	exp2 := Build(result, nil, "boom", "", nil, matched, descriptions, HistoricalContext{})

	assert.Equal(t, exp1.RuleInfluences, exp2.RuleInfluences)
}

func TestEvidenceContext_CapturesOnlyRecentErrorOrWarnLines(t *testing.T) {
	lines := []string{"INFO starting test", "DEBUG step 1", "ERROR boom happened", "INFO cleanup"}
	ctx := evidenceContext("", "", lines, HistoricalContext{})

	require.Len(t, ctx.RecentLogLines, 1)
	assert.Contains(t, ctx.RecentLogLines[0], "ERROR")
}

func TestStripNoise_RemovesTimestampsHexAndUUIDs(t *testing.T) {
	msg := "2024-01-02T03:04:05Z error at 0xdeadbeef for 123e4567-e89b-12d3-a456-426614174000"
	out := stripNoise(msg)

	assert.NotContains(t, out, "2024-01-02")
	assert.NotContains(t, out, "0xdeadbeef")
	assert.NotContains(t, out, "123e4567")
}

func TestHumanSentence_FallsBackWhenDescriptionMissing(t *testing.T) {
	r := influenceRule{id: "UNKNOWN_RULE", confidence: 0.5, failure: classify.CategoryUnknown}
	sentence := humanSentence(r, "", "evidence text")
	assert.Contains(t, sentence, "UNKNOWN_RULE")
}
