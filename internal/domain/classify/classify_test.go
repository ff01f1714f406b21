package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRule struct {
	id         string
	priority   int
	confidence float64
	failure    Category
	substrings []string
}

func (r fakeRule) RuleID() string               { return r.id }
func (r fakeRule) RulePriority() int             { return r.priority }
func (r fakeRule) RuleConfidence() float64       { return r.confidence }
func (r fakeRule) RuleFailureType() Category     { return r.failure }
func (r fakeRule) RuleMatches(text string) bool {
	lower := strings.ToLower(text)
	for _, s := range r.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func asMatchable(rules ...fakeRule) []MatchableRule {
	out := make([]MatchableRule, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	return out
}

func TestClassify_NoMatchReturnsUnknownSentinel(t *testing.T) {
	rules := asMatchable(fakeRule{id: "A", confidence: 0.9, failure: CategoryProductDefect, substrings: []string{"timeout"}})

	result := Classify(rules, "everything passed fine")

	assert.Equal(t, CategoryUnknown, result.Category)
	assert.Equal(t, 0.2, result.RawConfidence)
	assert.Empty(t, result.MatchedRuleIDs)
	assert.NotEqual(t, result.FailureID.String(), "")
}

func TestClassify_PicksHighestConfidenceOverPriority(t *testing.T) {
	low := fakeRule{id: "LOW", confidence: 0.5, priority: 1, failure: CategoryAutomationDefect, substrings: []string{"error"}}
	high := fakeRule{id: "HIGH", confidence: 0.9, priority: 10, failure: CategoryProductDefect, substrings: []string{"error"}}

	result := Classify(asMatchable(low, high), "some error occurred")

	assert.Equal(t, CategoryProductDefect, result.Category)
	assert.Equal(t, 0.9, result.RawConfidence)
	require.Len(t, result.MatchedRuleIDs, 2)
	assert.Equal(t, "HIGH", result.MatchedRuleIDs[0])
}

func TestClassify_TieBreaksByPriorityThenLexicalID(t *testing.T) {
	a := fakeRule{id: "B_RULE", confidence: 0.8, priority: 5, failure: CategoryProductDefect, substrings: []string{"fail"}}
	b := fakeRule{id: "A_RULE", confidence: 0.8, priority: 5, failure: CategoryAutomationDefect, substrings: []string{"fail"}}

	result := Classify(asMatchable(a, b), "test fail")

	// Same confidence and priority: lexically smaller ID wins.
	assert.Equal(t, CategoryAutomationDefect, result.Category)
}

func TestClassify_PriorityBreaksConfidenceTie(t *testing.T) {
	highPriorityNumber := fakeRule{id: "X", confidence: 0.8, priority: 50, failure: CategoryConfigurationIssue, substrings: []string{"boom"}}
	lowPriorityNumber := fakeRule{id: "Y", confidence: 0.8, priority: 5, failure: CategoryEnvironmentIssue, substrings: []string{"boom"}}

	result := Classify(asMatchable(highPriorityNumber, lowPriorityNumber), "boom")

	// Lower numeric priority wins the tie-break.
	assert.Equal(t, CategoryEnvironmentIssue, result.Category)
}

func TestClassify_NeverPanicsOnNilRule(t *testing.T) {
	rules := []MatchableRule{nil, fakeRule{id: "OK", confidence: 0.6, failure: CategoryUnknown, substrings: []string{"x"}}}

	assert.NotPanics(t, func() {
		Classify(rules, "x marks the spot")
	})
}

type panickyRule struct{ fakeRule }

func (p panickyRule) RuleMatches(string) bool { panic("boom") }

func TestClassify_RecoversFromPanicWithErrorSentinel(t *testing.T) {
	rules := []MatchableRule{panickyRule{fakeRule{id: "P", confidence: 0.7}}}

	result := Classify(rules, "anything")

	assert.Equal(t, CategoryError, result.Category)
	assert.Equal(t, 0.0, result.RawConfidence)
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"PRODUCT_DEFECT", true},
		{"AUTOMATION_DEFECT", true},
		{"ENVIRONMENT_ISSUE", true},
		{"CONFIGURATION_ISSUE", true},
		{"UNKNOWN", true},
		{"ERROR", true},
		{"NOT_A_CATEGORY", false},
	}
	for _, tc := range cases {
		_, ok := ParseCategory(tc.in)
		assert.Equal(t, tc.valid, ok, tc.in)
	}
}
