// Package classify implements the Deterministic Classifier (C4): applies a
// RulePack to extracted signals to produce a failure category and raw
// confidence. Classification is declared infallible at the type level —
// Classify never returns an error; internal failures produce the ERROR
// sentinel category instead.
package classify

import (
	"sort"

	"github.com/google/uuid"
)

// Category is one of the failure_type values from the GLOSSARY.
type Category string

const (
	CategoryProductDefect      Category = "PRODUCT_DEFECT"
	CategoryAutomationDefect   Category = "AUTOMATION_DEFECT"
	CategoryEnvironmentIssue   Category = "ENVIRONMENT_ISSUE"
	CategoryConfigurationIssue Category = "CONFIGURATION_ISSUE"
	CategoryUnknown            Category = "UNKNOWN"
	CategoryError              Category = "ERROR"
)

// ParseCategory validates a string against the known Category values.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryProductDefect, CategoryAutomationDefect, CategoryEnvironmentIssue,
		CategoryConfigurationIssue, CategoryUnknown, CategoryError:
		return Category(s), true
	default:
		return "", false
	}
}

// MatchableRule is the subset of rules.Rule the classifier needs. Declared
// here (rather than importing the rules package) to keep classify free of a
// dependency on rule-loading/YAML concerns — it only needs to evaluate
// already-loaded rules.
type MatchableRule interface {
	RuleID() string
	RulePriority() int
	RuleConfidence() float64
	RuleFailureType() Category
	RuleMatches(text string) bool
}

// Result is the outcome of Classify: a classification minus
// test_id/framework/timestamp, which the caller (pipeline) already knows.
type Result struct {
	FailureID      uuid.UUID
	Category       Category
	RawConfidence  float64
	MatchedRuleIDs []string
	MatchedRules   []MatchableRule
}

// Classify applies rules (already ordered by priority, tie-broken lexically
// by ID) against text and returns a Result. It never panics: any internal
// inconsistency yields the ERROR sentinel.
func Classify(rules []MatchableRule, text string) (result Result) {
	result = Result{FailureID: uuid.New()}

	defer func() {
		if r := recover(); r != nil {
			result = Result{
				FailureID:     uuid.New(),
				Category:      CategoryError,
				RawConfidence: 0.0,
			}
		}
	}()

	var matched []MatchableRule
	for _, r := range rules {
		if r == nil {
			continue
		}
		if r.RuleMatches(text) {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		result.Category = CategoryUnknown
		result.RawConfidence = 0.2
		return result
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].RuleConfidence() != matched[j].RuleConfidence() {
			return matched[i].RuleConfidence() > matched[j].RuleConfidence()
		}
		if matched[i].RulePriority() != matched[j].RulePriority() {
			return matched[i].RulePriority() < matched[j].RulePriority()
		}
		return matched[i].RuleID() < matched[j].RuleID()
	})

	best := matched[0]
	result.Category = best.RuleFailureType()
	result.RawConfidence = best.RuleConfidence()

	// matched list ordered by contribution — same ordering the
	// explanation builder needs, computed here once so callers don't
	// re-sort.
	contribOrder := make([]MatchableRule, len(matched))
	copy(contribOrder, matched)
	sort.SliceStable(contribOrder, func(i, j int) bool {
		return contribOrder[i].RuleConfidence() > contribOrder[j].RuleConfidence()
	})
	ids := make([]string, len(contribOrder))
	for i, r := range contribOrder {
		ids[i] = r.RuleID()
	}
	result.MatchedRuleIDs = ids
	result.MatchedRules = contribOrder

	return result
}
