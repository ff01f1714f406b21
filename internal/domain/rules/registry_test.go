package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/classify"
)

func newTestRegistry(t *testing.T, rules map[string][]config.RuleDefinition) *Registry {
	t.Helper()
	cfg := &config.Config{}
	cfg.Execution.Intelligence.Rules = rules
	return NewRegistry(cfg, t.TempDir(), nil, []string{"pytest"})
}

func TestRegistry_ClassifyUsesLoadedPack(t *testing.T) {
	reg := newTestRegistry(t, map[string][]config.RuleDefinition{
		"pytest": {{ID: "P1", MatchAny: []string{"boom"}, FailureType: "PRODUCT_DEFECT", Confidence: 0.9}},
	})

	result := reg.Classify("pytest", "something went boom")

	assert.Equal(t, classify.CategoryProductDefect, result.Category)
	assert.Equal(t, []string{"P1"}, result.MatchedRuleIDs)
}

func TestRegistry_ClassifyIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	reg := newTestRegistry(t, map[string][]config.RuleDefinition{
		"pytest": {{ID: "P1", MatchAny: []string{"boom"}, FailureType: "PRODUCT_DEFECT", Confidence: 0.9}},
	})

	first := reg.Classify("pytest", "something went boom")
	second := reg.Classify("pytest", "something went boom") // exercises the match cache hit path

	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.RawConfidence, second.RawConfidence)
	assert.Equal(t, first.MatchedRuleIDs, second.MatchedRuleIDs)
}

func TestRegistry_ReloadSwapsRulesAtomicallyAndPurgesCache(t *testing.T) {
	reg := newTestRegistry(t, map[string][]config.RuleDefinition{
		"pytest": {{ID: "OLD", MatchAny: []string{"boom"}, FailureType: "PRODUCT_DEFECT", Confidence: 0.9}},
	})
	_ = reg.Classify("pytest", "something went boom") // populate the match cache

	reg.cfg.Execution.Intelligence.Rules["pytest"] = []config.RuleDefinition{
		{ID: "NEW", MatchAny: []string{"boom"}, FailureType: "AUTOMATION_DEFECT", Confidence: 0.7},
	}
	reg.Reload([]string{"pytest"})

	result := reg.Classify("pytest", "something went boom")
	assert.Equal(t, classify.CategoryAutomationDefect, result.Category)
	assert.Equal(t, []string{"NEW"}, result.MatchedRuleIDs)
}

func TestRegistry_PackForLazilyLoadsUnknownFramework(t *testing.T) {
	dir := t.TempDir()
	writeRulePack(t, dir, "generic.yaml", "version: \"1.0\"\nrules:\n  - id: GEN_001\n    match_any: [\"boom\"]\n    failure_type: UNKNOWN\n    confidence: 0.3\n")
	cfg := &config.Config{}
	reg := NewRegistry(cfg, dir, nil, []string{"pytest"})

	pack := reg.PackFor("some_new_framework")

	require.Len(t, pack.Rules, 1)
	assert.Equal(t, "GEN_001", pack.Rules[0].ID)
}

func TestRegistry_FrameworksReflectsLoadedSet(t *testing.T) {
	reg := newTestRegistry(t, nil)
	assert.ElementsMatch(t, []string{"pytest"}, reg.Frameworks())
}

// TestRegistry_Reload_ConcurrentClassifyNeverObservesTornState exercises the
// S6 hot-reload-under-load guarantee at the registry layer: a flood of
// concurrent Classify calls racing a single Reload must each see either the
// fully-old or fully-new pack, never a mix, and must never panic or race.
func TestRegistry_Reload_ConcurrentClassifyNeverObservesTornState(t *testing.T) {
	reg := newTestRegistry(t, map[string][]config.RuleDefinition{
		"pytest": {{ID: "OLD", MatchAny: []string{"npe"}, FailureType: "PRODUCT_DEFECT", Confidence: 0.9}},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	seenCategories := map[classify.Category]bool{}

	stop := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				result := reg.Classify("pytest", "NullPointerException: npe")
				mu.Lock()
				seenCategories[result.Category] = true
				mu.Unlock()
			}
		}()
	}

	reg.cfg.Execution.Intelligence.Rules["pytest"] = []config.RuleDefinition{
		{ID: "NEW", MatchAny: []string{"npe"}, FailureType: "AUTOMATION_DEFECT", Confidence: 0.7},
	}
	reg.Reload([]string{"pytest"})
	close(stop)
	wg.Wait()

	result := reg.Classify("pytest", "NullPointerException: npe")
	assert.Equal(t, classify.CategoryAutomationDefect, result.Category, "every Classify call strictly after Reload returns must see the new pack")
	for category := range seenCategories {
		assert.Contains(t, []classify.Category{classify.CategoryProductDefect, classify.CategoryAutomationDefect}, category,
			"every observed classification must be a whole pack's result, never a torn mix")
	}
}
