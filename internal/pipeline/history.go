package pipeline

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// statusTracker remembers whether the previous run of a test_id failed, the
// input flaky.Store.Observe needs to decide whether to bump or reset
// consecutive_failures. Bounded by an LRU since the set of distinct
// test_ids is unbounded over the service's lifetime.
type statusTracker struct {
	cache *lru.Cache[string, bool]
}

func newStatusTracker(size int) *statusTracker {
	if size <= 0 {
		size = 10_000
	}
	c, _ := lru.New[string, bool](size)
	return &statusTracker{cache: c}
}

// PreviousFailed reports whether the last observed run of testID failed,
// defaulting to false (treated as "previously passing") for a test seen for
// the first time.
func (t *statusTracker) PreviousFailed(testID string) bool {
	v, _ := t.cache.Get(testID)
	return v
}

func (t *statusTracker) Record(testID string, failed bool) {
	t.cache.Add(testID, failed)
}

// runTracker accumulates, per run_id, how many sibling tests have failed
// with each failure signature so far — the input to the
// cross_test_correlation signal quality score (spec §4.5). Bounded by an
// LRU keyed on run_id so long-lived processes don't retain every run ever
// seen.
type runTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *runCounts]
}

type runCounts struct {
	totalFailed      int
	bySignature      map[string]int
	failedTestIDs    map[string][]string // signature -> test_ids that failed with it
}

func newRunTracker(size int) *runTracker {
	if size <= 0 {
		size = 1_000
	}
	c, _ := lru.New[string, *runCounts](size)
	return &runTracker{cache: c}
}

// Observe records one failure for (runID, signature, testID) and returns
// the sibling totals needed for cross_test_correlation: how many tests in
// this run have failed so far, and how many of those share this signature
// (both counts include this failure).
func (rt *runTracker) Observe(runID, signature, testID string) (siblingTotal, siblingMatching int, relatedTestIDs []string) {
	if runID == "" {
		return 0, 0, nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rc, ok := rt.cache.Get(runID)
	if !ok {
		rc = &runCounts{bySignature: map[string]int{}, failedTestIDs: map[string][]string{}}
	}

	rc.totalFailed++
	rc.bySignature[signature]++
	ids := rc.failedTestIDs[signature]
	if !containsString(ids, testID) {
		ids = append(ids, testID)
	}
	rc.failedTestIDs[signature] = ids

	rt.cache.Add(runID, rc)

	related := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != testID {
			related = append(related, id)
		}
	}
	return rc.totalFailed, rc.bySignature[signature], related
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// similarFailureTracker remembers the last few failure_ids observed per
// signature, for the explanation's "similar failure ids" evidence field.
type similarFailureTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []string]
}

func newSimilarFailureTracker(size int) *similarFailureTracker {
	if size <= 0 {
		size = 10_000
	}
	c, _ := lru.New[string, []string](size)
	return &similarFailureTracker{cache: c}
}

const maxSimilarFailures = 10

func (s *similarFailureTracker) Record(signature, failureID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, _ := s.cache.Get(signature)
	prior := make([]string, len(ids))
	copy(prior, ids)

	ids = append(ids, failureID)
	if len(ids) > maxSimilarFailures {
		ids = ids[len(ids)-maxSimilarFailures:]
	}
	s.cache.Add(signature, ids)

	return prior
}

// normalizeRunID guards against empty-string map keys colliding across
// unrelated single-event "runs".
func normalizeRunID(runID, testID string) string {
	if strings.TrimSpace(runID) == "" {
		return "solo:" + testID
	}
	return runID
}
