// Package flaky implements the Flaky/Deterministic Detector (C6):
// maintains per-signature failure history and labels tests FLAKY,
// DETERMINISTIC, or UNKNOWN.
package flaky

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"crossbridge/internal/domain/classify"
	"crossbridge/internal/domain/drift"
)

// Nature is the label FailureHistory carries.
type Nature string

const (
	NatureUnknown       Nature = "UNKNOWN"
	NatureFlaky         Nature = "FLAKY"
	NatureDeterministic Nature = "DETERMINISTIC"
)

// Thresholds configure the labeling algorithm.
type Thresholds struct {
	ConsecutiveThreshold   int
	PassesBetweenThreshold int
	MinOccurrences         int
}

// History is the FailureHistory entity for one FailureSignature.
type History struct {
	Signature           string
	TestID                string
	Occurrences           int
	PassesBetween         int
	ConsecutiveFailures   int
	DistinctErrorVariants map[string]bool
	Nature                Nature
}

// Store upserts History by signature, with an LRU cache in front for hot
// signatures. The LRU is an accelerant only: on a miss the caller-supplied
// loader (typically the Postgres repository) is consulted, and every
// write goes through both the cache and the loader's persist path.
type Store struct {
	mu         sync.Mutex
	thresholds Thresholds
	cache      *lru.Cache[string, *History]
}

// NewStore constructs a Store with a bounded in-memory cache of recent
// signatures; cacheSize 0 disables caching (reads/writes still function,
// just always uncached).
func NewStore(thresholds Thresholds, cacheSize int) *Store {
	var cache *lru.Cache[string, *History]
	if cacheSize > 0 {
		cache, _ = lru.New[string, *History](cacheSize)
	}
	return &Store{thresholds: thresholds, cache: cache}
}

var (
	digitsPattern = regexp.MustCompile(`\d+`)
	uuidPattern   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeErrorMessage lowercases, strips digits and UUIDs, and collapses
// whitespace so near-identical error messages hash to the same signature.
func NormalizeErrorMessage(msg string) string {
	s := strings.ToLower(msg)
	s = uuidPattern.ReplaceAllString(s, "")
	s = digitsPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Signature computes the stable FailureSignature hash of (test_id,
// category, normalized_error_message).
func Signature(testID string, category classify.Category, errorMessage string) string {
	h := sha1.New()
	h.Write([]byte(testID))
	h.Write([]byte{0})
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeErrorMessage(errorMessage)))
	return hex.EncodeToString(h.Sum(nil))
}

// Loader is the persistence hook Store calls on a cache miss.
type Loader interface {
	Load(signature string) (*History, bool)
	Save(h *History)
}

// Observe records one classified failure (or the passing run that resets
// consecutive_failures) and returns the updated History plus any
// DriftSignal the transition warrants.
//
// previousStatusFailed tells Observe whether the prior run of this test_id
// failed (to decide whether to bump consecutive_failures or reset it);
// the caller tracks this, since Store only keys by signature, not test_id
// run history.
func (s *Store) Observe(loader Loader, testID string, category classify.Category, errorMessage string, previousStatusFailed bool) (*History, *drift.Signal) {
	sig := Signature(testID, category, errorMessage)

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.get(loader, sig)
	if h == nil {
		h = &History{
			Signature:             sig,
			TestID:                testID,
			DistinctErrorVariants: map[string]bool{},
			Nature:                NatureUnknown,
		}
	}

	h.Occurrences++
	h.DistinctErrorVariants[NormalizeErrorMessage(errorMessage)] = true
	if !previousStatusFailed {
		h.PassesBetween++
		h.ConsecutiveFailures = 1
	} else {
		h.ConsecutiveFailures++
	}

	previousNature := h.Nature
	h.Nature = s.label(h, category)

	s.put(loader, h)

	signal := transitionSignal(testID, previousNature, h.Nature)
	return h, signal
}

func (s *Store) label(h *History, category classify.Category) Nature {
	if h.ConsecutiveFailures >= s.thresholds.ConsecutiveThreshold &&
		(category == classify.CategoryProductDefect || category == classify.CategoryAutomationDefect) {
		return NatureDeterministic
	}
	if (h.PassesBetween >= s.thresholds.PassesBetweenThreshold && h.Occurrences >= s.thresholds.MinOccurrences) ||
		len(h.DistinctErrorVariants) >= 2 {
		return NatureFlaky
	}
	return NatureUnknown
}

func transitionSignal(testID string, from, to Nature) *drift.Signal {
	if from == to {
		return nil
	}
	switch to {
	case NatureFlaky:
		return &drift.Signal{Type: drift.SignalFlaky, TargetID: testID, Severity: drift.SeverityHigh}
	case NatureDeterministic:
		return &drift.Signal{Type: drift.SignalFlaky, TargetID: testID, Severity: drift.SeverityCritical}
	default:
		return nil
	}
}

func (s *Store) get(loader Loader, sig string) *History {
	if s.cache != nil {
		if h, ok := s.cache.Get(sig); ok {
			return h
		}
	}
	if loader != nil {
		if h, ok := loader.Load(sig); ok {
			if s.cache != nil {
				s.cache.Add(sig, h)
			}
			return h
		}
	}
	return nil
}

func (s *Store) put(loader Loader, h *History) {
	if s.cache != nil {
		s.cache.Add(h.Signature, h)
	}
	if loader != nil {
		loader.Save(h)
	}
}
