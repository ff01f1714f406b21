package rules

import (
	"crypto/sha1"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/classify"
)

// Registry holds one Pack per framework behind an atomically-swapped
// pointer, so Reload is torn-state-free: readers always observe either
// the old pack or the new one, never a mix of both.
type Registry struct {
	cfg      *config.Config
	rulesDir string
	logger   Logger
	packs    atomic.Pointer[map[string]*Pack]

	// matchCache bounds memory for the common case of many distinct log
	// texts matched against the same rule set; it is a pure performance
	// accelerant and never changes classification outcomes (Reload purges
	// it, and the cache key also includes the pack version).
	matchCache *lru.Cache[string, bool]
}

// NewRegistry constructs a Registry with every framework in the known set
// pre-loaded. Frameworks not listed here are loaded lazily on first use via
// LoadPack's fallback chain (generic.yaml always answers for unknowns).
func NewRegistry(cfg *config.Config, rulesDir string, logger Logger, frameworks []string) *Registry {
	cache, _ := lru.New[string, bool](4096)
	reg := &Registry{cfg: cfg, rulesDir: rulesDir, logger: logger, matchCache: cache}
	reg.Reload(frameworks)
	return reg
}

// Reload atomically replaces the entire registry contents with freshly
// loaded packs for the given frameworks. Readers mid-flight keep using
// the pointer they already captured.
func (reg *Registry) Reload(frameworks []string) {
	next := make(map[string]*Pack, len(frameworks))
	for _, fw := range frameworks {
		next[fw] = LoadPack(reg.cfg, reg.rulesDir, fw, reg.logger)
	}
	reg.packs.Store(&next)
	if reg.matchCache != nil {
		reg.matchCache.Purge()
	}
}

// PackFor returns the RulePack for framework, loading it on demand if it was
// not part of the set passed to NewRegistry/Reload. An on-demand pack is not
// stored, so each such call loads it again.
func (reg *Registry) PackFor(framework string) *Pack {
	packs := reg.packs.Load()
	if packs != nil {
		if pack, ok := (*packs)[framework]; ok {
			return pack
		}
	}
	return LoadPack(reg.cfg, reg.rulesDir, framework, reg.logger)
}

// Classify evaluates the given framework's current rule pack against text,
// using the per-rule match LRU cache to avoid re-scanning identical log
// text. Classification is a pure function of (text, RulePack), so caching
// by (pack version, rule id, text) is always safe to serve from cache.
func (reg *Registry) Classify(framework, text string) classify.Result {
	pack := reg.PackFor(framework)
	matchable := make([]classify.MatchableRule, len(pack.Rules))
	for i := range pack.Rules {
		matchable[i] = &cachedRule{reg: reg, rule: &pack.Rules[i], packVersion: pack.Version}
	}
	return classify.Classify(matchable, text)
}

// cachedRule adapts a *Rule to classify.MatchableRule, routing RuleMatches
// through the registry's bounded LRU cache.
type cachedRule struct {
	reg         *Registry
	rule        *Rule
	packVersion string
}

func (c *cachedRule) RuleID() string                     { return c.rule.ID }
func (c *cachedRule) RulePriority() int                  { return c.rule.Priority }
func (c *cachedRule) RuleConfidence() float64            { return c.rule.Confidence }
func (c *cachedRule) RuleFailureType() classify.Category { return c.rule.FailureType }

func (c *cachedRule) RuleMatches(text string) bool {
	if c.reg.matchCache == nil {
		return c.rule.Matches(text)
	}
	key := cacheKey(c.packVersion, c.rule.ID, text)
	if v, ok := c.reg.matchCache.Get(key); ok {
		return v
	}
	matched := c.rule.Matches(text)
	c.reg.matchCache.Add(key, matched)
	return matched
}

func cacheKey(packVersion, ruleID, text string) string {
	h := sha1.New()
	h.Write([]byte(packVersion))
	h.Write([]byte{0})
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Frameworks returns the set of frameworks currently loaded.
func (reg *Registry) Frameworks() []string {
	packs := reg.packs.Load()
	if packs == nil {
		return nil
	}
	out := make([]string, 0, len(*packs))
	for fw := range *packs {
		out = append(out, fw)
	}
	return out
}
