// Package rules implements the Rule Pack Registry (C2): loading
// classification rules from the unified config with priority fallback, and
// hot reload via atomic pointer swap so readers never observe a torn state.
package rules

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"crossbridge/internal/config"
	"crossbridge/internal/domain/classify"
)

// Rule is a single classification rule within a pack.
type Rule struct {
	ID          string
	Description string
	MatchAny    []string
	RequiresAll []string
	Excludes    []string
	FailureType classify.Category
	Confidence  float64
	Priority    int
}

// Pack is a RulePack: an ordered, framework-scoped set of rules.
type Pack struct {
	Framework string
	Version   string
	Rules     []Rule
}

// ruleFile is the on-disk/inline shape parsed from YAML or config.
type ruleFile struct {
	ID          string   `yaml:"id" mapstructure:"id"`
	Description string   `yaml:"description" mapstructure:"description"`
	MatchAny    []string `yaml:"match_any" mapstructure:"match_any"`
	RequiresAll []string `yaml:"requires_all" mapstructure:"requires_all"`
	Excludes    []string `yaml:"excludes" mapstructure:"excludes"`
	FailureType string   `yaml:"failure_type" mapstructure:"failure_type"`
	Confidence  float64  `yaml:"confidence" mapstructure:"confidence"`
	Priority    int      `yaml:"priority" mapstructure:"priority"`
}

type rulePackFile struct {
	Version string     `yaml:"version"`
	Rules   []ruleFile `yaml:"rules"`
}

// Logger is the minimal interface the registry needs for non-fatal
// rule-parse warnings: a bad individual rule is dropped with a warning,
// never treated as fatal.
type Logger interface {
	Warn(msg string, args ...any)
}

// LoadPack resolves a RulePack for framework by trying, in order: (1) the
// unified config's execution.intelligence.rules.<framework>,
// (2) rules/<framework>.yaml, (3) rules/generic.yaml. A missing file at all
// three levels returns an empty pack; it never fails the service.
func LoadPack(cfg *config.Config, rulesDir, framework string, logger Logger) *Pack {
	if defs, ok := cfg.Execution.Intelligence.Rules[framework]; ok && len(defs) > 0 {
		rules := make([]ruleFile, 0, len(defs))
		for _, d := range defs {
			rules = append(rules, ruleFile{
				ID:          d.ID,
				Description: d.Description,
				MatchAny:    d.MatchAny,
				RequiresAll: d.RequiresAll,
				Excludes:    d.Excludes,
				FailureType: d.FailureType,
				Confidence:  d.Confidence,
				Priority:    d.Priority,
			})
		}
		return buildPack(framework, "inline", rules, logger)
	}

	if pack, ok := loadFromFile(rulesDir+"/"+framework+".yaml", framework, logger); ok {
		return pack
	}

	if pack, ok := loadFromFile(rulesDir+"/generic.yaml", framework, logger); ok {
		return pack
	}

	return &Pack{Framework: framework, Version: "empty", Rules: nil}
}

func loadFromFile(path, framework string, logger Logger) (*Pack, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var parsed rulePackFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		if logger != nil {
			logger.Warn("failed to parse rule pack file", "path", path, "error", err)
		}
		return nil, false
	}
	pack := buildPack(framework, parsed.Version, parsed.Rules, logger)
	return pack, true
}

func buildPack(framework, version string, raw []ruleFile, logger Logger) *Pack {
	seen := map[string]bool{}
	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" {
			if logger != nil {
				logger.Warn("skipping rule with empty id", "framework", framework)
			}
			continue
		}
		if seen[r.ID] {
			if logger != nil {
				logger.Warn("skipping duplicate rule id", "id", r.ID, "framework", framework)
			}
			continue
		}
		category, ok := classify.ParseCategory(r.FailureType)
		if !ok {
			if logger != nil {
				logger.Warn("skipping rule with unknown failure_type", "id", r.ID, "failure_type", r.FailureType)
			}
			continue
		}
		if len(r.MatchAny) == 0 {
			if logger != nil {
				logger.Warn("skipping rule with empty match_any", "id", r.ID)
			}
			continue
		}
		seen[r.ID] = true
		rules = append(rules, Rule{
			ID:          r.ID,
			Description: r.Description,
			MatchAny:    r.MatchAny,
			RequiresAll: r.RequiresAll,
			Excludes:    r.Excludes,
			FailureType: category,
			Confidence:  r.Confidence,
			Priority:    r.Priority,
		})
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})

	if version == "" {
		version = "unversioned"
	}
	return &Pack{Framework: framework, Version: version, Rules: rules}
}

// RuleID, RulePriority, RuleConfidence, RuleFailureType, and RuleMatches
// implement classify.MatchableRule so the classifier can evaluate a Pack's
// rules without importing the YAML-loading concerns of this package.
func (r *Rule) RuleID() string                      { return r.ID }
func (r *Rule) RulePriority() int                   { return r.Priority }
func (r *Rule) RuleConfidence() float64             { return r.Confidence }
func (r *Rule) RuleFailureType() classify.Category  { return r.FailureType }
func (r *Rule) RuleMatches(text string) bool        { return r.Matches(text) }

// AsMatchable returns the pack's rules as classify.MatchableRule values, in
// priority order, for Classify.
func (p *Pack) AsMatchable() []classify.MatchableRule {
	out := make([]classify.MatchableRule, len(p.Rules))
	for i := range p.Rules {
		out[i] = &p.Rules[i]
	}
	return out
}

// Descriptions returns a rule ID -> description map for templating the
// explanation builder's human sentences.
func (p *Pack) Descriptions() map[string]string {
	out := make(map[string]string, len(p.Rules))
	for _, r := range p.Rules {
		out[r.ID] = r.Description
	}
	return out
}

// Matches reports whether r matches the given text:
// any(match_any) AND (no requires_all OR all(requires_all)) AND not any(excludes).
func (r *Rule) Matches(text string) bool {
	lower := strings.ToLower(text)

	matched := false
	for _, p := range r.MatchAny {
		if strings.Contains(lower, strings.ToLower(p)) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, p := range r.RequiresAll {
		if !strings.Contains(lower, strings.ToLower(p)) {
			return false
		}
	}

	for _, p := range r.Excludes {
		if strings.Contains(lower, strings.ToLower(p)) {
			return false
		}
	}

	return true
}
