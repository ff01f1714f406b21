// Package explain implements the Explainability Builder (C5): turns a
// Classification and its originating signals into a standalone,
// independently-queryable explanation, plus the CI-consumable artifacts
// derived from it.
package explain

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/cbroglie/mustache"
	"github.com/google/uuid"

	"crossbridge/internal/domain/classify"
	"crossbridge/internal/domain/signals"
)

// sentenceTemplate renders a matched rule's description and the evidence
// substring that triggered it into one human sentence.
const sentenceTemplate = `{{description}} (triggered by: "{{evidence}}")`

// RuleInfluence describes one rule's contribution to a Classification.
type RuleInfluence struct {
	RuleID       string  `json:"rule_id"`
	Matched      bool    `json:"matched"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Explanation  string  `json:"explanation"`
}

// SignalQuality holds the five standard, framework-agnostic quality scores.
type SignalQuality struct {
	StacktracePresence    float64 `json:"stacktrace_presence"`
	ErrorMessageStability float64 `json:"error_message_stability"`
	RetryConsistency      float64 `json:"retry_consistency"`
	HistoricalFrequency   float64 `json:"historical_frequency"`
	CrossTestCorrelation  float64 `json:"cross_test_correlation"`
}

// Mean returns the average of the five component scores.
func (q SignalQuality) Mean() float64 {
	return (q.StacktracePresence + q.ErrorMessageStability + q.RetryConsistency +
		q.HistoricalFrequency + q.CrossTestCorrelation) / 5.0
}

// EvidenceContext carries bounded, human-scannable summaries only — never
// raw unbounded log text.
type EvidenceContext struct {
	LastStackFrame    string   `json:"last_stack_frame"`
	ErrorSummary      string   `json:"error_summary"`
	RecentLogLines    []string `json:"recent_log_lines"`
	SimilarFailureIDs []string `json:"similar_failure_ids"`
	RelatedTests      []string `json:"related_tests"`
}

// Explanation is the standalone output of the builder, keyed by FailureID
// to match its originating Classification.
type Explanation struct {
	FailureID       uuid.UUID         `json:"failure_id"`
	Category        classify.Category `json:"category"`
	FinalConfidence float64           `json:"final_confidence"`
	RuleInfluences  []RuleInfluence   `json:"rule_influences"`
	SignalQuality   SignalQuality     `json:"signal_quality"`
	Evidence        EvidenceContext   `json:"evidence"`
}

// HistoricalContext supplies the inputs the builder cannot derive from the
// Classification and signals alone: prior occurrences, sibling-test
// correlation, and retry outcomes for this run.
type HistoricalContext struct {
	Occurrences          int
	RetriesTotal         int
	RetriesReproduced    int
	SiblingTestsTotal    int
	SiblingTestsMatching int
	SimilarFailureIDs    []string
	RelatedTests         []string
}

var (
	hexAddrPattern   = regexp.MustCompile(`0x[0-9a-fA-F]{4,}`)
	uuidPattern      = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
)

const maxEvidenceLen = 150

// Build derives an Explanation from a Classification result, the signals
// that fed it, the errorMessage/stackTrace/logLines of the originating
// event, and whatever historical context the caller has available.
//
// allRules is the full rule set considered for classification (matched and
// unmatched), in priority order, so the top-N unmatched rules can be
// surfaced with contribution=0 for "what almost fired" dashboards.
// ruleDescriptions supplies rule.description text by rule ID for the
// templated human sentence; a rule missing from the map gets a minimal
// fallback sentence instead of failing the whole explanation.
func Build(result classify.Result, sigs []signals.Signal, errorMessage, stackTrace string, logLines []string, allRules []classify.MatchableRule, ruleDescriptions map[string]string, hist HistoricalContext) Explanation {
	exp := Explanation{
		FailureID: result.FailureID,
		Category:  result.Category,
	}

	exp.RuleInfluences = ruleInfluences(result, allRules, ruleDescriptions, representativeEvidence(sigs))
	sortByContribution(exp.RuleInfluences)
	exp.SignalQuality = signalQuality(sigs, stackTrace, errorMessage, hist)
	exp.Evidence = evidenceContext(stackTrace, errorMessage, logLines, hist)

	matchedContribSum := 0.0
	for _, ri := range exp.RuleInfluences {
		if ri.Matched {
			matchedContribSum += ri.Contribution
		}
	}
	if matchedContribSum > 1 {
		matchedContribSum = 1
	}
	exp.FinalConfidence = 0.7*matchedContribSum + 0.3*exp.SignalQuality.Mean()

	return exp
}

// maxUnmatchedShown bounds how many non-matching rules are surfaced per
// explanation; large rule packs would otherwise dominate the payload.
const maxUnmatchedShown = 10

// representativeEvidence picks the highest-confidence signal's evidence as
// the triggering substring quoted in rule sentences, since per-rule
// evidence isn't tracked upstream of the classifier.
func representativeEvidence(sigs []signals.Signal) string {
	best := ""
	bestConfidence := -1.0
	for _, s := range sigs {
		if s.Confidence > bestConfidence {
			bestConfidence = s.Confidence
			best = s.Evidence
		}
	}
	return best
}

func ruleInfluences(result classify.Result, allRules []classify.MatchableRule, descriptions map[string]string, evidence string) []RuleInfluence {
	matchedSet := make(map[string]bool, len(result.MatchedRules))
	for _, r := range result.MatchedRules {
		matchedSet[r.RuleID()] = true
	}

	weightSum := 0.0
	for _, r := range result.MatchedRules {
		weightSum += r.RuleConfidence()
	}

	out := make([]RuleInfluence, 0, len(result.MatchedRules)+maxUnmatchedShown)
	for _, r := range result.MatchedRules {
		weight := r.RuleConfidence()
		contribution := 0.0
		if weightSum > 0 {
			contribution = weight / weightSum
		}
		out = append(out, RuleInfluence{
			RuleID:       r.RuleID(),
			Matched:      true,
			Weight:       weight,
			Contribution: contribution,
			Explanation:  humanSentence(r, descriptions[r.RuleID()], evidence),
		})
	}

	unmatchedShown := 0
	for _, r := range allRules {
		if unmatchedShown >= maxUnmatchedShown {
			break
		}
		if matchedSet[r.RuleID()] {
			continue
		}
		out = append(out, RuleInfluence{
			RuleID:       r.RuleID(),
			Matched:      false,
			Weight:       r.RuleConfidence(),
			Contribution: 0,
		})
		unmatchedShown++
	}

	return out
}

// humanSentence renders a short human-readable sentence for a matched rule
// from its description and the triggering evidence substring. A rule with
// no known description (not present in the descriptions map passed to
// Build) falls back to a minimal sentence rather than failing the whole
// explanation.
func humanSentence(r classify.MatchableRule, description, evidence string) string {
	if description == "" {
		return "matched rule " + r.RuleID() + " classifying as " + string(r.RuleFailureType())
	}
	rendered, err := mustache.Render(sentenceTemplate, map[string]string{
		"description": description,
		"evidence":    evidence,
	})
	if err != nil {
		return description
	}
	return rendered
}

func signalQuality(sigs []signals.Signal, stackTrace, errorMessage string, hist HistoricalContext) SignalQuality {
	return SignalQuality{
		StacktracePresence:    stacktracePresence(stackTrace),
		ErrorMessageStability: errorMessageStability(hist),
		RetryConsistency:      retryConsistency(hist),
		HistoricalFrequency:   historicalFrequency(hist.Occurrences),
		CrossTestCorrelation:  crossTestCorrelation(hist),
	}
}

func stacktracePresence(stackTrace string) float64 {
	trimmed := strings.TrimSpace(stackTrace)
	if trimmed == "" {
		return 0.0
	}
	frames := strings.Count(trimmed, "\n") + 1
	if frames >= 3 {
		return 1.0
	}
	return 0.5
}

func errorMessageStability(hist HistoricalContext) float64 {
	if hist.RetriesTotal == 0 {
		return 1.0
	}
	if hist.RetriesReproduced == hist.RetriesTotal {
		return 1.0
	}
	if hist.RetriesReproduced > 0 {
		return 0.5
	}
	return 0.2
}

func retryConsistency(hist HistoricalContext) float64 {
	total := hist.RetriesTotal
	if total < 1 {
		total = 1
	}
	return float64(hist.RetriesReproduced) / float64(total)
}

func historicalFrequency(occurrences int) float64 {
	v := math.Log1p(float64(occurrences)) / math.Log1p(30)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func crossTestCorrelation(hist HistoricalContext) float64 {
	if hist.SiblingTestsTotal == 0 {
		return 0
	}
	return float64(hist.SiblingTestsMatching) / float64(hist.SiblingTestsTotal)
}

func evidenceContext(stackTrace, errorMessage string, logLines []string, hist HistoricalContext) EvidenceContext {
	ctx := EvidenceContext{
		LastStackFrame: truncate(lastMeaningfulLine(stackTrace), maxEvidenceLen),
		ErrorSummary:   truncate(stripNoise(errorMessage), maxEvidenceLen),
	}

	var recent []string
	for i := len(logLines) - 1; i >= 0 && len(recent) < 5; i-- {
		line := logLines[i]
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "ERROR") || strings.Contains(upper, "WARN") {
			recent = append([]string{line}, recent...)
		}
	}
	ctx.RecentLogLines = recent

	ctx.SimilarFailureIDs = capStrings(hist.SimilarFailureIDs, 10)
	ctx.RelatedTests = capStrings(hist.RelatedTests, 10)

	return ctx
}

func lastMeaningfulLine(stackTrace string) string {
	lines := strings.Split(strings.TrimRight(stackTrace, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line
		}
	}
	return ""
}

func stripNoise(s string) string {
	s = timestampPattern.ReplaceAllString(s, "")
	s = hexAddrPattern.ReplaceAllString(s, "")
	s = uuidPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

// sortByContribution is used by callers that need a stable, deterministic
// ordering of rule influences beyond the classifier's own order (e.g. when
// merging historical context asynchronously); it guarantees explanation
// determinism regardless of map-iteration order upstream.
func sortByContribution(ri []RuleInfluence) {
	sort.SliceStable(ri, func(i, j int) bool {
		if ri[i].Matched != ri[j].Matched {
			return ri[i].Matched
		}
		return ri[i].Contribution > ri[j].Contribution
	})
}
