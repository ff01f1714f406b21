package explain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Artifact is the pair of CI-consumable files emitted per failure:
// <failure_id>.json (the full Explanation) and <failure_id>.txt (a
// bounded plain-text summary). Both are deterministic: identical
// Explanation values always produce byte-identical artifacts.
type Artifact struct {
	FailureID string
	JSON      []byte
	Text      string
}

const maxTextLines = 40

// BuildArtifact renders an Explanation into its CI artifact pair.
// json.Marshal on a struct with a fixed field order (no maps at the top
// level beyond what's already sorted upstream by sortByContribution)
// guarantees the determinism property for identical inputs.
func BuildArtifact(exp Explanation) Artifact {
	body, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		body = []byte("{}")
	}

	return Artifact{
		FailureID: exp.FailureID.String(),
		JSON:      body,
		Text:      renderText(exp),
	}
}

func renderText(exp Explanation) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("failure_id: %s", exp.FailureID))
	lines = append(lines, fmt.Sprintf("category: %s", exp.Category))
	lines = append(lines, fmt.Sprintf("final_confidence: %.3f", exp.FinalConfidence))
	lines = append(lines, "")
	lines = append(lines, "matched rules:")
	for _, ri := range exp.RuleInfluences {
		if !ri.Matched {
			continue
		}
		lines = append(lines, fmt.Sprintf("  - %s (contribution=%.2f): %s", ri.RuleID, ri.Contribution, ri.Explanation))
	}
	lines = append(lines, "")
	lines = append(lines, "signal quality:")
	lines = append(lines, fmt.Sprintf("  stacktrace_presence=%.2f error_message_stability=%.2f", exp.SignalQuality.StacktracePresence, exp.SignalQuality.ErrorMessageStability))
	lines = append(lines, fmt.Sprintf("  retry_consistency=%.2f historical_frequency=%.2f cross_test_correlation=%.2f", exp.SignalQuality.RetryConsistency, exp.SignalQuality.HistoricalFrequency, exp.SignalQuality.CrossTestCorrelation))
	lines = append(lines, "")
	if exp.Evidence.ErrorSummary != "" {
		lines = append(lines, "error: "+exp.Evidence.ErrorSummary)
	}
	if exp.Evidence.LastStackFrame != "" {
		lines = append(lines, "last frame: "+exp.Evidence.LastStackFrame)
	}
	for _, l := range exp.Evidence.RecentLogLines {
		lines = append(lines, "log: "+l)
	}

	if len(lines) > maxTextLines {
		lines = lines[:maxTextLines]
	}
	return strings.Join(lines, "\n") + "\n"
}
