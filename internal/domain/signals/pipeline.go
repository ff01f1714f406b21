package signals

import (
	"sort"
	"strings"
)

// Pipeline runs registered extractors in priority order (lower first):
// Timeout, Assertion, Locator, HttpError, Infra, framework extractors, then
// a fallback Composite.
type Pipeline struct {
	extractors []Extractor
}

// NewPipeline builds the default extractor pipeline.
func NewPipeline() *Pipeline {
	p := &Pipeline{extractors: []Extractor{
		NewTimeoutExtractor(),
		NewAssertionExtractor(),
		NewLocatorExtractor(),
		NewHTTPErrorExtractor(),
		NewInfraExtractor(),
		NewSeleniumExtractor(),
		NewRobotExtractor(),
		NewPytestExtractor(),
		NewCompositeExtractor(),
	}}
	sort.SliceStable(p.extractors, func(i, j int) bool {
		return p.extractors[i].Priority() < p.extractors[j].Priority()
	})
	return p
}

// ErrorSink receives extractor failures for logging; these are always
// non-fatal.
type ErrorSink interface {
	ExtractorFailed(name string, err any)
}

// Run scans text with every extractor in priority order. Empty input
// produces no signals. Input over 10MB is scanned line-by-line with a
// 100,000-line cap before being handed to the extractors, which
// themselves operate on the capped text.
func (p *Pipeline) Run(text string, sink ErrorSink) []Signal {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	text = capLines(text, MaxScanLines)

	var signals []Signal
	var compositeSignals []Signal
	for _, ex := range p.extractors {
		name := ex.Name()
		func() {
			defer func() {
				if r := recover(); r != nil && sink != nil {
					sink.ExtractorFailed(name, r)
				}
			}()
			result := ex.Extract(text)
			if name == "composite" {
				compositeSignals = result
				return
			}
			signals = append(signals, result...)
		}()
	}

	// Composite is a true fallback: it only contributes if nothing else
	// fired; otherwise a clear signal would be drowned out by a vague one.
	if len(signals) == 0 {
		signals = compositeSignals
	}

	return signals
}

// capLines enforces the >10MB / 100,000-line streaming cap.
func capLines(text string, maxLines int) string {
	const tenMB = 10 * 1024 * 1024
	if len(text) <= tenMB {
		return text
	}
	lines := strings.SplitN(text, "\n", maxLines+1)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n")
}
