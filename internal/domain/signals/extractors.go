package signals

import (
	"regexp"
	"strings"
)

// regexExtractor is a generic pattern-driven extractor shared by every
// built-in extractor below: it scans text against every pattern in its
// ordered pattern list and emits one Signal for each pattern that matches.
type regexExtractor struct {
	name       string
	priority   int
	signalType Type
	confidence float64
	patterns   []*regexp.Regexp
	metadata   func(match []string) map[string]any
}

func (e *regexExtractor) Name() string  { return e.name }
func (e *regexExtractor) Priority() int { return e.priority }

func (e *regexExtractor) Extract(text string) (out []Signal) {
	defer func() { recover() }() // an extractor exception never aborts the pipeline

	for _, pattern := range e.patterns {
		loc := pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		match := pattern.FindStringSubmatch(text)
		evidence := truncate(strings.TrimSpace(text[loc[0]:loc[1]]), MaxEvidenceLen)
		meta := map[string]any{}
		if e.metadata != nil {
			meta = e.metadata(match)
		}
		out = append(out, Signal{
			SignalType: e.signalType,
			Confidence: e.confidence,
			Evidence:   evidence,
			Metadata:   meta,
		})
	}
	return out
}

// NewTimeoutExtractor catches generic and framework timeout phrasing.
func NewTimeoutExtractor() Extractor {
	return &regexExtractor{
		name: "timeout", priority: 10, signalType: TypeTimeout, confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)timeoutexception`),
			regexp.MustCompile(`(?i)timed? ?out(?: after (\d+)\s*(ms|s|seconds)?)?`),
			regexp.MustCompile(`(?i)deadline exceeded`),
		},
		metadata: func(m []string) map[string]any {
			if len(m) > 1 && m[1] != "" {
				return map[string]any{"timeout_ms": m[1]}
			}
			return nil
		},
	}
}

// NewAssertionExtractor catches assertion-style failures.
func NewAssertionExtractor() Extractor {
	return &regexExtractor{
		name: "assertion", priority: 20, signalType: TypeAssertion, confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)assertionerror`),
			regexp.MustCompile(`(?i)expected .* got .*`),
			regexp.MustCompile(`(?i)assert(ion)? failed`),
		},
	}
}

// NewLocatorExtractor catches Selenium/Playwright-style element lookup
// failures.
func NewLocatorExtractor() Extractor {
	return &regexExtractor{
		name: "locator", priority: 30, signalType: TypeLocator, confidence: 0.88,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)nosuchelementexception`),
			regexp.MustCompile(`(?i)unable to locate element`),
			regexp.MustCompile(`(?i)element(?: is)? not (?:found|visible|interactable)`),
		},
		metadata: func(m []string) map[string]any {
			return map[string]any{"locator_type": "css_or_xpath"}
		},
	}
}

// NewHTTPErrorExtractor catches HTTP status-coded failures.
func NewHTTPErrorExtractor() Extractor {
	return &regexExtractor{
		name: "http_error", priority: 40, signalType: TypeHTTPError, confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(4\d{2}|5\d{2})\b.{0,40}(error|status|response)`),
			regexp.MustCompile(`(?i)(error|status|response).{0,40}\b(4\d{2}|5\d{2})\b`),
			regexp.MustCompile(`(?i)httperror`),
		},
		metadata: func(m []string) map[string]any {
			for _, g := range m {
				if len(g) == 3 && (g[0] == '4' || g[0] == '5') {
					return map[string]any{"status_code": g}
				}
			}
			return nil
		},
	}
}

// infraPatterns and their signal types, evaluated in order by the single
// "infra" extractor, which groups all environment/infrastructure failure
// classes into one stage.
var infraPatterns = []struct {
	signalType Type
	confidence float64
	pattern    *regexp.Regexp
}{
	{TypeConnectionError, 0.85, regexp.MustCompile(`(?i)connection ?(refused|reset|error)`)},
	{TypeDNSError, 0.85, regexp.MustCompile(`(?i)(dns|name) resolution (failed|error)|no such host`)},
	{TypePermissionError, 0.85, regexp.MustCompile(`(?i)permission denied|access is denied`)},
	{TypeImportError, 0.8, regexp.MustCompile(`(?i)(importerror|modulenotfounderror|cannot find module)`)},
	{TypeMemoryError, 0.8, regexp.MustCompile(`(?i)(memoryerror|out of memory|oom)`)},
	{TypeNullPointer, 0.85, regexp.MustCompile(`(?i)(nullpointerexception|null ?pointer|nonetype.*has no attribute)`)},
	{TypeFileNotFound, 0.85, regexp.MustCompile(`(?i)(filenotfounderror|no such file or directory)`)},
	{TypeSyntaxError, 0.8, regexp.MustCompile(`(?i)syntaxerror`)},
}

// NewInfraExtractor catches infrastructure/environment-class failures.
func NewInfraExtractor() Extractor {
	return &infraExtractor{priority: 50}
}

type infraExtractor struct{ priority int }

func (e *infraExtractor) Name() string  { return "infra" }
func (e *infraExtractor) Priority() int { return e.priority }

func (e *infraExtractor) Extract(text string) (out []Signal) {
	defer func() { recover() }()
	for _, p := range infraPatterns {
		if loc := p.pattern.FindStringIndex(text); loc != nil {
			out = append(out, Signal{
				SignalType: p.signalType,
				Confidence: p.confidence,
				Evidence:   truncate(strings.TrimSpace(text[loc[0]:loc[1]]), MaxEvidenceLen),
			})
		}
	}
	return out
}

// NewSeleniumExtractor catches Selenium-specific stale-element and browser
// failures, beyond the generic locator extractor.
func NewSeleniumExtractor() Extractor {
	return &regexExtractor{
		name: "selenium", priority: 60, signalType: TypeUIStale, confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)staleelementreferenceexception`),
			regexp.MustCompile(`(?i)webdriverexception`),
			regexp.MustCompile(`(?i)elementclickinterceptedexception`),
		},
	}
}

// NewRobotExtractor catches Robot Framework keyword/library failures.
func NewRobotExtractor() Extractor {
	return &regexExtractor{
		name: "robot", priority: 70, signalType: TypeKeywordNotFound, confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)no keyword with name`),
			regexp.MustCompile(`(?i)library '.*' not found`),
		},
		metadata: func(m []string) map[string]any {
			if strings.Contains(strings.ToLower(m[0]), "library") {
				return map[string]any{"signal_subtype": "library_error"}
			}
			return nil
		},
	}
}

// NewPytestExtractor catches pytest fixture-specific failures beyond the
// generic assertion extractor.
func NewPytestExtractor() Extractor {
	return &regexExtractor{
		name: "pytest", priority: 80, signalType: TypeFixtureError, confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)fixture '.*' not found`),
			regexp.MustCompile(`(?i)errors during collection`),
		},
	}
}

// NewCompositeExtractor is the fallback extractor run last: it never fails
// to produce at least a catch-all UNKNOWN signal when nothing else matched,
// so downstream consumers always have at least one signal to reason about
// for a failed test.
func NewCompositeExtractor() Extractor {
	return &compositeExtractor{priority: 1000}
}

type compositeExtractor struct{ priority int }

func (e *compositeExtractor) Name() string  { return "composite" }
func (e *compositeExtractor) Priority() int { return e.priority }

func (e *compositeExtractor) Extract(text string) []Signal {
	defer func() { recover() }()
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	return []Signal{{
		SignalType: TypeUnknown,
		Confidence: 0.5,
		Evidence:   truncate(firstLine(trimmed), MaxEvidenceLen),
	}}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
