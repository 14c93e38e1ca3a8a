package signatures

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MatchResult pairs a signature with the literal substrings it matched.
type MatchResult struct {
	Signature Signature
	Matches   []string
}

// Matcher evaluates log text against a compiled signature catalog. It holds
// no mutable state after construction and is safe for concurrent use.
type Matcher struct {
	entries []compiledSignature
}

type compiledSignature struct {
	signature Signature
	regexes   []*regexp.Regexp
}

// NewMatcher compiles the given catalog, or the default catalog when nil.
// All patterns are matched case-insensitively.
func NewMatcher(catalog []Signature) (*Matcher, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	entries := make([]compiledSignature, 0, len(catalog))
	for _, sig := range catalog {
		regexes := make([]*regexp.Regexp, 0, len(sig.Patterns))
		for _, pattern := range sig.Patterns {
			re, err := regexp.Compile(`(?i)` + pattern)
			if err != nil {
				return nil, fmt.Errorf("compile signature %q pattern %q: %w", sig.Name, pattern, err)
			}
			regexes = append(regexes, re)
		}
		entries = append(entries, compiledSignature{signature: sig, regexes: regexes})
	}

	return &Matcher{entries: entries}, nil
}

// Match returns every signature that matched anywhere in the log text, with
// the literal substrings found per signature. Results are ordered by severity
// rank (critical first); ties retain catalog declaration order.
func (m *Matcher) Match(logText string) []MatchResult {
	results := make([]MatchResult, 0)

	for _, entry := range m.entries {
		var matched []string
		for _, re := range entry.regexes {
			matched = append(matched, re.FindAllString(logText, -1)...)
		}
		if len(matched) > 0 {
			results = append(results, MatchResult{Signature: entry.signature, Matches: matched})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Signature.Severity.Rank() < results[j].Signature.Severity.Rank()
	})

	return results
}

// PrimaryMatch returns the most severe match, or nil when nothing matched.
func (m *Matcher) PrimaryMatch(logText string) *MatchResult {
	results := m.Match(logText)
	if len(results) == 0 {
		return nil
	}
	return &results[0]
}

// DefaultMaxKeyLines bounds ExtractKeyLines when callers pass a non-positive limit.
const DefaultMaxKeyLines = 10

// ExtractKeyLines scans the log text line by line in original order and
// collects lines that match any compiled pattern, trimmed of surrounding
// whitespace, stopping once maxLines lines are selected. No deduplication.
func (m *Matcher) ExtractKeyLines(logText string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultMaxKeyLines
	}

	keyLines := make([]string, 0, maxLines)
	for _, line := range strings.Split(logText, "\n") {
		for _, entry := range m.entries {
			found := false
			for _, re := range entry.regexes {
				if re.MatchString(line) {
					keyLines = append(keyLines, strings.TrimSpace(line))
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if len(keyLines) >= maxLines {
			break
		}
	}

	return keyLines
}
