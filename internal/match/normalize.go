// Package match canonicalises venue titles and compares them as token sequences.
package match

import (
	"regexp"
	"strings"
)

// StopWords are removed from titles before comparison: organisations, generic
// venue-type words, prepositions and month names.
var StopWords = []string{
	"acm", "ieee", "international", "national", "ifip",
	"symposium", "conference", "workshop", "proceedings", "chapter", "association",
	"in", "of", "to", "on", "for", "at", "the", "and",
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

var (
	parenthesesRe = regexp.MustCompile(`\(.*?\)`)
	punctuationRe = regexp.MustCompile(`['",&]`)
	colonRe       = regexp.MustCompile(`:\s`)
	numberRe      = regexp.MustCompile(`\d+\w*`)
	hyphenRe      = regexp.MustCompile(`-\s`)

	defaultStopWords = stopWordsPattern(StopWords)
)

// Normalize canonicalises a venue title into lowercase comparison tokens.
// An all-stop-word title yields an empty (non-nil) slice.
func Normalize(title string) []string {
	return normalize(title, defaultStopWords)
}

// NormalizeWithout is Normalize with additional stop words, typically the
// venue's own acronym.
func NormalizeWithout(title string, extra ...string) []string {
	words := make([]string, 0, len(StopWords)+len(extra))
	words = append(words, StopWords...)
	for _, w := range extra {
		if w = strings.TrimSpace(strings.ToLower(w)); w != "" {
			words = append(words, w)
		}
	}
	return normalize(title, stopWordsPattern(words))
}

func normalize(title string, stop *regexp.Regexp) []string {
	s := parenthesesRe.ReplaceAllString(title, "")
	s = punctuationRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "/", " ")
	s = colonRe.ReplaceAllString(s, " ")
	s = removeStopWords(s, stop)
	s = numberRe.ReplaceAllString(s, "")
	s = hyphenRe.ReplaceAllString(s, " ")
	s = strings.ToLower(s)

	tokens := strings.Fields(s)
	if tokens == nil {
		return []string{}
	}
	return tokens
}

func stopWordsPattern(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// removeStopWords drops whole-word matches that do not touch a hyphen, so
// "in-memory" or "co-located" keep their parts.
func removeStopWords(s string, stop *regexp.Regexp) string {
	matches := stop.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 && s[start-1] == '-' {
			continue
		}
		if end < len(s) && s[end] == '-' {
			continue
		}
		b.WriteString(s[last:start])
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
