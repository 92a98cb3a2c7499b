// Package titles provides title normalization and comparison helpers shared
// by the single detector and the metadata clients.
package titles

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	trailingParenRe = regexp.MustCompile(`\([^)]*\)\s*$`)
	bracketSuffixRe = regexp.MustCompile(`\s*[(\[][^)\]]*[)\]]\s*$`)
	punctuationRe   = regexp.MustCompile(`[^\w\s]`)
	multipleSpaceRe = regexp.MustCompile(`\s+`)
)

// versionKeywords is the fixed set of tokens that identify a track title as a
// variant recording rather than the canonical one.
var versionKeywords = map[string]struct{}{
	"live":         {},
	"acoustic":     {},
	"unplugged":    {},
	"remix":        {},
	"edit":         {},
	"demo":         {},
	"instrumental": {},
	"karaoke":      {},
	"remaster":     {},
	"remastered":   {},
	"orchestral":   {},
	"mix":          {},
}

// skipKeywords marks titles that are never worth an external popularity
// lookup. Superset of versionKeywords plus filler-track words.
var skipKeywords = []string{
	"intro", "outro", "jam", "live", "unplugged", "remix", "edit", "mix",
	"acoustic", "orchestral", "demo", "instrumental", "karaoke",
	"remaster", "remastered",
}

// liveKeywords flag an album title or release notes as a live recording.
var liveKeywords = []string{
	"live", "unplugged", "in concert", "on stage", "recorded live",
}

// Normalize lowercases a title, strips bracketed suffixes and punctuation,
// and collapses whitespace. Used for equality comparisons across services.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = bracketSuffixRe.ReplaceAllString(s, "")
	s = punctuationRe.ReplaceAllString(s, " ")
	s = multipleSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// BaseTitle returns the title with any trailing parenthesized segment removed.
func BaseTitle(s string) string {
	return strings.TrimSpace(trailingParenRe.ReplaceAllString(s, ""))
}

// HasTrailingParen reports whether the title ends with a parenthesized
// segment, e.g. "Song (Live)".
func HasTrailingParen(s string) bool {
	return trailingParenRe.MatchString(s)
}

// VersionTokens extracts the version descriptor from a track title: the
// content of a trailing "(...)" segment or of a trailing " - " segment,
// tokenized and intersected with the fixed version-keyword set. Two titles
// refer to the same recording only when their token sets are equal.
func VersionTokens(s string) map[string]struct{} {
	tokens := map[string]struct{}{}

	var descriptor string
	if m := trailingParenRe.FindString(s); m != "" {
		descriptor = strings.Trim(m, "() \t")
	} else if idx := strings.LastIndex(s, " - "); idx >= 0 {
		descriptor = s[idx+3:]
	}
	if descriptor == "" {
		return tokens
	}

	for _, word := range strings.Fields(strings.ToLower(descriptor)) {
		word = strings.Trim(word, ".,!?'\"")
		if _, ok := versionKeywords[word]; ok {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

// SameVersionTokens reports set equality of two token sets.
func SameVersionTokens(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for tok := range a {
		if _, ok := b[tok]; !ok {
			return false
		}
	}
	return true
}

// ContainsVersionKeyword reports whether the lowercased title contains any
// word from the skip set. Such tracks are never sent to the popularity or
// scrobble APIs.
func ContainsVersionKeyword(s string) bool {
	words := splitWords(strings.ToLower(s))
	for _, w := range words {
		for _, kw := range skipKeywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}

// IsLiveTitle reports whether a title or note marks a live/unplugged
// recording context.
func IsLiveTitle(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range liveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// splitWords splits on anything that is not a letter or digit.
func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Similarity calculates the similarity between two strings using Levenshtein
// distance. Returns a value between 0 and 1, where 1 means identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}

	lenA := len(a)
	lenB := len(b)

	if lenA == 0 || lenB == 0 {
		return 0.0
	}

	dist := levenshteinDistance(a, b)
	maxLen := max(lenA, lenB)

	return 1.0 - float64(dist)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}

	// Convert to rune slices for proper unicode handling
	runesA := []rune(a)
	runesB := []rune(b)

	lenA := len(runesA)
	lenB := len(runesB)

	// Create distance matrix (only need two rows)
	prev := make([]int, lenB+1)
	curr := make([]int, lenB+1)

	for j := 0; j <= lenB; j++ {
		prev[j] = j
	}

	for i := 1; i <= lenA; i++ {
		curr[0] = i

		for j := 1; j <= lenB; j++ {
			cost := 1
			if runesA[i-1] == runesB[j-1] {
				cost = 0
			}

			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}

		prev, curr = curr, prev
	}

	return prev[lenB]
}
