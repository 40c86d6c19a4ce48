// Package normalize canonicalizes free text for storage and for comparison keys.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceLike = strings.NewReplacer(
		"\u00a0", " ", "\u202f", " ", "\u2007", " ",
		"\u2060", " ", "\u2027", " ", "\u00b7", " ",
	)

	quotesAndDashes = strings.NewReplacer(
		"\u00ab", `"`, "\u00bb", `"`, "\u201c", `"`, "\u201d", `"`,
		"\u2019", "'", "\u2018", "'", "\u02bc", "'",
		"\u2013", "-", "\u2010", "-",
		"\u2026", "...",
	)

	ellipsisRe = regexp.MustCompile(`\.{3,}`)

	// Hyphens are folded to spaces in comparison keys so "avez-vous" and
	// "avez vous" produce the same key.
	hyphens = strings.NewReplacer("-", " ", "\u2010", " ", "\u2011", " ", "\u2013", " ")

	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// ForStorage returns the canonical display form of s: NFKC, regular spaces,
// straight quotes, a space before '?' and ';', spaced quote characters,
// unified apostrophes and dashes, "..." ellipses and collapsed whitespace.
// It is idempotent.
func ForStorage(s string) string {
	if s == "" {
		return ""
	}

	text := norm.NFKC.String(s)
	text = spaceLike.Replace(text)
	text = quotesAndDashes.Replace(text)
	text = spaceBefore(text, func(r rune) bool { return r == '?' || r == ';' })
	text = spaceBefore(text, func(r rune) bool { return r == '"' })
	text = spaceAfterQuote(text)
	text = ellipsisRe.ReplaceAllString(text, "...")

	return strings.Join(strings.Fields(text), " ")
}

// ForComparison returns the lookup key of s: lowercase, accents stripped,
// hyphens folded to spaces and whitespace collapsed. Keys are never stored
// or displayed.
func ForComparison(s string) string {
	if s == "" {
		return ""
	}

	result, _, err := transform.String(stripMarks, strings.ToLower(s))
	if err != nil {
		result = strings.ToLower(s)
	}
	result = hyphens.Replace(result)

	return strings.Join(strings.Fields(result), " ")
}

// spaceBefore inserts a space before every rune matching target that does
// not already follow whitespace.
func spaceBefore(s string, target func(rune) bool) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	prev := ' '
	for _, r := range s {
		if target(r) && !unicode.IsSpace(prev) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// spaceAfterQuote inserts a space after a double quote followed by a
// non-space rune.
func spaceAfterQuote(s string) string {
	rs := []rune(s)

	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range rs {
		b.WriteRune(r)
		if r == '"' && i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
