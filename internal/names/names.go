// Package names turns free-text calendar titles into canonical patient names
// and provides the folding used wherever names are compared.
package names

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SurgeryGlyph marks surgeries in calendar titles.
const SurgeryGlyph = "🔪"

// techniqueKeywords are procedure names that surround patient names in
// titles. Each entry is matched as a whole token sequence after folding.
var techniqueKeywords = [][]string{
	{"rev", "rino"},
	{"upper", "blef"},
	{"ortak", "vaka"},
	{"septorinoplasti"},
	{"rinoplasti"},
	{"otoplasti"},
	{"revizyon"},
	{"kostali"},
	{"kostal"},
	{"kosta"},
	{"rino"},
	{"ortak"},
	{"iy"},
}

var (
	parenRe    = regexp.MustCompile(`\([^)]*\)`)
	ageRe      = regexp.MustCompile(`yaş\s*\d+`)
	clockRe    = regexp.MustCompile(`\d{1,2}[:.]\d{2}`)
	nonWordRe  = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	turkishTag = language.Turkish
)

// Lower lower-cases s with Turkish rules (I→ı, İ→i).
func Lower(s string) string {
	return cases.Lower(turkishTag).String(s)
}

// Upper upper-cases s with Turkish rules (i→İ, ı→I).
func Upper(s string) string {
	return cases.Upper(turkishTag).String(s)
}

// Fold returns the comparison key of s: Turkish lower case with diacritics
// removed and dotless ı mapped to i, so "YILMAZ", "Yılmaz" and "yilmaz"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, Lower(s))
	if err != nil {
		folded = Lower(s)
	}
	return strings.ReplaceAll(folded, "ı", "i")
}

// Normalize extracts a canonical display name from raw title text.
func Normalize(raw string) string {
	s := Lower(raw)
	s = parenRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, SurgeryGlyph, " ")
	s = ageRe.ReplaceAllString(s, " ")
	s = clockRe.ReplaceAllString(s, " ")
	s = nonWordRe.ReplaceAllString(s, " ")

	tokens := stripKeywords(strings.Fields(s))
	for i, tok := range tokens {
		tokens[i] = titleToken(tok)
	}
	return strings.Join(tokens, " ")
}

// TokenCount returns the number of whitespace separated tokens in s.
func TokenCount(s string) int {
	return len(strings.Fields(s))
}

func stripKeywords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		if n := keywordAt(tokens, i); n > 0 {
			i += n
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out
}

// keywordAt returns the length of the technique keyword starting at
// tokens[i], or 0.
func keywordAt(tokens []string, i int) int {
	for _, kw := range techniqueKeywords {
		if i+len(kw) > len(tokens) {
			continue
		}
		match := true
		for j, part := range kw {
			if Fold(tokens[i+j]) != part {
				match = false
				break
			}
		}
		if match {
			return len(kw)
		}
	}
	return 0
}

func titleToken(tok string) string {
	r, size := utf8.DecodeRuneInString(tok)
	if r == utf8.RuneError {
		return tok
	}
	return Upper(string(r)) + tok[size:]
}
