package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/afi-canon/internal/debug"
)

// separators are replaced by a single space before comparison
const separators = `.,/\()-*`

// directionTokens flag opposite halves of a split district, e.g. East/West Khasi Hills
var directionTokens = map[string]bool{
	"east":    true,
	"west":    true,
	"north":   true,
	"south":   true,
	"central": true,
	"upper":   true,
	"lower":   true,
}

// Normalize folds a place name into its comparison form: NFC, separators to
// spaces, "&" spelt as "and", whitespace collapsed, lower case.
// Blank input yields "".
func Normalize(s string) string {
	return NormalizeDebug(false, s)
}

// NormalizeDebug normalizes a name with optional debug output
func NormalizeDebug(localDebug bool, s string) string {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	if strings.TrimSpace(s) == "" {
		return ""
	}

	s = norm.NFC.String(s)
	debug.DebugOutput(localDebug, "Input: %q", s)

	b := strings.Builder{}
	for _, r := range s {
		switch {
		case strings.ContainsRune(separators, r):
			b.WriteRune(' ')
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
	debug.DebugOutput(localDebug, "Normalized: %q", out)
	return out
}

// Clean strips separators and spells "&" as "and" like Normalize, but
// keeps the original casing.
func Clean(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	b := strings.Builder{}
	for _, r := range norm.NFC.String(s) {
		switch {
		case strings.ContainsRune(separators, r) || unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TitleCase upper-cases the first letter of each whitespace separated word
// and lower-cases the rest. Whitespace runs collapse to one space.
// Safe for concurrent use.
func TitleCase(s string) string {
	words := strings.Fields(s)
	// A Caser keeps state between calls and cannot be shared.
	caser := cases.Title(language.Und)
	for i, w := range words {
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// Tokens returns the distinct normalized tokens of s.
func Tokens(s string) map[string]struct{} {
	fields := strings.Fields(Normalize(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// TokenOverlap is the Jaccard similarity of the token sets of a and b.
// Returns 0 when either side has no tokens.
func TokenOverlap(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// DirectionTokens returns the direction words present in s.
func DirectionTokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for t := range Tokens(s) {
		if directionTokens[t] {
			out[t] = struct{}{}
		}
	}
	return out
}

// DirectionMismatch reports whether both names carry direction words and the
// sets differ.
func DirectionMismatch(a, b string) bool {
	da, db := DirectionTokens(a), DirectionTokens(b)
	if len(da) == 0 || len(db) == 0 {
		return false
	}
	if len(da) != len(db) {
		return true
	}
	for t := range da {
		if _, ok := db[t]; !ok {
			return true
		}
	}
	return false
}

// IsBlank checks if a name is effectively blank after normalization
func IsBlank(s string) bool {
	return Normalize(s) == ""
}
