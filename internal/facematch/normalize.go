package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeStaffName normalizes a name for comparison: no diacritics, lowercase,
// dashes and underscores as spaces, runs of whitespace collapsed.
func NormalizeStaffName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// NameMatches reports whether filter occurs in name after normalizing both.
// An empty filter matches every name.
func NameMatches(name, filter string) bool {
	filter = NormalizeStaffName(filter)
	if filter == "" {
		return true
	}
	return strings.Contains(NormalizeStaffName(name), filter)
}
