package database

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

// NormalizeName normalizes a name for comparison (lowercase, no diacritics, spaces for dashes).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// MatchesQuery reports whether a student matches a search query: the
// normalized query is contained in the normalized name, or equals the roll
// number ignoring case. Backends that cannot express NormalizeName in SQL
// filter with this.
func MatchesQuery(s *Student, query string) bool {
	q := NormalizeName(query)
	if q == "" {
		return false
	}
	if strings.Contains(NormalizeName(s.Name), q) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(query), s.RollNumber)
}
