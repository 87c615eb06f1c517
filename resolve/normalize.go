package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Folds a stop label into the form used for matching: lower case,
// no diacritics, alphanumeric words separated by single spaces.
//
//	Normalize("  Atuarfik  Hans-Lynge ") == "atuarfik hans lynge"
//	Normalize("Sømandshjemmet") == "sømandshjemmet"
//	Normalize("Café Ilulissat") == "cafe ilulissat"
//
// Letters without a canonical decomposition, like ø and æ, are kept.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
