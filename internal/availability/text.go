package availability

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripDiacritics removes combining marks: "Élodie" becomes "Elodie".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lowercases, strips diacritics and collapses whitespace.
func Fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(StripDiacritics(s))), " ")
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameKey is the identity key used when neither id nor email links a record
// to a collaborator.
func NameKey(nom, prenom string) string {
	nom, prenom = Fold(nom), Fold(prenom)
	if nom == "" && prenom == "" {
		return ""
	}
	return nom + "|" + prenom
}

// Digits keeps only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Slug derives a stable identifier from a name: "Dùpont Élodie" becomes
// "dupont-elodie".
func Slug(parts ...string) string {
	var b strings.Builder
	dash := false
	for _, r := range Fold(strings.Join(parts, " ")) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
