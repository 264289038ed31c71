package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics so "Nguyễn Đức" and "nguyen duc" compare equal.
// Đ/đ is not a combining form in Unicode and is mapped explicitly.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.NewReplacer("đ", "d", "Đ", "D").Replace(out)
	return strings.ToLower(out)
}

// SearchKey is the folded text patient search matches against
func (p *Patient) SearchKey() string {
	return Fold(strings.Join([]string{p.Name, p.PhoneNumber, p.DisplayID}, " "))
}
