// Package parser holds text cleaning and normalization helpers shared
// by the extraction, dedupe, and sink layers.
package parser

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/firmendata/wko-crawler/models"
)

var umlauts = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
	"Ä", "ae",
	"Ö", "oe",
	"Ü", "ue",
)

// CleanText collapses all interior whitespace to single spaces and
// trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// KeyText lowercases cleaned text for use in dedupe keys.
func KeyText(s string) string {
	return strings.ToLower(CleanText(s))
}

// NormalizeText produces the canonical form used for content keys and
// search text: lowercase, umlauts transliterated, combining marks
// stripped after NFKD, anything outside [a-z0-9] squeezed to spaces.
func NormalizeText(s string) string {
	text := umlauts.Replace(strings.ToLower(strings.TrimSpace(s)))
	text = norm.NFKD.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining marks left over from NFKD
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return CleanText(b.String())
}

// Address joins street and zip/city into a single display address.
func Address(street, zipCity string) string {
	parts := make([]string, 0, 2)
	if street != "" {
		parts = append(parts, street)
	}
	if zipCity != "" {
		parts = append(parts, zipCity)
	}
	return strings.Join(parts, " ")
}

// ValidateRecord ensures a record is identifiable enough to push to the
// external store: a normalized name or a normalized address must remain.
func ValidateRecord(r *models.Record) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if NormalizeText(r.Name) == "" && NormalizeText(Address(r.Street, r.ZipCity)) == "" {
		return fmt.Errorf("record for branch %q has neither name nor address", r.Branch)
	}
	return nil
}
