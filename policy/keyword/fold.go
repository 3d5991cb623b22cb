package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonSlugChars = regexp.MustCompile(`[^\pL\pN]+`)

// Fold lower-cases text and strips combining marks, so "Crowdsourcing" and "crowdsourcíng" compare equal.
func Fold(text string) string {
	// the transformer carries state, so build one per call
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return out
}

// Takes an arbitrary string (eg, an agent name) and returns a folded version with all non-letter, non-digit characters removed
func Slugify(orig string) string {
	return nonSlugChars.ReplaceAllString(Fold(orig), "")
}
