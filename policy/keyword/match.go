package keyword

import (
	"strings"
)

// CountPhrases returns how many of phrases occur in text. Each phrase counts at most once.
func CountPhrases(text string, phrases []string) int {
	folded := Fold(text)
	n := 0
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(folded, Fold(p)) {
			n++
		}
	}
	return n
}

// FirstPhrase returns the first of phrases, in list order, that occurs in text.
func FirstPhrase(text string, phrases []string) (string, bool) {
	folded := Fold(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(folded, Fold(p)) {
			return p, true
		}
	}
	return "", false
}

// MatchedPhrases returns every phrase that occurs in text, in list order.
func MatchedPhrases(text string, phrases []string) []string {
	folded := Fold(text)
	out := []string{}
	for _, p := range phrases {
		if p != "" && strings.Contains(folded, Fold(p)) {
			out = append(out, p)
		}
	}
	return out
}

// SlugInSet checks a name against a list of names after slugifying both sides.
func SlugInSet(name string, set []string) bool {
	slug := Slugify(name)
	if slug == "" {
		return false
	}
	for _, s := range set {
		if Slugify(s) == slug {
			return true
		}
	}
	return false
}
