package oracle

import (
	"fmt"
	"strconv"
	"strings"
)

// Relevance is the model's verdict on whether a thread is worth answering.
type Relevance struct {
	Score       float64
	Mode        string
	CanAddValue bool
	Reason      string
}

// Draft is a generated post.
type Draft struct {
	Title   string
	Submolt string
	Content string
}

var relevanceKeys = map[string]bool{
	"RELEVANCE":     true,
	"MODE":          true,
	"CAN_ADD_VALUE": true,
	"REASON":        true,
}

// stripFence drops a surrounding markdown code fence, which models add unprompted.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		return ""
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func splitKV(line string) (string, string, bool) {
	key, val, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" || key != strings.ToUpper(key) || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(val), true
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(strings.TrimRight(s, ".")) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: CAN_ADD_VALUE %q is not yes/no", ErrUnparseable, s)
}

// ParseRelevance parses a reply of KEY: value lines. Every non-blank line must be one of the known
// keys, each at most once; RELEVANCE (a number in [0, 1]) and CAN_ADD_VALUE (yes/no) are required.
// Anything else is ErrUnparseable, so a garbled reply never counts as relevant.
func ParseRelevance(text string) (Relevance, error) {
	out := Relevance{Mode: "none"}
	seen := map[string]bool{}

	for _, line := range strings.Split(stripFence(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, val, ok := splitKV(line)
		if !ok || !relevanceKeys[key] {
			return Relevance{}, fmt.Errorf("%w: unexpected line %q", ErrUnparseable, line)
		}
		if seen[key] {
			return Relevance{}, fmt.Errorf("%w: duplicate %s", ErrUnparseable, key)
		}
		seen[key] = true

		switch key {
		case "RELEVANCE":
			score, err := strconv.ParseFloat(val, 64)
			if err != nil || score < 0 || score > 1 {
				return Relevance{}, fmt.Errorf("%w: RELEVANCE %q not in [0, 1]", ErrUnparseable, val)
			}
			out.Score = score
		case "MODE":
			if val != "" {
				out.Mode = strings.ToLower(val)
			}
		case "CAN_ADD_VALUE":
			yes, err := parseYesNo(val)
			if err != nil {
				return Relevance{}, err
			}
			out.CanAddValue = yes
		case "REASON":
			out.Reason = val
		}
	}

	if !seen["RELEVANCE"] || !seen["CAN_ADD_VALUE"] {
		return Relevance{}, fmt.Errorf("%w: missing RELEVANCE or CAN_ADD_VALUE", ErrUnparseable)
	}
	return out, nil
}

// ParseDraft expects TITLE, an optional SUBMOLT, then CONTENT; the content runs to the end of the text.
func ParseDraft(text string) (Draft, error) {
	var out Draft
	lines := strings.Split(stripFence(text), "\n")

	i := 0
	next := func() (string, string, bool) {
		for i < len(lines) {
			line := strings.TrimSpace(lines[i])
			i++
			if line == "" {
				continue
			}
			return splitKV(line)
		}
		return "", "", false
	}

	key, val, ok := next()
	if !ok || key != "TITLE" || val == "" {
		return Draft{}, fmt.Errorf("%w: expected TITLE first", ErrUnparseable)
	}
	out.Title = val

	key, val, ok = next()
	if ok && key == "SUBMOLT" {
		out.Submolt = strings.TrimPrefix(strings.TrimPrefix(val, "m/"), "s/")
		key, val, ok = next()
	}
	if !ok || key != "CONTENT" {
		return Draft{}, fmt.Errorf("%w: expected CONTENT", ErrUnparseable)
	}

	body := val
	if rest := strings.Join(lines[i:], "\n"); rest != "" {
		if body != "" {
			body += "\n"
		}
		body += rest
	}
	out.Content = strings.TrimSpace(body)
	if out.Content == "" {
		return Draft{}, fmt.Errorf("%w: empty CONTENT", ErrUnparseable)
	}
	return out, nil
}
