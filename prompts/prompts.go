package prompts

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.txt
var templateFS embed.FS

const (
	System         = "system"
	RelevanceCheck = "relevance_check"
	APIOutreach    = "api_outreach"
	ValuePost      = "value_post"
)

// Vars are the values substituted into a template.
type Vars map[string]any

// Set holds the parsed prompt templates, keyed by file name without extension.
type Set struct {
	templates map[string]*pongo2.Template
}

// Load parses every embedded template.
func Load() (*Set, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	s := &Set{templates: map[string]*pongo2.Template{}}
	for _, e := range entries {
		raw, err := templateFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			return nil, err
		}
		tpl, err := pongo2.FromString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parsing prompt %s: %w", e.Name(), err)
		}
		s.templates[strings.TrimSuffix(e.Name(), ".txt")] = tpl
	}
	return s, nil
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.templates))
	for k := range s.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Set) Has(name string) bool {
	_, ok := s.templates[name]
	return ok
}

// MissingReplies returns the modes that have no reply template.
func (s *Set) MissingReplies(modes []string) []string {
	var missing []string
	for _, m := range modes {
		if !s.Has(m) {
			missing = append(missing, m)
		}
	}
	return missing
}

// Render executes the named template. The system prompt is always available as "system".
func (s *Set) Render(name string, vars Vars) (string, error) {
	tpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt: %q", name)
	}
	ctx := pongo2.Context{}
	for k, v := range vars {
		ctx[k] = v
	}
	if _, ok := ctx["system"]; !ok && name != System {
		sys, err := s.templates[System].Execute(pongo2.Context{})
		if err != nil {
			return "", fmt.Errorf("rendering system prompt: %w", err)
		}
		ctx["system"] = strings.TrimSpace(sys)
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return strings.TrimSpace(out), nil
}

// RenderReply renders a mode prompt preceded by the system prompt.
func (s *Set) RenderReply(mode string, vars Vars) (string, error) {
	sys, err := s.Render(System, nil)
	if err != nil {
		return "", err
	}
	body, err := s.Render(mode, vars)
	if err != nil {
		return "", err
	}
	return sys + "\n\n---\n\n" + body, nil
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
