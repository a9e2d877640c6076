// Package prompt renders the system prompt template.
//
// Templates use %{name} placeholders and %% for a literal percent sign. A
// placeholder without a value is an error so a typo in the template fails
// before any LLM call is made.
package prompt

import (
	"regexp"
	"sort"
	"strings"
)

const (
	ExampleDiff   = "example_git_diff"
	InitialOutput = "initial_output"
)

var placeholderRe = regexp.MustCompile(`%%|%\{(\w+)\}`)

type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "prompt template references unknown placeholders: " + strings.Join(e.Names, ", ")
}

// Placeholders lists the distinct placeholder names in tmpl, sorted.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if m[1] != "" {
			seen[m[1]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Check reports placeholders in tmpl that names does not cover.
func Check(tmpl string, names ...string) error {
	known := map[string]bool{}
	for _, n := range names {
		known[n] = true
	}
	var missing []string
	for _, n := range Placeholders(tmpl) {
		if !known[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

func Render(tmpl string, vars map[string]string) (string, error) {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	if err := Check(tmpl, names...); err != nil {
		return "", err
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		if m == "%%" {
			return "%"
		}
		return vars[m[2:len(m)-1]]
	}), nil
}
