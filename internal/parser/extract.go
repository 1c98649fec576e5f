// Package parser turns raw engine output into a validated plan. It accepts
// strict JSON, JSON wrapped in prose or markdown fences, and structurally
// incomplete objects, and never returns a plan that violates plan invariants.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rahul/priorities/internal/plan"
)

// candidate is a decoded JSON object plus any prose that preceded it.
type candidate struct {
	object    map[string]any
	narrative string
}

// tier tries one extraction strategy against the trimmed text.
type tier struct {
	name string
	fn   func(text string) (candidate, error)
}

var tiers = []tier{
	{name: "direct", fn: parseDirect},
	{name: "fenced", fn: parseFenced},
	{name: "braces", fn: parseBraces},
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\\r?\\n?(.*?)```")

// Extract runs the extraction tiers in order and returns the first object
// that decodes. On failure the returned narrative is the best prose we could
// recover, so callers can still summarize what the model said.
func Extract(text string) (map[string]any, string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, "", plan.ErrNoJSON
	}

	narrative := ""
	for _, t := range tiers {
		c, err := t.fn(trimmed)
		if err == nil {
			return c.object, c.narrative, nil
		}
		if narrative == "" && c.narrative != "" {
			narrative = c.narrative
		}
	}
	if narrative == "" {
		narrative = trimmed
	}
	return nil, narrative, plan.ErrNoJSON
}

func parseDirect(text string) (candidate, error) {
	if !strings.HasPrefix(text, "{") {
		return candidate{}, fmt.Errorf("direct: text does not start with an object")
	}
	obj, err := decodeObject(text)
	if err != nil {
		return candidate{}, fmt.Errorf("direct: %w", err)
	}
	return candidate{object: obj}, nil
}

func parseFenced(text string) (candidate, error) {
	loc := fencePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return candidate{}, fmt.Errorf("fenced: no code fence")
	}
	narrative := strings.TrimSpace(text[:loc[0]])
	body := strings.TrimSpace(text[loc[2]:loc[3]])
	obj, err := decodeObject(body)
	if err != nil {
		return candidate{narrative: narrative}, fmt.Errorf("fenced: %w", err)
	}
	return candidate{object: obj, narrative: narrative}, nil
}

func parseBraces(text string) (candidate, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return candidate{}, fmt.Errorf("braces: no object delimiters")
	}
	narrative := strings.TrimSpace(text[:start])
	obj, err := decodeObject(text[start : end+1])
	if err != nil {
		return candidate{narrative: narrative}, fmt.Errorf("braces: %w", err)
	}
	return candidate{object: obj, narrative: narrative}, nil
}

func decodeObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("decoded value is not an object")
	}
	return obj, nil
}

// Condense reduces free text to its first sentence, whitespace-collapsed
// and capped for display.
func Condense(text string) string {
	text = strings.Join(strings.Fields(stripFences(text)), " ")
	if text == "" {
		return ""
	}
	if end := sentenceEnd(text); end > 0 {
		text = text[:end]
	}
	const maxLen = 240
	if len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], " ")
		if cut <= 0 {
			cut = maxLen
		}
		text = strings.TrimSpace(text[:cut]) + "..."
	}
	return text
}

func sentenceEnd(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' {
				return i + 1
			}
		}
	}
	return -1
}

func stripFences(text string) string {
	return fencePattern.ReplaceAllString(text, " ")
}
