package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema validates one named output shape. Each purpose in
// ports.CompletionRequest.SchemaName has exactly one Schema, checked
// against the raw JSON text before it reaches the caller.
//
// Boardroom Journal's output shapes are few and fixed at compile time
// (seven signal buckets, a handful of session outputs), so validation
// is hand-written field/bound checks over a decoded map rather than a
// general JSON Schema engine: no example repo in the retrieved corpus
// exercises a JSON-schema validation library (the only two that appear
// are unused indirect dependencies pulled in transitively by something
// else), so this stays on encoding/json rather than adopt a library
// nothing in the corpus actually calls.
type Schema struct {
	Name     string
	Required []string
	// MaxWords caps total word count across every string value. It is
	// an upper bound only: no minimum word count is checked, and neither
	// is the number of sentences in any field.
	MaxWords int
	// MaxListLen bounds named array fields, e.g. "bullets" <= 3.
	MaxListLen map[string]int
}

// Schemas is the closed registry of every SchemaName the AI Adapter
// issues, keyed exactly as ports.CompletionRequest.SchemaName values.
var Schemas = map[string]Schema{
	"extract_signals": {
		Name:     "extract_signals",
		Required: []string{"wins", "blockers", "risks", "avoided_decision", "comfort_work", "actions", "learnings"},
	},
	"weekly_brief": {
		Name:     "weekly_brief",
		Required: []string{"headline", "wins", "blockers", "risks", "open_loops", "next_week_focus"},
		MaxWords: 800,
		MaxListLen: map[string]int{
			"wins": 3, "blockers": 3, "risks": 3, "open_loops": 5, "next_week_focus": 3,
		},
	},
	"quick_output": {
		Name:     "quick_output",
		Required: []string{"assessment", "avoided_decision", "bet_prediction", "bet_wrong_if"},
	},
	"micro_review": {
		Name:     "micro_review",
		Required: []string{"sentence"},
	},
	"vagueness_confirmation": {
		Name:     "vagueness_confirmation",
		Required: []string{"verdict"},
	},
	"setup_problem": {
		Name: "setup_problem",
		Required: []string{
			"name", "what_breaks", "scarcity_signals", "direction",
			"direction_rationale", "evidence_quotes", "time_allocation_pct",
		},
	},
	"quarterly_report": {
		Name:     "quarterly_report",
		Required: []string{"headline", "progress_summary", "next_bet_prediction", "next_bet_wrong_if"},
	},
}

// Validate parses raw as JSON and checks it against schema. A non-nil
// error is a plain error naming the first failed check; the caller
// (ai/adapter.go) counts these failures and returns a
// domain.SchemaFailure after the third one.
func (s Schema) Validate(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%s: not valid JSON: %w", s.Name, err)
	}

	for _, field := range s.Required {
		v, ok := doc[field]
		if !ok || v == nil {
			return nil, fmt.Errorf("%s: missing required field %q", s.Name, field)
		}
	}

	for field, max := range s.MaxListLen {
		v, ok := doc[field]
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: field %q must be an array", s.Name, field)
		}
		if len(list) > max {
			return nil, fmt.Errorf("%s: field %q has %d entries, max %d", s.Name, field, len(list), max)
		}
	}

	if s.MaxWords > 0 {
		words := countWords(doc)
		if words > s.MaxWords {
			return nil, fmt.Errorf("%s: %d words exceeds cap of %d", s.Name, words, s.MaxWords)
		}
	}

	return doc, nil
}

func countWords(doc map[string]any) int {
	total := 0
	for _, v := range doc {
		total += countWordsValue(v)
	}
	return total
}

func countWordsValue(v any) int {
	switch t := v.(type) {
	case string:
		return len(strings.Fields(t))
	case []any:
		n := 0
		for _, item := range t {
			n += countWordsValue(item)
		}
		return n
	case map[string]any:
		return countWords(t)
	default:
		return 0
	}
}
