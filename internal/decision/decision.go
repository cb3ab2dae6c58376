// Package decision turns raw reasoning output into validated decisions.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action classifies the response required by one reasoning cycle.
type Action string

const (
	ActionDelegate Action = "delegate"
	ActionObserve  Action = "observe"
	ActionReflect  Action = "reflect"
)

// Priority grades a decision's urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ErrParse is returned when raw output cannot be interpreted as a decision,
// even by the fallback extractor.
var ErrParse = errors.New("decision parse failed")

// Decision is the structured output of one reasoning cycle. Immutable.
type Decision struct {
	Action     Action         `json:"action_type"`
	Reasoning  string         `json:"reasoning"`
	Target     string         `json:"target,omitempty"`
	Command    string         `json:"command,omitempty"`
	Priority   Priority       `json:"priority"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Observe returns the fail-safe default decision. The system never guesses
// into a delegate action on ambiguous output.
func Observe(reason string) Decision {
	return Decision{
		Action:     ActionObserve,
		Reasoning:  reason,
		Priority:   PriorityLow,
		Confidence: 0,
	}
}

// Parse interprets raw model output. JSON (bare or inside a fenced block) is
// tried first; on failure the keyword fallback runs. The bool result reports
// whether the fallback path produced the decision.
func Parse(raw string) (Decision, bool, error) {
	if d, err := parseJSON(raw); err == nil {
		return d, false, nil
	}
	if d, ok := parseKeywords(raw); ok {
		return d, true, nil
	}
	return Decision{}, false, fmt.Errorf("%w: %q", ErrParse, snippet(raw))
}

func parseJSON(raw string) (Decision, error) {
	candidate := strings.TrimSpace(raw)

	// Models often wrap JSON in a fenced block or surround it with prose.
	if idx := strings.Index(candidate, "```"); idx >= 0 {
		rest := candidate[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate = rest[:end]
		}
	} else if start := strings.Index(candidate, "{"); start > 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			candidate = candidate[start : end+1]
		}
	}

	var d Decision
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &d); err != nil {
		return Decision{}, err
	}
	if err := validate(&d); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// parseKeywords is the bounded natural-language fallback. It feeds the same
// Decision type and never expands the schema.
func parseKeywords(raw string) (Decision, bool) {
	lower := strings.ToLower(raw)

	type rule struct {
		action   Action
		keywords []string
	}
	rules := []rule{
		{ActionDelegate, []string{"delegate", "dispatch", "hand off", "execute this", "run the task"}},
		{ActionReflect, []string{"reflect", "reconsider", "think more", "unsure", "uncertain"}},
		{ActionObserve, []string{"observe", "wait", "monitor", "watch", "no action", "nothing to do"}},
	}

	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return Decision{
					Action:     r.action,
					Reasoning:  snippet(raw),
					Priority:   PriorityLow,
					Confidence: 0.2,
					Metadata:   map[string]any{"fallback": true, "keyword": kw},
				}, true
			}
		}
	}
	return Decision{}, false
}

func validate(d *Decision) error {
	switch d.Action {
	case ActionDelegate, ActionObserve, ActionReflect:
	default:
		return fmt.Errorf("unknown action_type %q", d.Action)
	}
	switch d.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	case "":
		d.Priority = PriorityMedium
	default:
		return fmt.Errorf("unknown priority %q", d.Priority)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", d.Confidence)
	}
	return nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
