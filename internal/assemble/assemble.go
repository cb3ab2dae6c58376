// Package assemble packs heterogeneous content blocks into a fixed token
// budget with priority-based trimming.
package assemble

import (
	"sort"
	"strings"
)

// ContentBlock is one candidate section of the reasoning context.
type ContentBlock struct {
	Section   string
	Render    func() string
	Priority  float64
	MinTokens int
	MaxTokens int
}

// Section holds an included block's final text and token allocation.
type Section struct {
	Name      string
	Text      string
	Tokens    int
	Truncated bool
}

// AssembledContext is the result of packing blocks into a budget.
type AssembledContext struct {
	Sections    []Section
	TotalTokens int
	Budget      int
	Omitted     []string // sections dropped entirely, recorded for the reasoning step
}

// Assembler packs content blocks into a token budget. A fixed scratch slice
// is always reserved for the reasoning output and never allocated to input.
type Assembler struct {
	scratchTokens     int
	mandatoryPriority float64
}

// New creates an Assembler. Blocks with priority >= mandatoryPriority are
// never truncated below their MinTokens and never omitted while the budget
// covers their combined minimums.
func New(scratchTokens int, mandatoryPriority float64) *Assembler {
	return &Assembler{scratchTokens: scratchTokens, mandatoryPriority: mandatoryPriority}
}

// Assemble selects and truncates blocks by priority to fit budgetTokens.
// The sum of allocated tokens never exceeds budgetTokens minus the scratch
// reserve.
func (a *Assembler) Assemble(budgetTokens int, blocks []ContentBlock) AssembledContext {
	result := AssembledContext{Budget: budgetTokens}

	remaining := budgetTokens - a.scratchTokens
	if remaining < 0 {
		remaining = 0
	}

	ordered := make([]ContentBlock, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	// First pass: reserve minimums for mandatory blocks so lower-priority
	// content cannot starve them.
	reserved := 0
	for _, b := range ordered {
		if b.Priority >= a.mandatoryPriority {
			reserved += b.MinTokens
		}
	}

	for _, b := range ordered {
		mandatory := b.Priority >= a.mandatoryPriority
		if mandatory {
			reserved -= b.MinTokens
		}

		available := remaining - reserved
		if available <= 0 {
			if mandatory && remaining >= b.MinTokens {
				available = b.MinTokens
			} else {
				result.Omitted = append(result.Omitted, b.Section)
				continue
			}
		}

		text := b.Render()
		want := EstimateTokens(text)
		if b.MaxTokens > 0 && want > b.MaxTokens {
			want = b.MaxTokens
		}

		grant := want
		if grant > available {
			grant = available
		}
		if mandatory && grant < b.MinTokens {
			grant = b.MinTokens
			if grant > remaining {
				grant = remaining
			}
		}
		if grant <= 0 {
			result.Omitted = append(result.Omitted, b.Section)
			continue
		}

		truncated := false
		if EstimateTokens(text) > grant {
			text = TruncateToTokens(text, grant)
			truncated = true
		}
		tokens := EstimateTokens(text)
		if tokens > grant {
			tokens = grant
		}

		result.Sections = append(result.Sections, Section{
			Name:      b.Section,
			Text:      text,
			Tokens:    tokens,
			Truncated: truncated,
		})
		result.TotalTokens += tokens
		remaining -= tokens
	}

	return result
}

// Text renders the assembled context as a single prompt body, with a note
// naming any omitted sections so the reasoning step knows what it is missing.
func (c *AssembledContext) Text() string {
	var sb strings.Builder
	for i, s := range c.Sections {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		sb.WriteString("# ")
		sb.WriteString(s.Name)
		sb.WriteString("\n\n")
		sb.WriteString(s.Text)
	}
	if len(c.Omitted) > 0 {
		sb.WriteString("\n\n---\n\n[context omitted for budget: ")
		sb.WriteString(strings.Join(c.Omitted, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}
