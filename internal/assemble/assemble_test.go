package assemble

import (
	"strings"
	"testing"
)

func staticBlock(name string, priority float64, text string) ContentBlock {
	return ContentBlock{
		Section:  name,
		Priority: priority,
		Render:   func() string { return text },
	}
}

func TestBudgetNeverExceeded(t *testing.T) {
	a := New(100, 90)
	blocks := []ContentBlock{
		staticBlock("a", 50, strings.Repeat("x", 4000)),
		staticBlock("b", 40, strings.Repeat("y", 4000)),
		staticBlock("c", 30, strings.Repeat("z", 4000)),
	}

	result := a.Assemble(500, blocks)
	if result.TotalTokens > 500-100 {
		t.Fatalf("allocated %d tokens, budget minus scratch is %d", result.TotalTokens, 400)
	}
}

func TestPriorityOrderWins(t *testing.T) {
	a := New(0, 90)
	blocks := []ContentBlock{
		staticBlock("low", 10, strings.Repeat("l", 2000)),
		staticBlock("high", 80, strings.Repeat("h", 2000)),
	}

	result := a.Assemble(500, blocks)
	if len(result.Sections) == 0 || result.Sections[0].Name != "high" {
		t.Fatalf("high-priority section not packed first: %+v", result.Sections)
	}
}

func TestMandatoryMinimumReserved(t *testing.T) {
	a := New(0, 90)
	blocks := []ContentBlock{
		staticBlock("filler", 50, strings.Repeat("f", 8000)),
		{
			Section:   "critical",
			Priority:  95,
			Render:    func() string { return strings.Repeat("c", 8000) },
			MinTokens: 100,
		},
	}

	result := a.Assemble(300, blocks)
	var got int
	for _, s := range result.Sections {
		if s.Name == "critical" {
			got = s.Tokens
		}
	}
	if got < 100 {
		t.Fatalf("mandatory section got %d tokens, minimum is 100", got)
	}
}

func TestOmittedSectionsRecorded(t *testing.T) {
	a := New(0, 90)
	blocks := []ContentBlock{
		staticBlock("first", 80, strings.Repeat("a", 4000)),
		staticBlock("second", 10, strings.Repeat("b", 4000)),
	}

	result := a.Assemble(200, blocks)
	found := false
	for _, name := range result.Omitted {
		if name == "second" {
			found = true
		}
	}
	if !found {
		t.Fatalf("dropped section not recorded in Omitted: %v", result.Omitted)
	}
	if !strings.Contains(result.Text(), "context omitted for budget") {
		t.Error("omission note missing from rendered text")
	}
}

func TestMaxTokensCapsGreedyBlocks(t *testing.T) {
	a := New(0, 90)
	blocks := []ContentBlock{
		{
			Section:   "capped",
			Priority:  80,
			Render:    func() string { return strings.Repeat("x", 8000) },
			MaxTokens: 50,
		},
		staticBlock("next", 40, strings.Repeat("y", 400)),
	}

	result := a.Assemble(1000, blocks)
	if result.Sections[0].Tokens > 50 {
		t.Fatalf("capped block got %d tokens", result.Sections[0].Tokens)
	}
	if len(result.Sections) != 2 {
		t.Error("cap should leave budget for the next block")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestTruncatePrefersNewline(t *testing.T) {
	text := strings.Repeat("line one\n", 100)
	out := TruncateToTokens(text, 50)
	if EstimateTokens(out) > 50 {
		t.Fatalf("truncated text still %d tokens", EstimateTokens(out))
	}
	if !strings.HasSuffix(out, "line one") {
		t.Errorf("expected break at a line boundary, got %q", out[len(out)-12:])
	}
}
