package assemble

// Token accounting uses the common chars/4 heuristic. It overcounts dense
// prose and undercounts code slightly, which is acceptable because the
// budget always keeps a scratch reserve.

const charsPerToken = 4

// EstimateTokens returns the approximate token count of text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateToTokens cuts text down to approximately maxTokens, preferring to
// break at a line boundary near the limit.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := lastNewline(cut); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
