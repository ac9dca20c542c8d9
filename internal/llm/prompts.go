package llm

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/key_phrases.txt
	keyPhrasesPrompt string
	//go:embed prompts/summary.txt
	summaryPrompt string
)

// Prompt kinds understood by SystemPrompt.
const (
	PromptKeyPhrases = "key_phrases"
	PromptSummary    = "summary"
)

// SystemPrompt returns the system instruction for the given kind and whether it was recognized.
func SystemPrompt(kind string) (string, bool) {
	switch kind {
	case PromptKeyPhrases:
		return strings.TrimSpace(keyPhrasesPrompt), true
	case PromptSummary:
		return strings.TrimSpace(summaryPrompt), true
	default:
		return "", false
	}
}
