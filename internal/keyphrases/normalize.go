package keyphrases

import "strings"

const (
	// MaxPhrases caps every extractor's output.
	MaxPhrases = 10
	// MaxPhraseChars caps a single phrase, counted in runes.
	MaxPhraseChars = 100
)

// Normalize collapses whitespace, truncates each phrase, drops empties and
// exact duplicates, and caps the list at MaxPhrases. Order is preserved.
func Normalize(phrases []string) []string {
	out := make([]string, 0, min(len(phrases), MaxPhrases))
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = truncateRunes(strings.Join(strings.Fields(p), " "), MaxPhraseChars)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if len(out) == MaxPhrases {
			break
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}
