package keyphrases

import (
	"context"
	"strings"
)

// SourceKeyword names the deterministic strategy.
const SourceKeyword = "keyword"

// KeywordStrategy emits one phrase per sentence-like segment that contains a
// vocabulary term. It never fails and may return an empty list.
type KeywordStrategy struct {
	Vocabulary *Vocabulary
}

func (KeywordStrategy) Name() string { return SourceKeyword }

func (k KeywordStrategy) Run(_ context.Context, text string) ([]string, error) {
	return ExtractKeywords(text, k.terms()), nil
}

func (k KeywordStrategy) terms() []string {
	if k.Vocabulary == nil {
		return DefaultTerms
	}
	return k.Vocabulary.Terms()
}

// ExtractKeywords splits text on periods (newlines become spaces) and keeps the
// first MaxPhraseChars runes of every segment mentioning one of terms.
func ExtractKeywords(text string, terms []string) []string {
	phrases := []string{}
	if strings.TrimSpace(text) == "" {
		return phrases
	}
	seen := make(map[string]struct{})
	for _, segment := range strings.Split(strings.ReplaceAll(text, "\n", " "), ".") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		lower := strings.ToLower(segment)
		for _, term := range terms {
			if !strings.Contains(lower, term) {
				continue
			}
			phrase := truncateRunes(segment, MaxPhraseChars)
			if _, dup := seen[phrase]; phrase != "" && !dup {
				seen[phrase] = struct{}{}
				phrases = append(phrases, phrase)
			}
			break
		}
		if len(phrases) == MaxPhrases {
			break
		}
	}
	return phrases
}
