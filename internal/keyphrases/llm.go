package keyphrases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"medreport-backend/internal/enrich"
	"medreport-backend/internal/llm"
)

// SourceLLM names the model-backed strategy.
const SourceLLM = "llm"

// DefaultMaxInputChars bounds the text prefix sent to the model.
const DefaultMaxInputChars = 2000

// ErrInvalidResponse means the model answered with something other than a JSON array of strings.
var ErrInvalidResponse = errors.New("key phrase response is not a JSON array of strings")

const responseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {"type": "string"}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func phraseSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("keyphrases.json", bytes.NewReader([]byte(responseSchema))); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("keyphrases.json")
	})
	return compiledSchema, schemaErr
}

// LLMStrategy asks the model for a JSON array of findings.
type LLMStrategy struct {
	Client        llm.Client
	MaxInputChars int
}

func (LLMStrategy) Name() string { return SourceLLM }

func (s LLMStrategy) Run(ctx context.Context, text string) ([]string, error) {
	if !llm.IsConfigured(s.Client) {
		return nil, llm.ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, enrich.ErrNoResult
	}
	limit := s.MaxInputChars
	if limit <= 0 {
		limit = DefaultMaxInputChars
	}
	system, _ := llm.SystemPrompt(llm.PromptKeyPhrases)
	raw, err := s.Client.Complete(ctx, system, truncateRunes(text, limit))
	if err != nil {
		return nil, err
	}
	phrases, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if len(phrases) == 0 {
		return nil, enrich.ErrNoResult
	}
	return phrases, nil
}

// ParseResponse validates raw as a JSON array of strings and normalizes it.
// A surrounding markdown code fence is tolerated.
func ParseResponse(raw string) ([]string, error) {
	body := stripCodeFence(raw)
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	schema, err := phraseSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	items := v.([]any)
	phrases := make([]string, 0, len(items))
	for _, item := range items {
		phrases = append(phrases, item.(string))
	}
	return Normalize(phrases), nil
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
