// Package gemini adapts Google's generative AI SDK to llm.Client.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"medreport-backend/internal/llm"
)

const defaultModel = "gemini-1.5-flash"

type Client struct {
	client    *genai.Client
	modelName string
}

// NewClient dials the Gemini API. With an empty key it returns llm.ErrNotConfigured.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, llm.ErrNotConfigured
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultModel
	}
	return &Client{client: cl, modelName: modelName}, nil
}

func (g *Client) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *Client) Name() string { return "gemini" }

func (g *Client) IsConfigured() bool { return g.client != nil }

func (g *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.client == nil {
		return "", llm.ErrNotConfigured
	}
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(joinText(resp))
	if text == "" {
		return "", fmt.Errorf("gemini response empty content")
	}
	return text, nil
}

func joinText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ llm.Client = (*Client)(nil)
