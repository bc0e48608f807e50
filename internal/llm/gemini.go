package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig credentials the Google provider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiProvider completes prompts against the Gemini API.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGeminiProvider builds the provider. Returns (nil, nil) when no API key
// is configured so the chain can skip it.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}
	return &GeminiProvider{cfg: cfg, client: client}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Complete implements Provider.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}

	var out strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.WriteString(part.Text)
			}
		}
		if out.Len() > 0 {
			break
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text content")
	}
	return out.String(), nil
}
