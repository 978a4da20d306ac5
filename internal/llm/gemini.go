package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
	Model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key missing")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiClient{client: c, Model: model}, nil
}

func (g *GeminiClient) Stream(ctx context.Context, r Request, onDelta func(string)) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if r.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(r.System, genai.RoleUser)
	}
	if r.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(r.MaxTokens)
	}
	if r.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var out strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.Model, geminiContents(r.Messages), cfg) {
		if err != nil {
			return "", fmt.Errorf("gemini: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		out.WriteString(text)
		if onDelta != nil {
			onDelta(text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini: empty completion")
	}
	return out.String(), nil
}

func geminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" || m.Role == genai.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return contents
}
