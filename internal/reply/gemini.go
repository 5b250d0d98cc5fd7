package reply

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"

	geminiTemperature = 0.9
	geminiTopP        = 1
	geminiTopK        = 1
	geminiMaxTokens   = 2048
)

// Interface compliance check.
var _ Adapter = (*GeminiAdapter)(nil)

// GeminiAdapter produces replies with the Google Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	return &GeminiAdapter{client: gc, model: model}, nil
}

func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := a.client.Models.GenerateContent(ctx, a.model, ConvertHistory(req.History, req.Text), BuildConfig(req.SystemPrompt))
	if err != nil {
		return Response{}, fmt.Errorf("gemini: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Response{}, ErrEmptyReply
	}
	return Response{Text: text}, nil
}

// ConvertHistory converts prior messages plus the new user text to genai
// contents. Exported for testing.
func ConvertHistory(history []Message, text string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(text, genai.RoleUser))
}

// BuildConfig returns the generation settings used for every reply.
// Exported for testing.
func BuildConfig(systemPrompt string) *genai.GenerateContentConfig {
	temp := float32(geminiTemperature)
	topP := float32(geminiTopP)
	topK := float32(geminiTopK)
	config := &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopP:            &topP,
		TopK:            &topK,
		MaxOutputTokens: geminiMaxTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	return config
}
