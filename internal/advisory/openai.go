package advisory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/sashabaranov/go-openai"

	"otdops/internal/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// FromConfig builds the service described by cfg. A missing API key disables the
// service instead of failing startup.
func FromConfig(cfg config.Advisory, logger hclog.Logger) *Service {
	switch cfg.Provider {
	case "", "none":
		return Disabled("advisory provider not configured", logger)
	case "openai":
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return Disabled(fmt.Sprintf("%s is not set", cfg.APIKeyEnv), logger)
		}
		return NewService(NewOpenAI(key, cfg.BaseURL, cfg.Model), cfg.Model, cfg.Timeout, logger)
	default:
		return Disabled(fmt.Sprintf("unknown advisory provider %q", cfg.Provider), logger)
	}
}
