package gateway

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ashita-ai/brain/internal/model"
)

// GeminiOpenAIBaseURL is Google's OpenAI-compatible endpoint for Gemini.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIConfig configures an OpenAI chat-completions provider.
type OpenAIConfig struct {
	Name        string
	APIKey      string
	Model       string
	BaseURL     string // empty for api.openai.com
	MaxTokens   int64
	Temperature float64
	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens, for
	// OpenAI-compatible servers that predate the newer field.
	LegacyMaxTokens bool
}

// OpenAIProvider calls an OpenAI-compatible chat-completions API.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates a provider. SDK-level retries are disabled: a failed
// call is reported once and never silently re-issued.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), cfg: cfg}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.cfg.Name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, system, user string) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(p.cfg.Temperature),
	}
	if p.cfg.LegacyMaxTokens {
		params.MaxTokens = openai.Int(p.cfg.MaxTokens)
	} else {
		params.MaxCompletionTokens = openai.Int(p.cfg.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("%s: chat completion: %w", p.cfg.Name, err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, nil
	}

	out := Completion{Text: resp.Choices[0].Message.Content}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		out.Usage = &model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		}
	}
	return out, nil
}
