package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fiskal-io/regstream/internal/config"
)

// OpenAIPort implements Port against the OpenAI chat completions API (or a
// compatible endpoint via base_url).
type OpenAIPort struct {
	client *openai.Client
	cfg    config.LLMConfig
}

// NewOpenAIPort creates the provider from configuration.
func NewOpenAIPort(cfg config.LLMConfig) (*OpenAIPort, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIPort{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIPort) Name() string { return "openai" }

// CompleteJSON runs one structured completion and returns the JSON document
// the model produced.
func (p *OpenAIPort) CompleteJSON(ctx context.Context, req Request) (json.RawMessage, error) {
	model := p.cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	callCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", req.Task, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm %s: empty response", req.Task)
	}

	return extractJSON(strings.TrimSpace(resp.Choices[0].Message.Content))
}

// NewPort builds the configured provider.
func NewPort(cfg config.LLMConfig) (Port, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIPort(cfg)
	case "stub":
		return NewStubPort(nil), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q (supported: openai, stub)", cfg.Provider)
	}
}
