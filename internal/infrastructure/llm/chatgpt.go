package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"RiskScanner/internal/config"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/ports"
)

// ChatGPTClient implements generation and fallback classification backed by
// OpenAI-compatible APIs.
type ChatGPTClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

var (
	_ ports.Generator      = (*ChatGPTClient)(nil)
	_ ports.RiskClassifier = (*ChatGPTClient)(nil)
)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.ChatGPTConfig) (*ChatGPTClient, error) {
	if cfg.APIKey == "" || cfg.Endpoint == "" || cfg.Model == "" {
		return nil, fmt.Errorf("chatgpt client misconfigured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &ChatGPTClient{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
	}, nil
}

func (c *ChatGPTClient) ModelVersion() string { return "openai:" + c.model }

// Generate answers prompt. An empty systemPrompt falls back to the
// configured one.
func (c *ChatGPTClient) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = c.systemPrompt
	}
	text, err := c.complete(ctx, safePrompt(systemPrompt, summaryPrompt), prompt, nil)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", domain.Transient(fmt.Errorf("chatgpt returned an empty answer"))
	}
	return text, nil
}

// ClassifyRisk requests a JSON verdict for doc.
func (c *ChatGPTClient) ClassifyRisk(ctx context.Context, doc domain.RawDocument) (domain.RiskLabel, float64, error) {
	text, err := c.complete(ctx, classificationPrompt, documentPrompt(doc), &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	})
	if err != nil {
		return domain.UnknownLabel, 0, err
	}
	return parseVerdict(text)
}

func (c *ChatGPTClient) complete(ctx context.Context, system, user string, format *openai.ChatCompletionResponseFormat) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: format,
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chatgpt returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func openAIError(err error) error {
	wrapped := fmt.Errorf("chatgpt completion: %w", err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(wrapped, apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(wrapped, reqErr.HTTPStatusCode)
	}
	return transientStatus(wrapped, 0)
}
