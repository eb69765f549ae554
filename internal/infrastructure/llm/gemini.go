package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"RiskScanner/internal/config"
	"RiskScanner/internal/domain"
	"RiskScanner/internal/ports"
)

// GeminiClient backs generation, fallback classification and embeddings
// with the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
}

var (
	_ ports.Generator      = (*GeminiClient)(nil)
	_ ports.RiskClassifier = (*GeminiClient)(nil)
	_ ports.Embedder       = (*GeminiClient)(nil)
)

// NewGeminiClient builds a client from configuration.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GeminiClient{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        timeout,
	}, nil
}

func (g *GeminiClient) ModelVersion() string { return "gemini:" + g.model }

func (g *GeminiClient) ModelName() string { return "gemini:" + g.embeddingModel }

// Generate answers prompt under systemPrompt.
func (g *GeminiClient) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(safePrompt(systemPrompt, summaryPrompt), genai.RoleUser),
	})
	if err != nil {
		return "", geminiError("generate", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", domain.Transient(fmt.Errorf("gemini returned an empty answer"))
	}
	return text, nil
}

// ClassifyRisk asks for a JSON verdict constrained by a response schema.
func (g *GeminiClient) ClassifyRisk(ctx context.Context, doc domain.RawDocument) (domain.RiskLabel, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var temperature float32
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(documentPrompt(doc)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(classificationPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    verdictSchema(),
		Temperature:       &temperature,
	})
	if err != nil {
		return domain.UnknownLabel, 0, geminiError("classify", err)
	}
	return parseVerdict(resp.Text())
}

// Embed returns the embedding of text.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, geminiError("embed", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return resp.Embeddings[0].Values, nil
}

func verdictSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"label": {
				Type:        genai.TypeString,
				Description: "Risk label formatted as <Severity>-<Category>, e.g. High-Legal",
			},
			"confidence": {
				Type:        genai.TypeNumber,
				Description: "Confidence between 0 and 1",
			},
			"reason": {
				Type:        genai.TypeString,
				Description: "One sentence justification",
			},
		},
		Required: []string{"label", "confidence"},
	}
}

func geminiError(op string, err error) error {
	wrapped := fmt.Errorf("gemini %s: %w", op, err)
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(wrapped, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return transientStatus(wrapped, apiErrPtr.Code)
	}
	return transientStatus(wrapped, 0)
}
