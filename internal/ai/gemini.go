package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/kozaktomas/media-annotator/internal/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiDescriber uses the Gemini API.
type GeminiDescriber struct {
	usageCounter
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewGeminiDescriber needs an API key. A non-empty cfg.BaseURL overrides
// the API endpoint.
func NewGeminiDescriber(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiDescriber, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini backend requires an API key")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiDescriber{
		client:      client,
		model:       model,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}, nil
}

func (d *GeminiDescriber) Name() string  { return BackendGemini }
func (d *GeminiDescriber) Model() string { return d.model }

func (d *GeminiDescriber) Describe(ctx context.Context, req Request) (*Description, error) {
	return runDescribe(ctx, d, "gemini", req, d.logger)
}

func (d *GeminiDescriber) complete(ctx context.Context, prompt string, images []upload) (string, error) {
	parts := []*genai.Part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.data, MIMEType: img.mime}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(d.temperature),
	}

	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, config)
	if err != nil {
		return "", err
	}
	if result.UsageMetadata != nil {
		d.add(int(result.UsageMetadata.PromptTokenCount), int(result.UsageMetadata.CandidatesTokenCount))
	}

	content := result.Text()
	if content == "" {
		return "", errors.New("no response from Gemini")
	}
	return content, nil
}
