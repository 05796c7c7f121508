package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/config"
)

// LM Studio ignores the key but the client insists on one.
const lmStudioAPIKey = "lmstudio"

// LMStudioDescriber talks to an LM Studio server through the OpenAI client.
type LMStudioDescriber struct {
	usageCounter
	client      *openai.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

// NewLMStudioDescriber requires cfg.BaseURL, e.g. http://localhost:1234/v1.
func NewLMStudioDescriber(cfg config.LLMConfig, logger *zap.Logger) (*LMStudioDescriber, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("lmstudio backend requires a base URL")
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = lmStudioAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &LMStudioDescriber{
		client:      &client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (d *LMStudioDescriber) Name() string  { return BackendLMStudio }
func (d *LMStudioDescriber) Model() string { return d.model }

func (d *LMStudioDescriber) Describe(ctx context.Context, req Request) (*Description, error) {
	return runDescribe(ctx, d, "LM Studio", req, d.logger)
}

func (d *LMStudioDescriber) complete(ctx context.Context, prompt string, images []upload) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt)}
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: dataURI(img),
		}))
	}

	resp, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: parts,
					},
				},
			},
		},
		Temperature: openai.Float(d.temperature),
	})
	if err != nil {
		return "", err
	}
	d.add(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return "", errors.New("no response from LM Studio")
	}
	return resp.Choices[0].Message.Content, nil
}

func (d *LMStudioDescriber) Ping(ctx context.Context) error {
	if _, err := d.client.Models.List(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
