package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/config"
)

const defaultLlamaCppURL = "http://localhost:8080"

// LlamaCppDescriber uses a local llama.cpp server through its
// OpenAI-compatible endpoint.
type LlamaCppDescriber struct {
	usageCounter
	parsedURL   *url.URL
	model       string
	temperature float64
	client      *http.Client
	logger      *zap.Logger
}

// NewLlamaCppDescriber validates the server URL and creates the describer.
func NewLlamaCppDescriber(cfg config.LLMConfig, logger *zap.Logger) (*LlamaCppDescriber, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LlamaCppDescriber{
		parsedURL:   parsed,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}, nil
}

func (d *LlamaCppDescriber) Name() string  { return BackendLocal }
func (d *LlamaCppDescriber) Model() string { return d.model }

func (d *LlamaCppDescriber) Describe(ctx context.Context, req Request) (*Description, error) {
	return runDescribe(ctx, d, "llama.cpp", req, d.logger)
}

type llamaCppRequest struct {
	Model       string            `json:"model"`
	Messages    []llamaCppMessage `json:"messages"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string                `json:"role"`
	Content []llamaCppContentPart `json:"content"`
}

type llamaCppContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *llamaCppImageURL `json:"image_url,omitempty"`
}

type llamaCppImageURL struct {
	URL string `json:"url"`
}

type llamaCppResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// dataURI embeds an upload in an image_url content part.
func dataURI(img upload) string {
	return "data:" + img.mime + ";base64," + base64.StdEncoding.EncodeToString(img.data)
}

func (d *LlamaCppDescriber) complete(ctx context.Context, prompt string, images []upload) (string, error) {
	parts := []llamaCppContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, llamaCppContentPart{
			Type:     "image_url",
			ImageURL: &llamaCppImageURL{URL: dataURI(img)},
		})
	}

	reqBody := llamaCppRequest{
		Model:       d.model,
		Messages:    []llamaCppMessage{{Role: "user", Content: parts}},
		Temperature: d.temperature,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	reqURL := d.parsedURL.JoinPath("/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var llamaResp llamaCppResponse
	if err := json.Unmarshal(body, &llamaResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	d.add(llamaResp.Usage.PromptTokens, llamaResp.Usage.CompletionTokens)

	if len(llamaResp.Choices) == 0 {
		return "", errors.New("no response from llama.cpp")
	}
	return llamaResp.Choices[0].Message.Content, nil
}

func (d *LlamaCppDescriber) Ping(ctx context.Context) error {
	return pingGET(ctx, d.client, d.parsedURL.JoinPath("/health").String())
}

func pingGET(ctx context.Context, client *http.Client, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}
	return nil
}
