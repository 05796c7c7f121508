package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaDescriber talks to the Ollama chat API.
type OllamaDescriber struct {
	usageCounter
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	logger      *zap.Logger
}

func NewOllamaDescriber(cfg config.LLMConfig, logger *zap.Logger) *OllamaDescriber {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaDescriber{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

func (d *OllamaDescriber) Name() string  { return BackendOllama }
func (d *OllamaDescriber) Model() string { return d.model }

func (d *OllamaDescriber) Describe(ctx context.Context, req Request) (*Description, error) {
	return runDescribe(ctx, d, BackendOllama, req, d.logger)
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64 encoded
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (d *OllamaDescriber) complete(ctx context.Context, prompt string, images []upload) (string, error) {
	encoded := make([]string, len(images))
	for i, img := range images {
		encoded[i] = base64.StdEncoding.EncodeToString(img.data)
	}

	reqBody := ollamaRequest{
		Model: d.model,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt, Images: encoded},
		},
		Stream:  false,
		Format:  "json",
		Options: ollamaOptions{Temperature: d.temperature},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/chat", bytes.NewReader(jsonBody))
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

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	d.add(ollamaResp.PromptEvalCount, ollamaResp.EvalCount)

	return ollamaResp.Message.Content, nil
}

// Ping lists the installed models, which also proves the server is Ollama.
func (d *OllamaDescriber) Ping(ctx context.Context) error {
	return pingGET(ctx, d.client, d.baseURL+"/api/tags")
}
