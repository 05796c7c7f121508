// Package ai turns media files and their context into structured
// descriptions using a vision-capable language model.
package ai

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/config"
)

// Backend names accepted by New.
const (
	BackendLocal    = "local"
	BackendOllama   = "ollama"
	BackendLMStudio = "lmstudio"
	BackendGemini   = "gemini"
)

// Person is one entry of the people context sent with a request.
type Person struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Notes string `json:"notes"`
}

// Request holds everything a describer needs for one media item.
type Request struct {
	MediaType       string // image or video
	CaptureDatetime string // empty when unknown
	LocationText    string
	People          []Person
	Metadata        map[string]any
	Images          []string // files to upload, frames for a video
}

// Description is the validated model output.
type Description struct {
	Summary               string   `json:"summary"`
	Description           string   `json:"description"`
	Tags                  []string `json:"tags"`
	SuggestedFilenameBase string   `json:"suggested_filename_base"`
	KeyPeople             []string `json:"key_people"`
	KeyObjects            []string `json:"key_objects"`
	KeyActions            []string `json:"key_actions"`
	Confidence            *float64 `json:"confidence,omitempty"`
}

// Describer produces a Description for a media item.
type Describer interface {
	Name() string
	Model() string
	Describe(ctx context.Context, req Request) (*Description, error)
	Usage() Usage
}

// Pinger is implemented by describers whose endpoint can be checked
// without spending a generation.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Usage tracks token counts reported by the backend.
type Usage struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

type usageCounter struct {
	mu    sync.Mutex
	usage Usage
}

func (u *usageCounter) add(input, output int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.Requests++
	u.usage.InputTokens += input
	u.usage.OutputTokens += output
}

// Usage returns the accumulated counters.
func (u *usageCounter) Usage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

// New selects the describer for cfg.Backend.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Describer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaDescriber(cfg, logger), nil
	case BackendLocal:
		return NewLlamaCppDescriber(cfg, logger)
	case BackendLMStudio:
		return NewLMStudioDescriber(cfg, logger)
	case BackendGemini:
		return NewGeminiDescriber(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM backend %q", cfg.Backend)
	}
}
