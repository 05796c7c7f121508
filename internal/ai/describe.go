package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/media"
)

// MaxAttempts bounds the request-and-repair loop.
const MaxAttempts = constants.DescribeAttempts

type upload struct {
	data []byte
	mime string
}

// chatBackend sends one prompt with images and returns the raw reply text.
type chatBackend interface {
	complete(ctx context.Context, prompt string, images []upload) (string, error)
}

func loadUploads(paths []string) ([]upload, error) {
	uploads := make([]upload, 0, len(paths))
	for _, p := range paths {
		data, mime, err := media.LoadForUpload(p, constants.MaxImageSize)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload{data: data, mime: mime})
	}
	return uploads, nil
}

// runDescribe drives a backend through up to MaxAttempts requests. Output
// that fails validation is sent back with a repair prompt; transport errors
// end the loop at once.
func runDescribe(ctx context.Context, backend chatBackend, name string, req Request, logger *zap.Logger) (*Description, error) {
	if len(req.Images) == 0 {
		return nil, errors.New("no images to describe")
	}
	images, err := loadUploads(req.Images)
	if err != nil {
		return nil, fmt.Errorf("loading images: %w", err)
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		content, err := backend.complete(ctx, prompt, images)
		if err != nil {
			return nil, fmt.Errorf("%s API error: %w", name, err)
		}
		desc, err := ParseDescription(content)
		if err == nil {
			return desc, nil
		}
		lastErr = err
		logger.Warn("describer returned invalid output",
			zap.String("backend", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		prompt = RepairPrompt(err, content)
	}
	return nil, fmt.Errorf("LLM failed to return valid JSON: %w", lastErr)
}
