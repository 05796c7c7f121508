package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
)

// ErrNoFrames reports that none of a non-empty sample plan could be extracted.
var ErrNoFrames = errors.New("no frames extracted")

// SamplePlan returns the frame timestamps, in milliseconds, to extract from
// a video of the given duration in seconds. Frames are taken every 1/rate
// seconds (never closer than 0.1 s) up to maxFrames. Short videos that would
// yield fewer than minFrames are instead split into minFrames even steps.
func SamplePlan(duration, rate float64, minFrames, maxFrames int) []int64 {
	if duration <= 0 || rate <= 0 {
		return nil
	}
	interval := max(1/rate, 0.1)
	var times []int64
	for t := 0.0; t < duration && len(times) < maxFrames; t += interval {
		times = append(times, int64(t*1000))
	}
	if len(times) < minFrames {
		step := max(duration/float64(minFrames), 0.1)
		times = times[:0]
		for i := range minFrames {
			if float64(i)*step >= duration {
				break
			}
			times = append(times, int64(float64(i)*step*1000))
		}
	}
	return times
}

// Frame is an extracted still and the video time it was taken at.
type Frame struct {
	Path string
	MS   int64
}

// ExtractFrame writes the frame at atMS of video to out.
func (t *Tools) ExtractFrame(ctx context.Context, video string, atMS int64, out string) error {
	seconds := strconv.FormatFloat(float64(atMS)/1000, 'f', -1, 64)
	_, err := t.runner.Run(ctx, t.Ffmpeg, "-y", "-ss", seconds, "-i", video, "-frames:v", "1", out)
	return err
}

// ExtractFrames extracts every timestamp of plan into dir using name as a
// printf pattern for the frame index. Frames already on disk are reused.
// Timestamps ffmpeg cannot produce are logged and skipped, so the result can
// be shorter than plan. When plan is non-empty and not a single frame was
// produced the error wraps ErrNoFrames and the last ffmpeg failure.
func (t *Tools) ExtractFrames(ctx context.Context, video, dir, name string, plan []int64) ([]Frame, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame cache %s: %w", dir, err)
	}
	logger := logging.OrNop(t.Logger)
	var frames []Frame
	var lastErr error
	for i, ms := range plan {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		out := filepath.Join(dir, fmt.Sprintf(name, i))
		if _, err := os.Stat(out); err == nil {
			frames = append(frames, Frame{Path: out, MS: ms})
			continue
		}
		err := t.ExtractFrame(ctx, video, ms, out)
		if err == nil {
			if _, err = os.Stat(out); err != nil {
				err = fmt.Errorf("ffmpeg wrote no frame: %w", err)
			}
		}
		if err != nil {
			// A half-written frame must not be picked up as cached next time.
			_ = os.Remove(out)
			logger.Warn("skipping video frame",
				zap.String("path", video),
				zap.Int64("at_ms", ms),
				zap.Error(err))
			lastErr = err
			continue
		}
		frames = append(frames, Frame{Path: out, MS: ms})
	}
	if len(plan) > 0 && len(frames) == 0 {
		return nil, fmt.Errorf("%w from %s: %w", ErrNoFrames, video, lastErr)
	}
	return frames, nil
}

// FaceFrameDir is the cache directory for face-detection frames of video.
// The content hash is part of the name so an edited video never reuses
// frames cut from its previous version.
func FaceFrameDir(cacheDir, video, hash string) string {
	return filepath.Join(cacheDir, frameKey(video, hash))
}

// DescribeFrameDir is the cache directory for description frames of video.
func DescribeFrameDir(cacheDir, video, hash string) string {
	return filepath.Join(cacheDir, "llm_"+frameKey(video, hash))
}

func frameKey(video, hash string) string {
	if hash == "" {
		return stem(video)
	}
	return stem(video) + "_" + hash
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
