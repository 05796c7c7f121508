package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/media"
)

const faceFramePattern = "frame_%04d.jpg"

// Faces detects and resolves faces for every catalogued item under root
// that has not reached faces_done.
func (r *Runner) Faces(ctx context.Context, root string) ([]Result, error) {
	if r.detector == nil || r.faces == nil {
		return nil, errors.New("faces stage needs a detector and a resolver")
	}
	return r.eachItem(ctx, root, StageFaces, database.StatusFacesDone, r.detectFaces)
}

func (r *Runner) detectFaces(ctx context.Context, item *database.MediaItem) error {
	if item.Kind == constants.KindVideo {
		return r.detectVideoFaces(ctx, item)
	}
	faces, err := r.detector.DetectFile(ctx, item.Path)
	if err != nil {
		return err
	}
	if _, err := r.faces.RecordFaces(ctx, item, faces, nil); err != nil {
		return err
	}
	r.logger.Info("faces processed", zap.String("path", item.Path), zap.Int("faces", len(faces)))
	return nil
}

func (r *Runner) detectVideoFaces(ctx context.Context, item *database.MediaItem) error {
	probe, err := r.tools.Probe(ctx, item.Path)
	if err != nil {
		return err
	}
	plan := media.SamplePlan(probe.Duration(), r.opts.VideoSampleRate, r.opts.VideoMinFrames, r.opts.VideoMaxFrames)
	dir := media.FaceFrameDir(r.opts.CacheDir, item.Path, item.Hash)
	frames, err := r.tools.ExtractFrames(ctx, item.Path, dir, faceFramePattern, plan)
	if err != nil {
		return err
	}
	if len(plan) > 0 && len(frames) == 0 {
		return fmt.Errorf("%w from %s", media.ErrNoFrames, item.Path)
	}

	total := 0
	for _, frame := range frames {
		faces, err := r.detector.DetectFile(ctx, frame.Path)
		if err != nil {
			return fmt.Errorf("frame at %dms: %w", frame.MS, err)
		}
		ms := frame.MS
		if _, err := r.faces.RecordFaces(ctx, item, faces, &ms); err != nil {
			return err
		}
		total += len(faces)
	}
	r.logger.Info("faces processed",
		zap.String("path", item.Path),
		zap.Int("frames", len(frames)),
		zap.Int("faces", total))
	return nil
}

// Detector returns the faces found in an image file.
type Detector interface {
	DetectFile(ctx context.Context, path string) ([]facematch.DetectedFace, error)
}

// FaceRecorder resolves detected faces to identities and stores them.
type FaceRecorder interface {
	RecordFaces(ctx context.Context, item *database.MediaItem, faces []facematch.DetectedFace, frameMS *int64) ([]facematch.Resolution, error)
}
