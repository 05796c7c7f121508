package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/ai"
	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/media"
	"github.com/kozaktomas/media-annotator/internal/sidecar"
)

const (
	describeFramePattern = "frame_%03d.jpg"
	unknownLocation      = "Location unknown"
)

// Document is the description written to the .json sidecar and stored as
// the item's meta_json.
type Document struct {
	OriginalPath          string      `json:"original_path"`
	Hash                  string      `json:"hash"`
	CaptureDatetime       *string     `json:"capture_datetime"`
	LocationText          string      `json:"location_text"`
	DetectedPersons       []ai.Person `json:"detected_persons"`
	LLMBackend            string      `json:"llm_backend"`
	LLMModel              string      `json:"llm_model"`
	Summary               string      `json:"summary"`
	Description           string      `json:"description"`
	Tags                  []string    `json:"tags"`
	SuggestedFilenameBase string      `json:"suggested_filename_base"`
	PipelineVersion       string      `json:"pipeline_version"`
}

// Describe generates descriptions and sidecars for every catalogued item
// under root that has not reached llm_done.
func (r *Runner) Describe(ctx context.Context, root string) ([]Result, error) {
	if r.describer == nil {
		return nil, errors.New("describe stage needs a describer")
	}
	return r.eachItem(ctx, root, StageDescribe, database.StatusLLMDone, r.describe)
}

func (r *Runner) describe(ctx context.Context, item *database.MediaItem) error {
	people, err := r.people(ctx, item.ID)
	if err != nil {
		return err
	}

	req := ai.Request{
		MediaType:    item.Kind,
		LocationText: unknownLocation,
		People:       people,
	}
	var rawMeta string
	if item.Kind == constants.KindVideo {
		rawMeta, err = r.videoRequest(ctx, item, &req)
	} else {
		rawMeta, err = r.imageRequest(ctx, item, &req)
	}
	if err != nil {
		return err
	}

	desc, err := r.describer.Describe(ctx, req)
	if err != nil {
		return err
	}

	doc := Document{
		OriginalPath:          item.Path,
		Hash:                  item.Hash,
		LocationText:          req.LocationText,
		DetectedPersons:       people,
		LLMBackend:            r.describer.Name(),
		LLMModel:              r.describer.Model(),
		Summary:               desc.Summary,
		Description:           desc.Description,
		Tags:                  desc.Tags,
		SuggestedFilenameBase: desc.SuggestedFilenameBase,
		PipelineVersion:       r.opts.Version,
	}
	if req.CaptureDatetime != "" {
		doc.CaptureDatetime = &req.CaptureDatetime
	}

	if !r.opts.SkipSidecars {
		if err := sidecar.WriteText(sidecar.TextPath(item.Path), desc.Description); err != nil {
			return fmt.Errorf("write text sidecar: %w", err)
		}
		if err := sidecar.WriteJSON(sidecar.JSONPath(item.Path), doc); err != nil {
			return fmt.Errorf("write json sidecar: %w", err)
		}
	}

	meta, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode description: %w", err)
	}
	if err := r.store.SetMeta(ctx, item.ID, rawMeta, string(meta)); err != nil {
		return fmt.Errorf("store description: %w", err)
	}
	item.ExifJSON = rawMeta
	item.MetaJSON = string(meta)

	r.logger.Info("description generated",
		zap.String("path", item.Path),
		zap.String("backend", doc.LLMBackend),
		zap.Int("people", len(people)))
	return nil
}

// people lists the identities seen in an item, most frequent first.
func (r *Runner) people(ctx context.Context, mediaID int64) ([]ai.Person, error) {
	persons, err := r.store.ListMediaPersons(ctx, mediaID)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	out := make([]ai.Person, 0, len(persons))
	for _, mp := range persons {
		out = append(out, ai.Person{Name: mp.Person.Label(), Count: mp.Count, Notes: mp.Person.Notes})
	}
	return out, nil
}

func (r *Runner) imageRequest(ctx context.Context, item *database.MediaItem, req *ai.Request) (string, error) {
	exif, raw, err := r.tools.Exif(ctx, item.Path)
	if err != nil {
		return "", err
	}
	req.Metadata = exif
	req.CaptureDatetime = media.ImageCaptureTime(exif)
	req.LocationText = media.LocationText(exif)
	req.Images = []string{item.Path}
	return raw, nil
}

func (r *Runner) videoRequest(ctx context.Context, item *database.MediaItem, req *ai.Request) (string, error) {
	probe, err := r.tools.Probe(ctx, item.Path)
	if err != nil {
		return "", err
	}
	meta := map[string]any{}
	if probe.Raw != "" {
		if err := json.Unmarshal([]byte(probe.Raw), &meta); err != nil {
			return "", fmt.Errorf("parse probe output: %w", err)
		}
	}
	req.Metadata = meta
	req.CaptureDatetime = media.VideoCaptureTime(probe)

	plan := media.SamplePlan(probe.Duration(), constants.DescribeSampleRate, constants.DescribeMinFrames, constants.DescribeMaxFrames)
	dir := media.DescribeFrameDir(r.opts.CacheDir, item.Path, item.Hash)
	frames, err := r.tools.ExtractFrames(ctx, item.Path, dir, describeFramePattern, plan)
	if err != nil && !errors.Is(err, media.ErrNoFrames) {
		return "", err
	}
	for _, f := range frames {
		req.Images = append(req.Images, f.Path)
	}
	if len(req.Images) == 0 {
		r.logger.Warn("no frames extracted, sending the video itself", zap.String("path", item.Path))
		req.Images = []string{item.Path}
	}
	return probe.Raw, nil
}
