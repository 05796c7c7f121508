package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Exif returns the first record of `exiftool -j -n` for path, together with
// the raw JSON. Numeric values stay numeric.
func (t *Tools) Exif(ctx context.Context, path string) (map[string]any, string, error) {
	out, err := t.runner.Run(ctx, t.Exiftool, "-j", "-n", path)
	if err != nil {
		return nil, "", err
	}
	var records []map[string]any
	if err := json.Unmarshal(out, &records); err != nil {
		return nil, "", fmt.Errorf("parse exiftool output for %s: %w", path, err)
	}
	if len(records) == 0 {
		return map[string]any{}, "{}", nil
	}
	raw, err := json.Marshal(records[0])
	if err != nil {
		return nil, "", fmt.Errorf("encode exif for %s: %w", path, err)
	}
	return records[0], string(raw), nil
}

// ProbeResult is the subset of ffprobe output the pipeline reads.
type ProbeResult struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`

	Raw string `json:"-"`
}

// Duration returns the container duration in seconds, zero when unknown.
func (p *ProbeResult) Duration() float64 {
	d, err := strconv.ParseFloat(p.Format.Duration, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Probe runs ffprobe on path.
func (t *Tools) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	out, err := t.runner.Run(ctx, t.Ffprobe,
		"-v", "error", "-print_format", "json", "-show_format", "-show_streams", path)
	if err != nil {
		return nil, err
	}
	var res ProbeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	res.Raw = string(out)
	return &res, nil
}
