package media

import (
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/media-annotator/internal/constants"
)

// CaptureTime is a parsed timestamp that remembers whether the source
// carried a zone.
type CaptureTime struct {
	Time  time.Time
	Zoned bool
}

// String formats the time as ISO 8601, with an offset only when one was given.
func (c CaptureTime) String() string {
	if c.Zoned {
		return c.Time.Format(time.RFC3339)
	}
	return c.Time.Format("2006-01-02T15:04:05")
}

var zonedLayouts = []string{
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05.999999999-07:00",
	"2006:01:02 15:04:05Z",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
}

var localLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006:01:02",
	"2006-01-02",
}

// ParseDateTime accepts the exiftool and ffprobe timestamp layouts.
func ParseDateTime(s string) (CaptureTime, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "0000") {
		return CaptureTime{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CaptureTime{Time: t, Zoned: true}, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return CaptureTime{Time: t}, true
		}
	}
	return CaptureTime{}, false
}

func firstDateTime(values map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := values[key]
		if !ok {
			continue
		}
		if ct, ok := ParseDateTime(fmt.Sprint(v)); ok {
			return ct.String()
		}
	}
	return ""
}

// ImageCaptureTime picks the first parseable exif date field, or "".
func ImageCaptureTime(exif map[string]any) string {
	return firstDateTime(exif, constants.ExifDateFields)
}

// VideoCaptureTime picks the first parseable container date tag, or "".
func VideoCaptureTime(probe *ProbeResult) string {
	tags := make(map[string]any, len(probe.Format.Tags))
	for k, v := range probe.Format.Tags {
		tags[k] = v
	}
	return firstDateTime(tags, constants.VideoDateTags)
}

// LocationText describes the GPS position recorded in exif.
func LocationText(exif map[string]any) string {
	lat, okLat := exif["GPSLatitude"].(float64)
	lon, okLon := exif["GPSLongitude"].(float64)
	if !okLat || !okLon {
		return "Location unknown"
	}
	return fmt.Sprintf("Near %.5f, %.5f", lat, lon)
}
