// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import (
	"path/filepath"
	"strings"
)

// Media kinds
const (
	KindImage = "image"
	KindVideo = "video"
)

// Supported extensions, lower case with the leading dot.
var (
	ImageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
		".tiff": true, ".heic": true, ".heif": true,
	}
	VideoExtensions = map[string]bool{
		".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".m4v": true,
	}
)

// KindFor returns the media kind for a path, or "" when the extension is not supported.
func KindFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ImageExtensions[ext]:
		return KindImage
	case VideoExtensions[ext]:
		return KindVideo
	}
	return ""
}

// IsSupported reports whether path has a supported image or video extension.
func IsSupported(path string) bool {
	return KindFor(path) != ""
}

// Sidecar extensions written next to each primary file
const (
	TextSidecarExt = ".txt"
	JSONSidecarExt = ".json"
)

// SidecarExtensions in the order they are planned and applied.
var SidecarExtensions = []string{TextSidecarExt, JSONSidecarExt}

// Exif tags consulted for the capture time, in priority order.
var ExifDateFields = []string{"DateTimeOriginal", "CreateDate", "FileModifyDate"}

// Container tags consulted for a video's capture time, in priority order.
var VideoDateTags = []string{"creation_time", "com.apple.quicktime.creationdate"}

// ForbiddenFilenameChars are stripped from generated file names.
const ForbiddenFilenameChars = `<>:"/\|?*`

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) of images sent to a describer
	MaxImageSize = 1920

	// HashChunkSize is the read size used when hashing media files
	HashChunkSize = 1 << 20

	// DescribeAttempts is how many times a describer is asked before the item fails
	DescribeAttempts = 3

	// MaxNamesInFilename caps the identity names appended to a planned file name
	MaxNamesInFilename = 3
)

// Describe-stage frame sampling for videos
const (
	DescribeSampleRate = 0.5
	DescribeMinFrames  = 5
	DescribeMaxFrames  = 12
)

// UnknownPrefix marks anonymous identity labels (unknown_000001).
const UnknownPrefix = "unknown"
