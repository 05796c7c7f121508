package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// heifBrands are the ISO-BMFF major brands of HEIC/HEIF stills. There is no
// Go decoder for them, so they are only checked by header.
var heifBrands = []string{"heic", "heix", "heim", "heis", "hevc", "mif1", "msf1", "heif"}

func isHEIF(header []byte) bool {
	if len(header) < 12 || string(header[4:8]) != "ftyp" {
		return false
	}
	brand := string(header[8:12])
	for _, b := range heifBrands {
		if brand == b {
			return true
		}
	}
	return false
}

// CheckImage verifies that path holds a readable image without decoding
// all of its pixels.
func CheckImage(path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from the library scan
	if err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return &DecodeError{Path: path, Err: err}
	}
	if isHEIF(header[:n]) {
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return &DecodeError{Path: path, Err: err}
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &DecodeError{Path: path, Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	return nil
}

// ResizeImage resizes an image to fit within maxSize while keeping aspect ratio.
// Returns JPEG-encoded bytes, or data unchanged when it already fits.
func ResizeImage(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Check if resizing is needed.
	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadForUpload reads path and downsizes it to maxSize when it is an image
// Go can decode. Other files (HEIC, video) are returned as they are.
func LoadForUpload(path string, maxSize int) ([]byte, string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the library scan
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	resized, err := ResizeImage(data, maxSize)
	if err != nil {
		return data, MIMEType(path), nil
	}
	if len(resized) != len(data) || !bytes.Equal(resized, data) {
		return resized, "image/jpeg", nil
	}
	return data, MIMEType(path), nil
}

// MIMEType guesses the content type from the file extension.
func MIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	}
	return "application/octet-stream"
}
