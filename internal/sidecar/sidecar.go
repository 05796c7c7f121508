// Package sidecar writes the text and JSON files stored next to each media file.
package sidecar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/media-annotator/internal/constants"
)

// Paths returns the sidecar paths for primary, text first, by swapping its
// extension.
func Paths(primary string) []string {
	stem := strings.TrimSuffix(primary, filepath.Ext(primary))
	out := make([]string, len(constants.SidecarExtensions))
	for i, ext := range constants.SidecarExtensions {
		out[i] = stem + ext
	}
	return out
}

// TextPath returns the .txt sidecar for primary.
func TextPath(primary string) string {
	return strings.TrimSuffix(primary, filepath.Ext(primary)) + constants.TextSidecarExt
}

// JSONPath returns the .json sidecar for primary.
func JSONPath(primary string) string {
	return strings.TrimSuffix(primary, filepath.Ext(primary)) + constants.JSONSidecarExt
}

// WriteAtomic writes data to a temporary file in the target directory and
// renames it over path, so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteText writes a UTF-8 text sidecar.
func WriteText(path, text string) error {
	return WriteAtomic(path, []byte(text))
}

// WriteJSON writes v indented by two spaces with non-ASCII text kept as is.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return WriteAtomic(path, buf.Bytes())
}
