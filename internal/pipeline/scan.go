package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/fingerprint"
)

// Discover walks root in lexical order and returns every supported media
// file as an absolute path.
func Discover(root string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if constants.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

// Scan catalogues every supported file under root. Files that cannot be
// hashed are reported and skipped; store failures end the scan.
func (r *Runner) Scan(ctx context.Context, root string) ([]Result, error) {
	paths, err := Discover(root)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := r.ScanFile(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		r.progress(StageScan, i+1, len(paths), res)
	}

	r.logger.Info("scan complete", zap.String("root", root), zap.Int("files", len(paths)))
	return results, nil
}

// ScanFile catalogues a single file. A hashing failure is reported in the
// result; only store failures are returned as errors.
func (r *Runner) ScanFile(ctx context.Context, path string) (Result, error) {
	res := Result{Path: path, Stage: StageScan}
	hash, err := fingerprint.HashFile(path)
	if err != nil {
		r.logger.Error("failed to hash file", zap.String("path", path), zap.Error(err))
		res.Status = database.StatusError
		res.Err = err
		return res, nil
	}
	item := &database.MediaItem{
		Path:            path,
		Hash:            hash,
		Kind:            constants.KindFor(path),
		PipelineVersion: r.opts.Version,
	}
	if err := r.store.UpsertMedia(ctx, item); err != nil {
		return res, fmt.Errorf("catalogue %s: %w", path, err)
	}
	res.Status = item.Status
	return res, nil
}
