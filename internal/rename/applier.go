package rename

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/fileutil"
	"github.com/kozaktomas/media-annotator/internal/sidecar"
)

const tempSuffix = ".tmp_rename"

// ApplyOptions control one apply run. An empty Mode uses the plan's mode.
type ApplyOptions struct {
	Mode      string
	DryRun    bool
	OutputDir string
	UndoPath  string
}

// ApplyResult reports what an apply run did.
type ApplyResult struct {
	Records []database.RenameHistoryRecord
	Undo    *Plan
	// Displaced maps files that were moved out of a target's way, and that
	// no operation consumed afterwards, to where they now live.
	Displaced map[string]string
}

// Applier executes plans against the filesystem and records history.
type Applier struct {
	store  database.Transactor
	logger *zap.Logger
	now    func() time.Time
}

func NewApplier(store database.Transactor, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{store: store, logger: logger, now: time.Now}
}

// Apply runs plan in order. Each executed operation is committed to the
// history before the next starts; the first failure stops the batch and the
// records written so far are returned with the error.
func (a *Applier) Apply(ctx context.Context, plan *Plan, opts ApplyOptions) (*ApplyResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = plan.Mode
	}
	if mode != ModeRename && mode != ModeCopy {
		return nil, fmt.Errorf("unknown apply mode %q", mode)
	}

	result := &ApplyResult{Undo: plan.Undo(), Displaced: map[string]string{}}
	if opts.UndoPath != "" {
		if err := SavePlan(opts.UndoPath, result.Undo); err != nil {
			return nil, fmt.Errorf("write undo plan: %w", err)
		}
	}

	if mode == ModeRename {
		if err := checkSidecarTargets(plan); err != nil {
			return result, err
		}
	}

	displaced := map[string]string{}
	if mode == ModeRename && !opts.DryRun {
		var err error
		displaced, err = a.moveAside(ctx, plan)
		if err != nil {
			return result, err
		}
	}
	consumed := map[string]bool{}

	for _, op := range plan.Operations {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		src := op.OldPath
		if tmp, ok := displaced[src]; ok {
			src = tmp
			consumed[op.OldPath] = true
		}

		target := op.NewPath
		if mode == ModeCopy {
			if opts.OutputDir != "" {
				target = filepath.Join(opts.OutputDir, filepath.Base(op.NewPath))
			}
			target = EnsureUnique(target, func(p string) bool { return occupied(p, fileutil.Exists) })
		}

		if opts.DryRun {
			a.logger.Info("dry run", zap.String("mode", mode), zap.String("from", src), zap.String("to", target))
			continue
		}
		if mode == ModeRename && src == target {
			a.logger.Debug("already in place", zap.String("path", src))
			continue
		}

		sidecarsOld, sidecarsNew := existingSidecars(src, target)
		if err := execute(mode, src, target, sidecarsOld, sidecarsNew); err != nil {
			return result, fmt.Errorf("%s %s -> %s: %w", mode, src, target, err)
		}

		rec := database.RenameHistoryRecord{
			MediaHash:   op.MediaHash,
			OldPath:     op.OldPath,
			NewPath:     target,
			SidecarsOld: sidecarsOld,
			SidecarsNew: sidecarsNew,
			Mode:        mode,
			AppliedAt:   a.now().UTC(),
		}
		err := a.store.InTx(ctx, func(tx database.Tx) error {
			if err := tx.InsertHistory(ctx, &rec); err != nil {
				return err
			}
			if mode == ModeCopy {
				return tx.SetStatusByPath(ctx, src, database.StatusRenamed)
			}
			if err := tx.RelocateMedia(ctx, src, target); err != nil {
				return err
			}
			return tx.SetStatusByPath(ctx, target, database.StatusRenamed)
		})
		if err != nil {
			return result, fmt.Errorf("record history for %s: %w", target, err)
		}
		result.Records = append(result.Records, rec)
		a.logger.Info("applied change", zap.String("mode", mode), zap.String("from", src), zap.String("to", target))
	}

	for orig, tmp := range displaced {
		if consumed[orig] {
			continue
		}
		result.Displaced[orig] = tmp
		a.logger.Warn("file displaced by apply is not covered by undo",
			zap.String("original", orig), zap.String("now", tmp))
	}
	return result, nil
}

// moveAside moves every pre-existing file sitting on a rename target, with
// its sidecars, to a temporary name so no operation overwrites it. The store
// row follows the file.
func (a *Applier) moveAside(ctx context.Context, plan *Plan) (map[string]string, error) {
	displaced := map[string]string{}
	for _, op := range plan.Operations {
		if op.OldPath == op.NewPath || !fileutil.Exists(op.NewPath) {
			continue
		}
		tmp := freeTempPath(op.NewPath)
		olds, news := existingSidecars(op.NewPath, tmp)
		if err := execute(ModeRename, op.NewPath, tmp, olds, news); err != nil {
			return displaced, fmt.Errorf("move aside %s: %w", op.NewPath, err)
		}
		displaced[op.NewPath] = tmp

		err := a.store.InTx(ctx, func(tx database.Tx) error {
			return tx.RelocateMedia(ctx, op.NewPath, tmp)
		})
		if err != nil {
			return displaced, fmt.Errorf("relocate %s: %w", op.NewPath, err)
		}
		a.logger.Warn("moved existing file out of the way", zap.String("path", op.NewPath), zap.String("to", tmp))
	}
	return displaced, nil
}

// checkSidecarTargets fails when an operation would move a sidecar onto a
// file that exists without a primary at the target, unless another
// operation moves that file away first. Such files usually belong to a
// primary with the same stem and another extension.
func checkSidecarTargets(plan *Plan) error {
	vacated := map[string]bool{}
	for _, op := range plan.Operations {
		if op.OldPath == op.NewPath {
			continue
		}
		for _, s := range sidecar.Paths(op.OldPath) {
			vacated[s] = true
		}
	}
	for _, op := range plan.Operations {
		if op.OldPath == op.NewPath || fileutil.Exists(op.NewPath) {
			continue
		}
		_, news := existingSidecars(op.OldPath, op.NewPath)
		for _, s := range news {
			if fileutil.Exists(s) && !vacated[s] {
				return fmt.Errorf("%s -> %s: sidecar target %s already exists", op.OldPath, op.NewPath, s)
			}
		}
	}
	return nil
}

// freeTempPath returns path.tmp_rename, or path.tmp_N when that or one of
// its sidecars is taken.
func freeTempPath(path string) string {
	free := func(p string) bool {
		if fileutil.Exists(p) {
			return false
		}
		for _, s := range sidecar.Paths(p) {
			if fileutil.Exists(s) {
				return false
			}
		}
		return true
	}
	candidate := path + tempSuffix
	for n := 1; !free(candidate); n++ {
		candidate = fmt.Sprintf("%s.tmp_%d", path, n)
	}
	return candidate
}

// existingSidecars pairs the sidecars present next to src with their
// counterparts next to target, matched by extension.
func existingSidecars(src, target string) (olds, news []string) {
	targets := sidecar.Paths(target)
	for i, s := range sidecar.Paths(src) {
		if fileutil.Exists(s) {
			olds = append(olds, s)
			news = append(news, targets[i])
		}
	}
	return olds, news
}

func execute(mode, src, target string, sidecarsOld, sidecarsNew []string) error {
	for _, s := range sidecarsNew {
		if fileutil.Exists(s) {
			return fmt.Errorf("sidecar target %s already exists", s)
		}
	}
	if mode == ModeCopy {
		if err := fileutil.CopyFile(src, target); err != nil {
			return err
		}
		for i := range sidecarsOld {
			if err := fileutil.CopyFile(sidecarsOld[i], sidecarsNew[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if _, err := os.Lstat(src); err != nil {
		return err
	}
	if fileutil.Exists(target) {
		return fmt.Errorf("target %s already exists", target)
	}
	if err := fileutil.Move(src, target); err != nil {
		return err
	}
	for i := range sidecarsOld {
		if err := fileutil.Move(sidecarsOld[i], sidecarsNew[i]); err != nil {
			return err
		}
	}
	return nil
}
