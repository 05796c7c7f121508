package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/ai"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/fileutil"
	"github.com/kozaktomas/media-annotator/internal/logging"
	"github.com/kozaktomas/media-annotator/internal/media"
)

// Stage names accepted by Run.
const (
	StageScan     = "scan"
	StageFaces    = "faces"
	StageDescribe = "describe"
)

// AllStages in execution order.
var AllStages = []string{StageScan, StageFaces, StageDescribe}

// Result statuses that are not item statuses.
const (
	StatusSkipped = "skipped" // already at or past the stage
	StatusMissing = "missing" // catalogued but no longer on disk
)

// Result is the outcome of one stage for one item. Status is the item's
// status after the stage, or StatusSkipped / StatusMissing.
type Result struct {
	Path   string
	Stage  string
	Status string
	Err    error
}

// ProgressInfo is passed to OnProgress after every item.
type ProgressInfo struct {
	Stage   string
	Current int
	Total   int
	Path    string
	Status  string
	Message string
}

// Store is the part of the library the pipeline reads and writes.
type Store interface {
	database.MediaWriter
	ListMediaPersons(ctx context.Context, mediaID int64) ([]database.MediaPerson, error)
}

// MediaTools wraps the external metadata and frame extraction programs.
type MediaTools interface {
	Exif(ctx context.Context, path string) (map[string]any, string, error)
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
	ExtractFrames(ctx context.Context, video, dir, name string, plan []int64) ([]media.Frame, error)
}

// Options configure a Runner.
type Options struct {
	Version         string
	Force           bool
	CacheDir        string
	VideoSampleRate float64
	VideoMinFrames  int
	VideoMaxFrames  int
	SkipSidecars    bool
	OnProgress      func(ProgressInfo) // optional
}

// Deps are the collaborators of a Runner. Detector and Faces are only
// needed by the faces stage, Describer only by the describe stage.
type Deps struct {
	Store     Store
	Detector  Detector
	Faces     FaceRecorder
	Describer ai.Describer
	Tools     MediaTools
	Logger    *zap.Logger
}

// Runner executes pipeline stages sequentially over a directory.
type Runner struct {
	store     Store
	state     *State
	detector  Detector
	faces     FaceRecorder
	describer ai.Describer
	tools     MediaTools
	opts      Options
	logger    *zap.Logger
}

func NewRunner(deps Deps, opts Options) *Runner {
	logger := logging.OrNop(deps.Logger)
	tools := deps.Tools
	if tools == nil {
		mt := media.NewTools(media.ExecRunner{Logger: logger})
		mt.Logger = logger
		tools = mt
	}
	return &Runner{
		store:     deps.Store,
		state:     NewState(deps.Store, opts.Version),
		detector:  deps.Detector,
		faces:     deps.Faces,
		describer: deps.Describer,
		tools:     tools,
		opts:      opts,
		logger:    logger,
	}
}

// WithProgress returns a copy of r reporting to fn.
func (r *Runner) WithProgress(fn func(ProgressInfo)) *Runner {
	c := *r
	c.opts.OnProgress = fn
	return &c
}

// Run executes the requested stages (all of them when none are given) in
// pipeline order. Per-item failures are recorded on the item and do not
// stop the run; cancellation is honored between items.
func (r *Runner) Run(ctx context.Context, root string, stages ...string) ([]Result, error) {
	want, err := selectStages(stages)
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, stage := range want {
		var (
			rs  []Result
			err error
		)
		switch stage {
		case StageScan:
			rs, err = r.Scan(ctx, root)
		case StageFaces:
			rs, err = r.Faces(ctx, root)
		case StageDescribe:
			rs, err = r.Describe(ctx, root)
		}
		results = append(results, rs...)
		if err != nil {
			return results, fmt.Errorf("%s: %w", stage, err)
		}
	}
	return results, nil
}

func selectStages(stages []string) ([]string, error) {
	if len(stages) == 0 {
		return AllStages, nil
	}
	requested := make(map[string]bool, len(stages))
	for _, s := range stages {
		switch s {
		case StageScan, StageFaces, StageDescribe:
			requested[s] = true
		default:
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}
	var out []string
	for _, s := range AllStages {
		if requested[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// eachItem applies fn to every catalogued item under root whose state
// calls for target. A successful fn advances the item to target; a failed
// one marks it as errored.
func (r *Runner) eachItem(ctx context.Context, root, stage, target string, fn func(context.Context, *database.MediaItem) error) ([]Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	items, err := r.store.ListMedia(ctx, dirPrefix(root))
	if err != nil {
		return nil, fmt.Errorf("list media under %s: %w", root, err)
	}

	results := make([]Result, 0, len(items))
	for i := range items {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		item := &items[i]
		res := Result{Path: item.Path, Stage: stage}

		switch {
		case !fileutil.Exists(item.Path):
			res.Status = StatusMissing
		case !ShouldRun(*item, r.opts.Version, r.opts.Force, target):
			res.Status = StatusSkipped
		default:
			if err := fn(ctx, item); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return results, err
				}
				r.logger.Error("stage failed", zap.String("stage", stage), zap.String("path", item.Path), zap.Error(err))
				if ferr := r.state.Fail(ctx, item, err); ferr != nil {
					return results, ferr
				}
				res.Status = database.StatusError
				res.Err = err
				break
			}
			if err := r.state.Advance(ctx, item, target); err != nil {
				return results, err
			}
			res.Status = target
		}

		results = append(results, res)
		r.progress(stage, i+1, len(items), res)
	}
	return results, nil
}

func (r *Runner) progress(stage string, current, total int, res Result) {
	if r.opts.OnProgress == nil {
		return
	}
	info := ProgressInfo{Stage: stage, Current: current, Total: total, Path: res.Path, Status: res.Status}
	if res.Err != nil {
		info.Message = res.Err.Error()
	}
	r.opts.OnProgress(info)
}

func dirPrefix(root string) string {
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return root
	}
	return root + string(filepath.Separator)
}

// Summarize counts results by status.
func Summarize(results []Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}
