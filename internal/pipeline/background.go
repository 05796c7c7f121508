package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
)

// RunState is the lifecycle state of a background run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

var (
	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = errors.New("a pipeline run is already active")
	// ErrUnknownRun is returned by Cancel for an id that is not the active run.
	ErrUnknownRun = errors.New("no such active run")
)

// RunStatus is a snapshot of a background run.
type RunStatus struct {
	ID          string         `json:"id"`
	Root        string         `json:"root"`
	Stages      []string       `json:"stages"`
	State       RunState       `json:"state"`
	Stage       string         `json:"stage,omitempty"`
	Current     int            `json:"current"`
	Total       int            `json:"total"`
	Counts      map[string]int `json:"counts"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type run struct {
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// Background runs the pipeline on a single worker goroutine, one run at
// a time. Single-file scans from the watcher go through the same worker.
type Background struct {
	runner *Runner
	logger *zap.Logger

	// work is held by whoever mutates the store: a run or a file scan.
	work sync.Mutex

	mu      sync.Mutex
	last    *run
	pending []string
}

func NewBackground(runner *Runner, logger *zap.Logger) *Background {
	return &Background{runner: runner, logger: logging.OrNop(logger)}
}

// Start launches a run over root. The run lives until it finishes, is
// cancelled, or ctx ends.
func (b *Background) Start(ctx context.Context, root string, stages ...string) (RunStatus, error) {
	if _, err := selectStages(stages); err != nil {
		return RunStatus{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last != nil && b.last.status.State == RunRunning {
		return RunStatus{}, ErrRunActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		status: RunStatus{
			ID:        uuid.NewString(),
			Root:      root,
			Stages:    stages,
			State:     RunRunning,
			Counts:    map[string]int{},
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.last = r

	runner := b.runner.WithProgress(func(p ProgressInfo) {
		b.mu.Lock()
		defer b.mu.Unlock()
		r.status.Stage = p.Stage
		r.status.Current = p.Current
		r.status.Total = p.Total
		r.status.Counts[p.Status]++
	})

	b.logger.Info("pipeline run started", zap.String("id", r.status.ID), zap.String("root", root))
	go func() {
		defer close(r.done)
		defer cancel()
		b.work.Lock()
		_, err := runner.Run(runCtx, root, stages...)
		b.finish(r, err)
		b.release(context.WithoutCancel(ctx))
	}()

	return snapshot(r.status), nil
}

func (b *Background) finish(r *run, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	r.status.CompletedAt = &now
	switch {
	case errors.Is(err, context.Canceled):
		r.status.State = RunCancelled
	case err != nil:
		r.status.State = RunFailed
		r.status.Error = err.Error()
	default:
		r.status.State = RunCompleted
	}
	b.logger.Info("pipeline run finished",
		zap.String("id", r.status.ID),
		zap.String("state", string(r.status.State)),
		zap.Error(err))
}

// ScanFile catalogues a single file. If a run or another scan holds the
// worker, path is queued and scanned by that holder before it lets go.
// It reports whether path was queued.
func (b *Background) ScanFile(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	if !b.work.TryLock() {
		if !slices.Contains(b.pending, path) {
			b.pending = append(b.pending, path)
		}
		b.mu.Unlock()
		b.logger.Debug("worker busy, queued file", zap.String("path", path))
		return true, nil
	}
	b.mu.Unlock()

	err := b.scan(ctx, path)
	b.release(ctx)
	return false, err
}

func (b *Background) scan(ctx context.Context, path string) error {
	res, err := b.runner.ScanFile(ctx, path)
	if err != nil {
		b.logger.Error("cataloguing file", zap.String("path", path), zap.Error(err))
		return err
	}
	b.logger.Info("catalogued file", zap.String("path", path), zap.String("status", res.Status))
	return nil
}

// release drains queued scans and then frees the worker. The queue is
// checked and the worker unlocked under mu, so nothing queued is left behind.
func (b *Background) release(ctx context.Context) {
	for {
		b.mu.Lock()
		paths := b.pending
		b.pending = nil
		if len(paths) == 0 {
			b.work.Unlock()
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
		for _, path := range paths {
			_ = b.scan(ctx, path)
		}
	}
}

// Cancel stops the active run with the given id. The run ends after the
// item in progress.
func (b *Background) Cancel(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil || b.last.status.ID != id || b.last.status.State != RunRunning {
		return ErrUnknownRun
	}
	b.last.cancel()
	return nil
}

// Status returns the latest run, active or finished.
func (b *Background) Status() (RunStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return RunStatus{}, false
	}
	return snapshot(b.last.status), true
}

// Wait blocks until the latest run has finished.
func (b *Background) Wait() {
	b.mu.Lock()
	r := b.last
	b.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

func snapshot(s RunStatus) RunStatus {
	counts := make(map[string]int, len(s.Counts))
	for k, v := range s.Counts {
		counts[k] = v
	}
	s.Counts = counts
	s.Stages = append([]string(nil), s.Stages...)
	return s
}
