// Package scheduler triggers a task at a fixed interval.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
)

// Periodic runs one task every interval. A tick that arrives while the
// previous run is still going is skipped.
type Periodic struct {
	scheduler *gocron.Scheduler
	job       *gocron.Job
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewPeriodic(every time.Duration, task func(), logger *zap.Logger) (*Periodic, error) {
	if every <= 0 {
		return nil, errors.New("interval must be positive")
	}
	logger = logging.OrNop(logger)
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	job, err := s.Every(every).Do(func() {
		logger.Debug("scheduled task starting", zap.Duration("every", every))
		task()
	})
	if err != nil {
		return nil, fmt.Errorf("schedule task: %w", err)
	}
	return &Periodic{scheduler: s, job: job, logger: logger}, nil
}

// Start begins ticking; the first run happens immediately.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.scheduler.StartAsync()
	p.running = true
	p.logger.Info("scheduler started", zap.Time("next_run", p.job.NextRun()))
}

// Stop halts the ticker. A run in progress is not interrupted.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.scheduler.Stop()
	p.running = false
	p.logger.Info("scheduler stopped")
}

// NextRun returns when the task fires next.
func (p *Periodic) NextRun() time.Time {
	return p.job.NextRun()
}
