package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/ai"
	"github.com/kozaktomas/media-annotator/internal/config"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/fingerprint"
	"github.com/kozaktomas/media-annotator/internal/lock"
	"github.com/kozaktomas/media-annotator/internal/logging"
	"github.com/kozaktomas/media-annotator/internal/pipeline"

	// Storage backends register themselves with database.Open.
	_ "github.com/kozaktomas/media-annotator/internal/database/mariadb"
	_ "github.com/kozaktomas/media-annotator/internal/database/postgres"
	_ "github.com/kozaktomas/media-annotator/internal/database/sqlite"
)

// app holds what every command needs: configuration, logger and the open store.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  database.Store
	lock   *lock.Lock
}

// configOverride applies command line flags on top of the loaded config.
type configOverride func(*config.Config)

// openApp loads configuration, builds the logger and opens the library.
// Mutating commands pass writer=true to take the single-writer lock first.
func openApp(ctx context.Context, writer bool, overrides ...configOverride) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugFlag {
		cfg.Debug = true
	}
	if len(overrides) > 0 {
		for _, o := range overrides {
			o(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Debug, cfg.Paths.LogDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if writer {
		l, err := lock.Acquire(cfg.LockPath())
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				return nil, fmt.Errorf("%w (%s)", err, cfg.LockPath())
			}
			return nil, err
		}
		a.lock = l
	}

	store, err := database.Open(ctx, cfg.DatabaseURL(), database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Logger:       logger,
	})
	if err != nil {
		_ = a.lock.Release()
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	if err := a.lock.Release(); err != nil {
		a.logger.Warn("releasing library lock", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// resolver builds the identity resolver with both pools loaded.
func (a *app) resolver(ctx context.Context) (*facematch.Resolver, error) {
	r := facematch.NewResolver(facematch.ResolverConfig{
		KnownThreshold:   a.cfg.Faces.KnownThreshold,
		UnknownThreshold: a.cfg.Faces.UnknownThreshold,
		Index:            facematch.IndexKind(a.cfg.Faces.Index),
		Dim:              a.cfg.Faces.Dim,
		Logger:           a.logger,
	}, a.store)
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *app) detector() *fingerprint.DetectorClient {
	return fingerprint.NewDetectorClient(a.cfg.Faces.DetectorURL, 0)
}

func (a *app) describer(ctx context.Context) (ai.Describer, error) {
	return ai.New(ctx, a.cfg.LLM, a.logger)
}

// stageDeps says which collaborators a set of stages needs.
type stageDeps struct {
	faces    bool
	describe bool
}

// runner wires a pipeline runner for the requested stages.
func (a *app) runner(ctx context.Context, need stageDeps, force bool) (*pipeline.Runner, error) {
	deps := pipeline.Deps{Store: a.store, Logger: a.logger}
	if need.faces {
		r, err := a.resolver(ctx)
		if err != nil {
			return nil, err
		}
		deps.Detector = a.detector()
		deps.Faces = r
	}
	if need.describe {
		d, err := a.describer(ctx)
		if err != nil {
			return nil, err
		}
		deps.Describer = d
	}
	return pipeline.NewRunner(deps, pipeline.Options{
		Version:         a.cfg.Pipeline.Version,
		Force:           force || a.cfg.Pipeline.Force,
		CacheDir:        a.cfg.Paths.CacheDir,
		VideoSampleRate: a.cfg.Faces.VideoSampleRate,
		VideoMinFrames:  a.cfg.Faces.VideoMinFrames,
		VideoMaxFrames:  a.cfg.Faces.VideoMaxFrames,
	}), nil
}
