package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/pipeline"
	"github.com/kozaktomas/media-annotator/internal/scheduler"
	"github.com/kozaktomas/media-annotator/internal/watcher"
	"github.com/kozaktomas/media-annotator/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Start the HTTP control API",
	Long: `Start the HTTP control API. Pipeline runs are started, followed and
cancelled over HTTP and unknown identities can be reviewed and named.

With a library directory, --watch catalogues new files as they appear and
--every starts a full pipeline run periodically.`,
	Example: `  media-annotator serve
  media-annotator serve ~/Pictures --watch --every 6h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to listen on (defaults to server.addr from config)")
	serveCmd.Flags().Bool("watch", false, "Catalogue new files under the library directory as they appear")
	serveCmd.Flags().Duration("every", 0, "Run the whole pipeline over the library directory at this interval")
	serveCmd.Flags().StringSlice("stages", nil, "Stages for periodic runs (default all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := mustGetString(cmd, "addr")
	watch := mustGetBool(cmd, "watch")
	every := mustGetDuration(cmd, "every")
	stages := mustGetStringSlice(cmd, "stages")

	var root string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		root = abs
	}
	if root == "" && (watch || every > 0) {
		return errors.New("--watch and --every need a library directory")
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}
	describer, err := a.describer(ctx)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     a.store,
		Detector:  a.detector(),
		Faces:     resolver,
		Describer: describer,
		Logger:    a.logger,
	}, pipeline.Options{
		Version:         a.cfg.Pipeline.Version,
		Force:           a.cfg.Pipeline.Force,
		CacheDir:        a.cfg.Paths.CacheDir,
		VideoSampleRate: a.cfg.Faces.VideoSampleRate,
		VideoMinFrames:  a.cfg.Faces.VideoMinFrames,
		VideoMaxFrames:  a.cfg.Faces.VideoMaxFrames,
	})
	bg := pipeline.NewBackground(runner, a.logger)

	server := web.NewServer(ctx, addr, web.Deps{
		Runs:        bg,
		Persons:     a.store,
		Promoter:    resolver,
		Library:     a.store,
		DefaultRoot: root,
		Logger:      a.logger,
	})

	var wg sync.WaitGroup
	if watch {
		// Scans share the run worker; a file seen mid-run waits for the run.
		w := watcher.New(root, func(path string) {
			if queued, err := bg.ScanFile(ctx, path); err == nil && queued {
				a.logger.Info("new file queued behind active run", zap.String("path", path))
			}
		}, watcher.WithLogger(a.logger))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				a.logger.Error("watcher stopped", zap.Error(err))
			}
		}()
	}

	if every > 0 {
		periodic, err := scheduler.NewPeriodic(every, func() {
			status, err := bg.Start(ctx, root, stages...)
			if errors.Is(err, pipeline.ErrRunActive) {
				a.logger.Info("skipping scheduled run, another run is active")
				return
			}
			if err != nil {
				a.logger.Error("scheduled run failed to start", zap.Error(err))
				return
			}
			a.logger.Info("scheduled run started", zap.String("id", status.ID))
		}, a.logger)
		if err != nil {
			return err
		}
		periodic.Start()
		defer periodic.Stop()
	}

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Media Annotator API listening on http://%s/api/v1\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	err = server.Start()
	cancel()
	wg.Wait()
	bg.Wait()
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
