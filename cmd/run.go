package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run <dir>",
	Short: "Scan, detect faces and describe a directory",
	Long: `Run every pipeline stage over a directory: scan, faces, then describe.
Items already processed by the current pipeline version are skipped.
Ctrl+C stops the run after the item in progress.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args[0], pipeline.AllStages)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addStageFlags(runCmd)
}

// addStageFlags registers the flags shared by the stage commands.
func addStageFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("force", false, "Reprocess items regardless of their status")
	cmd.Flags().Bool("json-progress", false, "Write progress as JSON lines even on a terminal")
}

// signalContext is cancelled on the first Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, finishing current item...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runStages(cmd *cobra.Command, root string, stages []string, overrides ...configOverride) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true, overrides...)
	if err != nil {
		return err
	}
	defer a.Close()

	need := stageDeps{}
	for _, s := range stages {
		need.faces = need.faces || s == pipeline.StageFaces
		need.describe = need.describe || s == pipeline.StageDescribe
	}
	runner, err := a.runner(ctx, need, mustGetBool(cmd, "force"))
	if err != nil {
		return err
	}

	progress := newProgressReporter(mustGetBool(cmd, "json-progress"))
	results, err := runner.WithProgress(progress.report).Run(ctx, root, stages...)
	progress.finish()
	printSummary(results)

	if errors.Is(err, context.Canceled) {
		fmt.Println("\nInterrupted; run the command again to continue.")
		return nil
	}
	return err
}
