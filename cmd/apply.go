package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/rename"
)

var applyCmd = &cobra.Command{
	Use:   "apply <plan-file>",
	Short: "Apply a rename plan",
	Long: `Apply a plan written by plan-renames. Without --apply this is a dry run
that only logs what would happen. Every executed operation is recorded in the
rename history before the next one starts; the first failure stops the batch.

The inverse plan is always computed and written when --undo-file is given.
Applying it restores the original names.`,
	Example: `  media-annotator apply rename_plan.json
  media-annotator apply rename_plan.json --apply --undo-file undo.json
  media-annotator apply undo.json --apply`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().String("mode", "", "Override the plan mode: rename or copy")
	applyCmd.Flags().String("output-dir", "", "Copy mode: put every file directly in this directory instead of the planned paths")
	applyCmd.Flags().Bool("apply", false, "Perform the changes (default is a dry run unless pipeline.dry_run is false)")
	applyCmd.Flags().String("undo-file", "", "Write the inverse plan here")
}

func runApply(cmd *cobra.Command, args []string) error {
	mode := mustGetString(cmd, "mode")
	outputDir := mustGetString(cmd, "output-dir")
	doApply := mustGetBool(cmd, "apply")
	undoFile := mustGetString(cmd, "undo-file")

	plan, err := rename.LoadPlan(args[0])
	if err != nil {
		return err
	}
	if mode == "" {
		mode = plan.Mode
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	doApply = doApply || !a.cfg.Pipeline.DryRun

	if !doApply {
		fmt.Println("Mode: DRY RUN (pass --apply to make changes)")
	}
	res, err := rename.NewApplier(a.store, a.logger).Apply(ctx, plan, rename.ApplyOptions{
		Mode:      mode,
		DryRun:    !doApply,
		OutputDir: outputDir,
		UndoPath:  undoFile,
	})
	if res != nil {
		fmt.Printf("Applied %d of %d operations (%s)\n", len(res.Records), len(plan.Operations), mode)
		if undoFile != "" && res.Undo != nil {
			fmt.Printf("Undo plan written to %s\n", undoFile)
		}
		if len(res.Displaced) > 0 {
			fmt.Printf("\nMoved out of the way and not covered by the undo plan: %d\n", len(res.Displaced))
			originals := make([]string, 0, len(res.Displaced))
			for orig := range res.Displaced {
				originals = append(originals, orig)
			}
			sort.Strings(originals)
			for _, orig := range originals {
				fmt.Printf("  %s -> %s\n", orig, res.Displaced[orig])
			}
		}
	}
	if err != nil {
		return fmt.Errorf("apply stopped: %w", err)
	}
	return nil
}
