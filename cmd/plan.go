package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/fileutil"
	"github.com/kozaktomas/media-annotator/internal/rename"
)

var planRenamesCmd = &cobra.Command{
	Use:   "plan-renames <dir>",
	Short: "Write a rename plan for catalogued items",
	Long: `Compose a descriptive file name for every catalogued item under a
directory from its capture date, the suggested base from its description
and the names of recognized people. Nothing is changed on disk: the plan is
written to a JSON file that apply consumes.

With --output-dir the plan copies files into that directory instead of
renaming them in place; --mirror-structure keeps their relative folders.`,
	Example: `  media-annotator plan-renames ~/Pictures --show
  media-annotator plan-renames ~/Pictures --output-dir ~/Sorted --mirror-structure`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanRenames,
}

func init() {
	rootCmd.AddCommand(planRenamesCmd)
	planRenamesCmd.Flags().String("output-file", "rename_plan.json", "Where to write the plan")
	planRenamesCmd.Flags().String("output-dir", "", "Copy into this directory instead of renaming in place")
	planRenamesCmd.Flags().Bool("mirror-structure", false, "Keep sub-directories below --output-dir")
	planRenamesCmd.Flags().Bool("show", false, "Print the planned operations")
}

func runPlanRenames(cmd *cobra.Command, args []string) error {
	outputFile := mustGetString(cmd, "output-file")
	outputDir := mustGetString(cmd, "output-dir")
	mirror := mustGetBool(cmd, "mirror-structure")
	show := mustGetBool(cmd, "show")

	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if outputDir != "" {
		if outputDir, err = filepath.Abs(outputDir); err != nil {
			return err
		}
	}

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.store.ListMedia(ctx, root+string(filepath.Separator))
	if err != nil {
		return fmt.Errorf("listing media: %w", err)
	}
	inputs := planInputs(items, a.logger)

	mode := rename.ModeRename
	if outputDir != "" {
		mode = rename.ModeCopy
	}
	plan, err := rename.NewPlanner(a.logger).Plan(inputs, rename.PlanOptions{
		InputRoot:     root,
		OutputRoot:    outputDir,
		Mirror:        mirror || a.cfg.Pipeline.CopyMirror,
		MaxNameLength: a.cfg.Pipeline.MaxFilenameLength,
		Mode:          mode,
		ToolVersion:   a.cfg.Pipeline.Version,
	})
	if err != nil {
		return err
	}
	if err := rename.SavePlan(outputFile, plan); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}

	if show {
		printPlan(plan)
	}
	conflicts := 0
	for _, op := range plan.Operations {
		if op.ConflictsResolved {
			conflicts++
		}
	}
	fmt.Printf("Plan with %d operations (%s, %d name conflicts resolved) written to %s\n",
		len(plan.Operations), plan.Mode, conflicts, outputFile)
	return nil
}

// planInputs builds planner inputs for the items still on disk. Missing
// files are left out so apply does not stop on them.
func planInputs(items []database.MediaItem, logger *zap.Logger) []rename.PlanInput {
	inputs := make([]rename.PlanInput, 0, len(items))
	for _, item := range items {
		if !fileutil.Exists(item.Path) {
			logger.Warn("skipping missing file", zap.String("path", item.Path))
			continue
		}
		in, err := rename.InputFromItem(item)
		if err != nil {
			logger.Warn("ignoring unreadable description", zap.String("path", item.Path), zap.Error(err))
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func printPlan(plan *rename.Plan) {
	tw := newTable("From", "To", "Conflict")
	for _, op := range plan.Operations {
		conflict := ""
		if op.ConflictsResolved {
			conflict = op.ResolutionStrategy
		}
		tw.AppendRow(table.Row{op.OldPath, op.NewPath, conflict})
	}
	tw.Render()
}
