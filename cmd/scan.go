package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Catalogue supported photos and videos under a directory",
	Long: `Walk a directory, hash every supported image and video and record it in
the library. Changed files are reset so later stages process them again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd, args[0], []string{pipeline.StageScan})
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addStageFlags(scanCmd)
}
