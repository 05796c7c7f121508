package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show applied renames and copies, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 50, "Maximum number of records (0 = all)")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.ListHistory(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}
	if jsonOutput {
		return outputJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No changes applied yet.")
		return nil
	}

	tw := newTable("Applied", "Mode", "From", "To", "Sidecars")
	for _, r := range records {
		tw.AppendRow(table.Row{
			r.AppliedAt.Local().Format(time.DateTime),
			r.Mode,
			r.OldPath,
			r.NewPath,
			len(r.SidecarsNew),
		})
	}
	tw.Render()
	return nil
}
