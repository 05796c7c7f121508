package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/config"
	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

var describeCmd = &cobra.Command{
	Use:   "describe <dir>",
	Short: "Describe catalogued items with a vision model",
	Long: `Send every item whose faces are resolved to the configured vision model,
together with its metadata and the people recognized in it. The answer is
stored in the library and written next to the file as .txt and .json
sidecars.`,
	Example: `  media-annotator describe ~/Pictures
  media-annotator describe ~/Pictures --backend gemini --model gemini-2.5-flash
  media-annotator describe ~/Pictures --backend lmstudio --base-url http://localhost:1234/v1`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)
	addStageFlags(describeCmd)
	describeCmd.Flags().String("backend", "", "Override the LLM backend: local, ollama, lmstudio, gemini")
	describeCmd.Flags().String("model", "", "Override the model name")
	describeCmd.Flags().String("base-url", "", "Override the backend base URL")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	backend := mustGetString(cmd, "backend")
	model := mustGetString(cmd, "model")
	baseURL := mustGetString(cmd, "base-url")
	return runStages(cmd, args[0], []string{pipeline.StageDescribe}, func(cfg *config.Config) {
		if backend != "" {
			cfg.LLM.Backend = backend
		}
		if model != "" {
			cfg.LLM.Model = model
		}
		if baseURL != "" {
			cfg.LLM.BaseURL = baseURL
		}
	})
}
