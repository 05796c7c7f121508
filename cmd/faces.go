package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/config"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

const (
	reviewExamples    = 3
	reviewSuggestions = 2
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Face detection and identity review",
}

var facesPreprocessCmd = &cobra.Command{
	Use:   "preprocess <dir>",
	Short: "Detect faces and assign identities",
	Long: `Detect faces in every catalogued item under a directory and match each
face against known people first, then against anonymous identities. Faces
that match nobody become a new unknown_NNNNNN identity. Videos are sampled
into frames first.`,
	Args: cobra.ExactArgs(1),
	RunE: runFacesPreprocess,
}

var facesReviewCmd = &cobra.Command{
	Use:   "review-unknowns",
	Short: "List anonymous identities and optionally name them",
	Long: `List every unknown identity with its number of occurrences and example
files. On a terminal each identity can be named in turn; an empty answer
skips it and q stops the review.`,
	Args: cobra.NoArgs,
	RunE: runFacesReview,
}

var facesLabelCmd = &cobra.Command{
	Use:     "label <person-id> <name>",
	Short:   "Name an anonymous identity",
	Example: `  media-annotator faces label 12 "Jana Nováková"`,
	Args:    cobra.ExactArgs(2),
	RunE:    runFacesLabel,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesPreprocessCmd, facesReviewCmd, facesLabelCmd)

	addStageFlags(facesPreprocessCmd)
	facesPreprocessCmd.Flags().Float64("video-sample-rate", 0, "Video frames sampled per second (0 = config)")
	facesPreprocessCmd.Flags().Int("video-max-frames", 0, "Maximum frames sampled per video (0 = config)")
	facesPreprocessCmd.Flags().Float64("threshold-known", 0, "Similarity needed to match a known person (0 = config)")
	facesPreprocessCmd.Flags().Float64("threshold-unknown", 0, "Similarity needed to match an unknown identity (0 = config)")
	facesPreprocessCmd.Flags().String("index", "", "Embedding index: exact or matrix (empty = config)")

	facesReviewCmd.Flags().Bool("non-interactive", false, "Only print the list")
}

func runFacesPreprocess(cmd *cobra.Command, args []string) error {
	rate := mustGetFloat64(cmd, "video-sample-rate")
	maxFrames := mustGetInt(cmd, "video-max-frames")
	known := mustGetFloat64(cmd, "threshold-known")
	unknown := mustGetFloat64(cmd, "threshold-unknown")
	index := mustGetString(cmd, "index")

	return runStages(cmd, args[0], []string{pipeline.StageFaces}, func(cfg *config.Config) {
		if rate > 0 {
			cfg.Faces.VideoSampleRate = rate
		}
		if maxFrames > 0 {
			cfg.Faces.VideoMaxFrames = maxFrames
		}
		if known > 0 {
			cfg.Faces.KnownThreshold = known
		}
		if unknown > 0 {
			cfg.Faces.UnknownThreshold = unknown
		}
		if index != "" {
			cfg.Faces.Index = index
		}
	})
}

func runFacesReview(cmd *cobra.Command, args []string) error {
	nonInteractive := mustGetBool(cmd, "non-interactive") || !isTerminal(os.Stdin)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, !nonInteractive)
	if err != nil {
		return err
	}
	defer a.Close()

	unknowns, err := a.store.ListUnknownWithCounts(ctx)
	if err != nil {
		return fmt.Errorf("listing unknown identities: %w", err)
	}
	if len(unknowns) == 0 {
		fmt.Println("No unknown identities.")
		return nil
	}

	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}

	examples := make(map[int64][]string, len(unknowns))
	tw := newTable("ID", "Label", "Occurrences", "Examples", "Looks like")
	for _, u := range unknowns {
		paths, err := a.store.ExamplePaths(ctx, u.Person.ID, reviewExamples)
		if err != nil {
			return fmt.Errorf("examples for %s: %w", u.Person.Label(), err)
		}
		examples[u.Person.ID] = paths
		similar := formatSuggestions(resolver.Similar(u.Person.ID, reviewSuggestions))
		tw.AppendRow(table.Row{u.Person.ID, u.Person.Label(), u.Occurrences, strings.Join(paths, "\n"), similar})
	}
	tw.Render()

	if nonInteractive {
		return nil
	}
	return reviewLoop(ctx, resolver, unknowns, examples, os.Stdin, os.Stdout)
}

// reviewLoop asks for a name for every unknown identity in turn.
func reviewLoop(ctx context.Context, resolver *facematch.Resolver, unknowns []database.PersonCount, examples map[int64][]string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	labeled := 0
	for _, u := range unknowns {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprintf(out, "\n%s (%d occurrences)\n", u.Person.Label(), u.Occurrences)
		for _, p := range examples[u.Person.ID] {
			fmt.Fprintf(out, "  %s\n", p)
		}
		if similar := resolver.Similar(u.Person.ID, reviewSuggestions); len(similar) > 0 {
			fmt.Fprintf(out, "  looks like: %s\n", strings.ReplaceAll(formatSuggestions(similar), "\n", ", "))
		}
		fmt.Fprint(out, "Name (empty to skip, q to quit): ")
		if !scanner.Scan() {
			break
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "q" {
			break
		}
		if answer == "" {
			continue
		}
		p, err := resolver.Promote(ctx, u.Person.ID, answer)
		if err != nil {
			fmt.Fprintf(out, "  not labeled: %v\n", err)
			continue
		}
		labeled++
		fmt.Fprintf(out, "  %s is now %s\n", u.Person.Label(), p.DisplayName)
	}
	fmt.Fprintf(out, "\nLabeled %d of %d identities.\n", labeled, len(unknowns))
	return scanner.Err()
}

// formatSuggestions renders one "label (similarity)" per line.
func formatSuggestions(similar []facematch.Suggestion) string {
	lines := make([]string, len(similar))
	for i, s := range similar {
		lines[i] = fmt.Sprintf("%s (%.2f)", s.Label, s.Similarity)
	}
	return strings.Join(lines, "\n")
}

func runFacesLabel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid person id %q", args[0])
	}

	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	before, err := a.store.GetPerson(ctx, id)
	if err != nil {
		return err
	}
	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}
	p, err := resolver.Promote(ctx, id, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s is now %s\n", before.Label(), p.DisplayName)
	return nil
}
