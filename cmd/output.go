package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressLine is one line of machine-readable progress on stdout.
type progressLine struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Path    string `json:"path"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// progressReporter draws one progress bar per stage on a terminal and
// writes JSON lines otherwise, or when asJSON is set.
type progressReporter struct {
	asJSON bool
	out    io.Writer

	mu    sync.Mutex
	stage string
	bar   *progressbar.ProgressBar
	enc   *json.Encoder
}

func newProgressReporter(asJSON bool) *progressReporter {
	p := &progressReporter{asJSON: asJSON || !isTerminal(os.Stdout), out: os.Stdout}
	p.enc = json.NewEncoder(p.out)
	return p
}

func (p *progressReporter) report(info pipeline.ProgressInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		_ = p.enc.Encode(progressLine(info))
		return
	}
	if info.Stage != p.stage || p.bar == nil {
		p.finishLocked()
		p.stage = info.Stage
		p.bar = progressbar.NewOptions(info.Total,
			progressbar.OptionSetDescription(stageDescription(info.Stage)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}
	_ = p.bar.Set(info.Current)
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressReporter) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(os.Stderr)
		p.bar = nil
	}
}

func stageDescription(stage string) string {
	switch stage {
	case pipeline.StageScan:
		return "Scanning"
	case pipeline.StageFaces:
		return "Detecting faces"
	case pipeline.StageDescribe:
		return "Describing"
	}
	return stage
}

// printSummary prints status counts and every failed item.
func printSummary(results []pipeline.Result) {
	counts := pipeline.Summarize(results)
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	fmt.Printf("\nProcessed: %d\n", len(results))
	for _, s := range statuses {
		fmt.Printf("  %-12s %d\n", s, counts[s])
	}
	var failed []pipeline.Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		fmt.Printf("\nErrors: %d\n", len(failed))
		for _, r := range failed {
			fmt.Printf("  - [%s] %s: %v\n", r.Stage, r.Path, r.Err)
		}
	}
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row(header))
	return tw
}
