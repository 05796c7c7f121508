package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/media-annotator/internal/ai"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/media"
)

const doctorTimeout = 10 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools, services and the library database",
	Long: `Check that exiftool, ffprobe and ffmpeg are on PATH, that the face
detector and the configured LLM backend answer, and that the library
database opens with the expected schema.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	name   string
	detail string
	err    error
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var checks []check
	for _, t := range media.NewTools(nil).CheckTools() {
		checks = append(checks, check{name: t.Name, detail: t.Path, err: t.Err})
	}

	a, err := openApp(ctx, false)
	if err != nil {
		detail := "run with a fresh database or migrate the old one"
		if !errors.Is(err, database.ErrSchemaMismatch) {
			detail = ""
		}
		checks = append(checks, check{name: "database", detail: detail, err: err})
		printChecks(checks)
		return errors.New("doctor found problems")
	}
	defer a.Close()

	dbDetail := a.cfg.DatabaseURL()
	if n, err := a.store.CountObservations(ctx); err == nil {
		dbDetail = fmt.Sprintf("%s (%d face observations)", dbDetail, n)
	}
	checks = append(checks, check{name: "database", detail: dbDetail})

	detector := a.detector()
	pingCtx, pingCancel := context.WithTimeout(ctx, doctorTimeout)
	checks = append(checks, check{name: "face detector", detail: detector.BaseURL(), err: detector.Ping(pingCtx)})
	pingCancel()

	checks = append(checks, describerCheck(ctx, a))

	printChecks(checks)
	for _, c := range checks {
		if c.err != nil {
			return errors.New("doctor found problems")
		}
	}
	return nil
}

func describerCheck(ctx context.Context, a *app) check {
	c := check{name: "llm " + a.cfg.LLM.Backend}
	d, err := a.describer(ctx)
	if err != nil {
		c.err = err
		return c
	}
	c.detail = d.Model()
	p, ok := d.(ai.Pinger)
	if !ok {
		c.detail += " (not checked)"
		return c
	}
	pingCtx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	c.err = p.Ping(pingCtx)
	return c
}

func printChecks(checks []check) {
	tw := newTable("Check", "Status", "Detail")
	for _, c := range checks {
		status, detail := "ok", c.detail
		if c.err != nil {
			status = "FAIL"
			if detail != "" {
				detail += ": "
			}
			detail += c.err.Error()
		}
		tw.AppendRow(table.Row{c.name, status, detail})
	}
	tw.Render()
}
