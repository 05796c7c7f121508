package rename

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/fileutil"
	"github.com/kozaktomas/media-annotator/internal/sidecar"
)

// PlanInput is what the planner needs to know about one item.
type PlanInput struct {
	Path            string
	Hash            string
	SuggestedBase   string
	CaptureDatetime string
	People          []string
}

// PlanOptions configure a planning run.
type PlanOptions struct {
	InputRoot     string
	OutputRoot    string
	Mirror        bool
	MaxNameLength int
	Mode          string
	ToolVersion   string
	// Exists reports whether a path is taken on disk. Defaults to fileutil.Exists.
	Exists func(string) bool
}

type Planner struct {
	logger *zap.Logger
}

func NewPlanner(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger}
}

// Plan builds one operation per item, in input order.
func (p *Planner) Plan(items []PlanInput, opts PlanOptions) (*Plan, error) {
	if opts.MaxNameLength <= 0 {
		return nil, fmt.Errorf("max name length must be positive, got %d", opts.MaxNameLength)
	}
	if opts.Mode == "" {
		opts.Mode = ModeRename
	}
	exists := opts.Exists
	if exists == nil {
		exists = fileutil.Exists
	}

	plan := &Plan{
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		ToolVersion: opts.ToolVersion,
		Mode:        opts.Mode,
		InputRoot:   optional(opts.InputRoot),
		OutputRoot:  optional(opts.OutputRoot),
		Operations:  make([]Operation, 0, len(items)),
	}

	claimed := make(map[string]bool, len(items))
	taken := func(path string) bool {
		return occupied(path, func(p string) bool { return claimed[p] || exists(p) })
	}

	for _, item := range items {
		dir, err := targetDir(item.Path, opts)
		if err != nil {
			return nil, err
		}
		name := ComposeName(item, opts.MaxNameLength) + filepath.Ext(item.Path)
		wanted := filepath.Join(dir, name)

		target := wanted
		// An item already sitting at its composed path keeps it.
		if target != item.Path {
			target = EnsureUnique(wanted, taken)
		}
		claimed[target] = true
		for _, s := range sidecar.Paths(target) {
			claimed[s] = true
		}

		op := Operation{
			MediaHash:          item.Hash,
			OldPath:            item.Path,
			NewPath:            target,
			SidecarsOld:        sidecar.Paths(item.Path),
			SidecarsNew:        sidecar.Paths(target),
			ConflictsResolved:  target != wanted,
			ResolutionStrategy: StrategyNone,
		}
		if op.ConflictsResolved {
			op.ResolutionStrategy = StrategySuffix
		}
		plan.Operations = append(plan.Operations, op)
	}

	p.logger.Info("generated rename plan", zap.Int("operations", len(plan.Operations)), zap.String("mode", plan.Mode))
	return plan, nil
}

func targetDir(path string, opts PlanOptions) (string, error) {
	switch {
	case opts.OutputRoot != "" && opts.Mirror && opts.InputRoot != "":
		rel, err := filepath.Rel(opts.InputRoot, filepath.Dir(path))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is not under input root %s", path, opts.InputRoot)
		}
		return filepath.Join(opts.OutputRoot, rel), nil
	case opts.OutputRoot != "":
		return opts.OutputRoot, nil
	default:
		return filepath.Dir(path), nil
	}
}

// ComposeName builds the new base name (without extension):
// date prefix, sanitized base, up to three named people, truncated to maxLen runes.
func ComposeName(item PlanInput, maxLen int) string {
	base := Sanitize(item.SuggestedBase)
	if base == "" {
		base = Sanitize(strings.TrimSuffix(filepath.Base(item.Path), filepath.Ext(item.Path)))
	}
	if item.CaptureDatetime != "" {
		date, _, _ := strings.Cut(item.CaptureDatetime, "T")
		base = date + "_" + base
	}

	names := make([]string, 0, constants.MaxNamesInFilename)
	for _, n := range item.People {
		if len(names) == constants.MaxNamesInFilename {
			break
		}
		if n == "" || strings.HasPrefix(n, constants.UnknownPrefix) {
			continue
		}
		names = append(names, n)
	}
	if len(names) > 0 {
		base += "_" + strings.Join(names, "_")
	}

	if r := []rune(base); len(r) > maxLen {
		base = string(r[:maxLen])
	}
	return base
}

// Sanitize makes s safe as a file name: NFC, forbidden characters removed,
// whitespace runs collapsed to "_" and dots or spaces trimmed from both ends.
func Sanitize(s string) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.ForbiddenFilenameChars, r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), "_")
	return strings.Trim(s, ". ")
}

// occupied reports whether path or one of its sidecars is taken. Primaries
// sharing a stem share sidecars, so beach.png's beach.txt blocks beach.jpg.
func occupied(path string, taken func(string) bool) bool {
	if taken(path) {
		return true
	}
	for _, s := range sidecar.Paths(path) {
		if taken(s) {
			return true
		}
	}
	return false
}

// EnsureUnique returns path when it is free, otherwise the first free
// stem_NNN.ext starting at 001.
func EnsureUnique(path string, taken func(string) bool) string {
	if !taken(path) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%03d%s", stem, i, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type itemMeta struct {
	SuggestedFilenameBase string `json:"suggested_filename_base"`
	CaptureDatetime       string `json:"capture_datetime"`
	DetectedPersons       []struct {
		Name string `json:"name"`
	} `json:"detected_persons"`
}

// InputFromItem reads planning inputs from an item's stored description.
// Items without a description fall back to their current stem.
func InputFromItem(item database.MediaItem) (PlanInput, error) {
	in := PlanInput{Path: item.Path, Hash: item.Hash}
	if item.MetaJSON == "" {
		return in, nil
	}
	var meta itemMeta
	if err := json.Unmarshal([]byte(item.MetaJSON), &meta); err != nil {
		return in, fmt.Errorf("parse meta for %s: %w", item.Path, err)
	}
	in.SuggestedBase = meta.SuggestedFilenameBase
	in.CaptureDatetime = meta.CaptureDatetime
	for _, p := range meta.DetectedPersons {
		in.People = append(in.People, p.Name)
	}
	return in, nil
}
