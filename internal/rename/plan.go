// Package rename computes rename/copy plans for catalogued media and applies
// them to the filesystem with a durable history and an undo plan.
package rename

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kozaktomas/media-annotator/internal/sidecar"
)

// Plan modes.
const (
	ModeRename = "rename"
	ModeCopy   = "copy"
)

// Conflict resolution strategies.
const (
	StrategyNone   = "none"
	StrategySuffix = "suffix"
)

// ErrDuplicateTarget is returned when two operations share a new_path.
var ErrDuplicateTarget = errors.New("duplicate target path in plan")

// Plan is the JSON document exchanged between plan-renames and apply.
type Plan struct {
	CreatedAt   string      `json:"created_at"`
	ToolVersion string      `json:"tool_version"`
	Mode        string      `json:"mode"`
	InputRoot   *string     `json:"input_root"`
	OutputRoot  *string     `json:"output_root"`
	Operations  []Operation `json:"operations"`
}

// Operation moves or copies one primary file and its sidecars.
type Operation struct {
	MediaHash          string   `json:"media_hash"`
	OldPath            string   `json:"old_path"`
	NewPath            string   `json:"new_path"`
	SidecarsOld        []string `json:"sidecars_old"`
	SidecarsNew        []string `json:"sidecars_new"`
	ConflictsResolved  bool     `json:"conflicts_resolved"`
	ResolutionStrategy string   `json:"resolution_strategy"`
}

// Validate checks the mode and that no two operations target the same path.
func (p *Plan) Validate() error {
	if p.Mode != ModeRename && p.Mode != ModeCopy {
		return fmt.Errorf("unknown plan mode %q", p.Mode)
	}
	seen := make(map[string]int, len(p.Operations))
	for i, op := range p.Operations {
		if op.OldPath == "" || op.NewPath == "" {
			return fmt.Errorf("operation %d: old_path and new_path are required", i)
		}
		if j, ok := seen[op.NewPath]; ok {
			return fmt.Errorf("%w: operations %d and %d both target %s", ErrDuplicateTarget, j, i, op.NewPath)
		}
		seen[op.NewPath] = i
	}
	return nil
}

// Undo returns the inverse plan: old and new paths and sidecar lists swapped.
// It is built from the planned paths, not the collision-adjusted ones an
// apply may end up using.
func (p *Plan) Undo() *Plan {
	undo := &Plan{
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		ToolVersion: p.ToolVersion,
		Mode:        p.Mode,
		InputRoot:   p.OutputRoot,
		OutputRoot:  p.InputRoot,
		Operations:  make([]Operation, len(p.Operations)),
	}
	for i, op := range p.Operations {
		undo.Operations[i] = Operation{
			MediaHash:          op.MediaHash,
			OldPath:            op.NewPath,
			NewPath:            op.OldPath,
			SidecarsOld:        op.SidecarsNew,
			SidecarsNew:        op.SidecarsOld,
			ResolutionStrategy: StrategyNone,
		}
	}
	return undo
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user supplied plan file
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if plan.Mode == "" {
		plan.Mode = ModeRename
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// SavePlan writes the plan atomically.
func SavePlan(path string, plan *Plan) error {
	return sidecar.WriteJSON(path, plan)
}
