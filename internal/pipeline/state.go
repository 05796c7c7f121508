// Package pipeline drives catalogued media through scan, face
// preprocessing and description, gating every stage on the item's status
// and the pipeline version that produced it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

var stageOrder = map[string]int{
	database.StatusDiscovered: 0,
	database.StatusFacesDone:  1,
	database.StatusLLMDone:    2,
	database.StatusRenamed:    3,
}

// ShouldRun reports whether item needs the stage that ends in target.
// Forced runs and items stamped by another pipeline version always run,
// as do items whose status (error included) or target is not a stage.
func ShouldRun(item database.MediaItem, version string, force bool, target string) bool {
	if force {
		return true
	}
	if item.PipelineVersion != version {
		return true
	}
	current, ok := stageOrder[item.Status]
	if !ok {
		return true
	}
	want, ok := stageOrder[target]
	if !ok {
		return true
	}
	return current < want
}

// State records stage transitions in the store.
type State struct {
	store   database.MediaWriter
	version string
}

func NewState(store database.MediaWriter, version string) *State {
	return &State{store: store, version: version}
}

// Advance marks item as having completed stage and clears any error.
func (s *State) Advance(ctx context.Context, item *database.MediaItem, stage string) error {
	if _, ok := stageOrder[stage]; !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if err := s.store.MarkStatus(ctx, item.ID, stage, s.version, ""); err != nil {
		return fmt.Errorf("mark %s %s: %w", item.Path, stage, err)
	}
	item.Status = stage
	item.ErrorMessage = ""
	item.PipelineVersion = s.version
	return nil
}

// Fail marks item as errored with cause's message.
func (s *State) Fail(ctx context.Context, item *database.MediaItem, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.store.MarkStatus(ctx, item.ID, database.StatusError, s.version, msg); err != nil {
		return fmt.Errorf("mark %s failed: %w", item.Path, err)
	}
	item.Status = database.StatusError
	item.ErrorMessage = msg
	item.PipelineVersion = s.version
	return nil
}
