package database

import (
	"fmt"
	"time"

	"github.com/kozaktomas/media-annotator/internal/constants"
)

// Pipeline status values stored on media items. The stage names double as
// statuses; StatusError is a status but never a stage.
const (
	StatusDiscovered = "discovered"
	StatusFacesDone  = "faces_done"
	StatusLLMDone    = "llm_done"
	StatusRenamed    = "renamed"
	StatusError      = "error"
)

// MediaItem is one catalogued file, keyed by absolute path.
type MediaItem struct {
	ID              int64
	Path            string
	Hash            string
	Kind            string // constants.KindImage or constants.KindVideo
	ExifJSON        string
	MetaJSON        string
	Status          string
	ErrorMessage    string
	LastProcessedAt *time.Time
	PipelineVersion string
}

// Person is an identity that face observations are attributed to.
type Person struct {
	ID          int64
	DisplayName string
	IsKnown     bool
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Label returns the display name, or the synthesized anonymous label.
func (p Person) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return UnknownLabel(p.ID)
}

// UnknownLabel formats the anonymous label for sequence n.
func UnknownLabel(n int64) string {
	return fmt.Sprintf("%s_%06d", constants.UnknownPrefix, n)
}

// FaceObservation is one detected face. Rows are append-only.
type FaceObservation struct {
	ID          int64
	PersonID    int64
	MediaPath   string
	MediaHash   string
	FrameTimeMS *int64 // videos only
	BBox        []float64
	Embedding   []float32
	Quality     float64
	CreatedAt   time.Time
}

// MediaFace aggregates observations per (media item, person) pair.
type MediaFace struct {
	MediaID      int64
	PersonID     int64
	Count        int
	FirstFrameMS *int64
	LastFrameMS  *int64
}

// MediaPerson is a MediaFace joined with its person, as fed to describers.
type MediaPerson struct {
	Person Person
	Count  int
}

// PersonCount is a person together with its total occurrence count.
type PersonCount struct {
	Person      Person
	Occurrences int
}

// ObservationVector is the minimum needed to rebuild the in-memory pools.
type ObservationVector struct {
	ObservationID int64
	PersonID      int64
	IsKnown       bool
	Embedding     []float32
}

// RenameHistoryRecord is written after each applied rename or copy.
type RenameHistoryRecord struct {
	ID          int64
	MediaHash   string
	OldPath     string
	NewPath     string
	SidecarsOld []string
	SidecarsNew []string
	Mode        string
	AppliedAt   time.Time
}
