package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// MediaReader provides read-only access to catalogued media items
type MediaReader interface {
	// GetMedia retrieves an item by absolute path, returns ErrNotFound if missing
	GetMedia(ctx context.Context, path string) (*MediaItem, error)
	// ListMedia returns items whose path starts with prefix, ordered by path
	ListMedia(ctx context.Context, prefix string) ([]MediaItem, error)
}

// MediaWriter provides write access to media items
type MediaWriter interface {
	MediaReader

	// UpsertMedia inserts a new item with status discovered, or refreshes the hash
	// and kind of an existing one; a changed hash resets it to discovered. The
	// stored pipeline version only moves with MarkStatus. The stored row is copied back into item.
	UpsertMedia(ctx context.Context, item *MediaItem) error
	// MarkStatus sets the status, error message and last processed time of an item and
	// stamps it with the pipeline version that produced the status
	MarkStatus(ctx context.Context, id int64, status, pipelineVersion, errMsg string) error
	// SetMeta stores the raw metadata and the generated description document
	SetMeta(ctx context.Context, id int64, exifJSON, metaJSON string) error
}

// PersonReader provides read-only access to identities
type PersonReader interface {
	// ListPersons returns all persons ordered by id
	ListPersons(ctx context.Context) ([]Person, error)
	// GetPerson retrieves a person by id, returns ErrNotFound if missing
	GetPerson(ctx context.Context, id int64) (*Person, error)
	// ListUnknownWithCounts returns anonymous persons with their total occurrence counts
	ListUnknownWithCounts(ctx context.Context) ([]PersonCount, error)
	// ExamplePaths returns up to limit distinct media paths a person was observed in
	ExamplePaths(ctx context.Context, personID int64, limit int) ([]string, error)
}

// PersonWriter provides write access to identities
type PersonWriter interface {
	PersonReader

	// PromotePerson marks a person as known and sets its display name. There is no demotion.
	PromotePerson(ctx context.Context, id int64, name string) error
	// SetNotes replaces the free-text notes of a person
	SetNotes(ctx context.Context, id int64, notes string) error
}

// FaceReader provides read-only access to observations and per-media summaries
type FaceReader interface {
	// ListObservationVectors returns every stored embedding with its owner, ordered by observation id
	ListObservationVectors(ctx context.Context) ([]ObservationVector, error)
	// ListMediaPersons returns the persons seen in a media item, highest count first
	ListMediaPersons(ctx context.Context, mediaID int64) ([]MediaPerson, error)
	// GetMediaFace returns the summary for one pair, returns ErrNotFound if missing
	GetMediaFace(ctx context.Context, mediaID, personID int64) (*MediaFace, error)
	// CountObservations returns the number of stored observations
	CountObservations(ctx context.Context) (int, error)
}

// HistoryReader provides read-only access to the rename audit log
type HistoryReader interface {
	// ListHistory returns the newest records first, at most limit (0 means all)
	ListHistory(ctx context.Context, limit int) ([]RenameHistoryRecord, error)
}

// Tx groups writes that must commit together.
type Tx interface {
	// CreateUnknownPerson allocates the next value of the durable anonymous-label counter
	// and inserts an unknown person labeled with it
	CreateUnknownPerson(ctx context.Context) (*Person, error)
	// InsertObservation appends a face observation and sets its ID
	InsertObservation(ctx context.Context, obs *FaceObservation) error
	// UpsertMediaFace increments the pair count and widens the frame range
	UpsertMediaFace(ctx context.Context, mediaID, personID int64, frameMS *int64) error
	// InsertHistory appends a rename history record and sets its ID
	InsertHistory(ctx context.Context, rec *RenameHistoryRecord) error
	// RelocateMedia points the item at oldPath to newPath; a no-op when oldPath is not catalogued
	RelocateMedia(ctx context.Context, oldPath, newPath string) error
	// SetStatusByPath sets the status of the item at path; a no-op when path is not catalogued
	SetStatusByPath(ctx context.Context, path, status string) error
}

// Transactor runs fn inside a transaction, committing when fn returns nil.
type Transactor interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Store is the full persisted library.
type Store interface {
	MediaWriter
	PersonWriter
	FaceReader
	HistoryReader
	Transactor

	// Close releases the underlying connection
	Close() error
}
