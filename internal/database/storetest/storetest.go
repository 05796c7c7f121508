// Package storetest holds behaviour checks shared by every database.Store
// implementation. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/media-annotator/internal/database"
)

// Opener returns a fresh, empty store. Run closes nothing; cleanup is the
// opener's job.
type Opener func(t *testing.T) database.Store

// Run exercises the store contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("UpsertMedia", func(t *testing.T) { testUpsertMedia(t, open(t)) })
	t.Run("MarkStatusMissing", func(t *testing.T) { testMarkStatusMissing(t, open(t)) })
	t.Run("UnknownLabels", func(t *testing.T) { testUnknownLabels(t, open(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Observations", func(t *testing.T) { testObservations(t, open(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, open(t)) })
}

func int64p(v int64) *int64 { return &v }

func testUpsertMedia(t *testing.T, store database.Store) {
	ctx := context.Background()
	item := &database.MediaItem{Path: "/lib/a.jpg", Hash: "h1", Kind: "image", PipelineVersion: "1.0"}
	if err := store.UpsertMedia(ctx, item); err != nil {
		t.Fatal(err)
	}
	if item.ID == 0 || item.Status != database.StatusDiscovered {
		t.Fatalf("new item not populated: %+v", item)
	}
	if err := store.MarkStatus(ctx, item.ID, database.StatusFacesDone, "1.0", ""); err != nil {
		t.Fatal(err)
	}
	// Marking twice with identical values must still find the row.
	if err := store.MarkStatus(ctx, item.ID, database.StatusFacesDone, "1.0", ""); err != nil {
		t.Fatalf("repeated MarkStatus() error = %v", err)
	}

	again := &database.MediaItem{Path: "/lib/a.jpg", Hash: "h1", Kind: "image", PipelineVersion: "2.0"}
	if err := store.UpsertMedia(ctx, again); err != nil {
		t.Fatal(err)
	}
	if again.ID != item.ID || again.Status != database.StatusFacesDone || again.PipelineVersion != "1.0" {
		t.Errorf("rescan with same hash changed the row: %+v", again)
	}

	changed := &database.MediaItem{Path: "/lib/a.jpg", Hash: "h2", Kind: "image", PipelineVersion: "1.0"}
	if err := store.UpsertMedia(ctx, changed); err != nil {
		t.Fatal(err)
	}
	if changed.Status != database.StatusDiscovered {
		t.Errorf("status after hash change = %q, want discovered", changed.Status)
	}

	if err := store.UpsertMedia(ctx, &database.MediaItem{Path: "/other/b.jpg", Hash: "x", Kind: "image", PipelineVersion: "1"}); err != nil {
		t.Fatal(err)
	}
	items, err := store.ListMedia(ctx, "/lib/")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Path != "/lib/a.jpg" {
		t.Errorf("ListMedia(/lib/) = %+v", items)
	}
}

func testMarkStatusMissing(t *testing.T, store database.Store) {
	err := store.MarkStatus(context.Background(), 4242, database.StatusError, "1.0", "boom")
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func createUnknown(t *testing.T, store database.Store) *database.Person {
	t.Helper()
	ctx := context.Background()
	var p *database.Person
	err := store.InTx(ctx, func(tx database.Tx) error {
		var err error
		p, err = tx.CreateUnknownPerson(ctx)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testUnknownLabels(t *testing.T, store database.Store) {
	ctx := context.Background()
	first := createUnknown(t, store)
	second := createUnknown(t, store)
	if first.DisplayName != "unknown_000001" || second.DisplayName != "unknown_000002" {
		t.Fatalf("labels = %q, %q", first.DisplayName, second.DisplayName)
	}
	if err := store.PromotePerson(ctx, second.ID, "Alice"); err != nil {
		t.Fatal(err)
	}
	third := createUnknown(t, store)
	if third.DisplayName != "unknown_000003" {
		t.Errorf("label after promotion = %q, want unknown_000003", third.DisplayName)
	}
	got, err := store.GetPerson(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsKnown || got.DisplayName != "Alice" {
		t.Errorf("promoted person = %+v", got)
	}
	if err := store.PromotePerson(ctx, 9999, "Nobody"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("promoting a missing person: %v", err)
	}
}

func testRollback(t *testing.T, store database.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx database.Tx) error {
		if _, err := tx.CreateUnknownPerson(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	persons, err := store.ListPersons(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(persons) != 0 {
		t.Errorf("expected rollback, found %d persons", len(persons))
	}
	if p := createUnknown(t, store); p.DisplayName != "unknown_000001" {
		t.Errorf("label after rollback = %q", p.DisplayName)
	}
}

func testObservations(t *testing.T, store database.Store) {
	ctx := context.Background()
	item := &database.MediaItem{Path: "/lib/clip.mp4", Hash: "hv", Kind: "video", PipelineVersion: "1"}
	if err := store.UpsertMedia(ctx, item); err != nil {
		t.Fatal(err)
	}
	alice := createUnknown(t, store)
	bob := createUnknown(t, store)

	observe := func(personID int64, frame *int64, vec []float32) {
		t.Helper()
		err := store.InTx(ctx, func(tx database.Tx) error {
			obs := &database.FaceObservation{
				PersonID: personID, MediaPath: item.Path, MediaHash: item.Hash,
				FrameTimeMS: frame, BBox: []float64{1, 2, 3, 4}, Embedding: vec, Quality: 0.9,
			}
			if err := tx.InsertObservation(ctx, obs); err != nil {
				return err
			}
			if obs.ID == 0 {
				t.Error("observation id not set")
			}
			return tx.UpsertMediaFace(ctx, item.ID, personID, frame)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	observe(alice.ID, int64p(2000), []float32{1, 0, 0})
	observe(alice.ID, int64p(500), []float32{0.5, 0.25, 0})
	observe(bob.ID, int64p(1000), []float32{0, 1, 0})

	mf, err := store.GetMediaFace(ctx, item.ID, alice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if mf.Count != 2 || mf.FirstFrameMS == nil || *mf.FirstFrameMS != 500 || *mf.LastFrameMS != 2000 {
		t.Errorf("unexpected summary: %+v", mf)
	}
	if _, err := store.GetMediaFace(ctx, item.ID, 9999); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("missing pair: %v", err)
	}

	persons, err := store.ListMediaPersons(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(persons) != 2 || persons[0].Person.ID != alice.ID || persons[0].Count != 2 {
		t.Errorf("expected alice first: %+v", persons)
	}

	vectors, err := store.ListObservationVectors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 || vectors[1].Embedding[0] != 0.5 || vectors[1].Embedding[1] != 0.25 {
		t.Fatalf("vectors = %+v", vectors)
	}

	unknowns, err := store.ListUnknownWithCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unknowns) != 2 || unknowns[0].Occurrences != 2 || unknowns[1].Occurrences != 1 {
		t.Errorf("unknown counts = %+v", unknowns)
	}

	if n, err := store.CountObservations(ctx); err != nil || n != 3 {
		t.Errorf("CountObservations() = %d, %v", n, err)
	}
	if paths, err := store.ExamplePaths(ctx, alice.ID, 5); err != nil || len(paths) != 1 {
		t.Errorf("ExamplePaths() = %v, %v", paths, err)
	}
}

func testHistory(t *testing.T, store database.Store) {
	ctx := context.Background()
	if err := store.UpsertMedia(ctx, &database.MediaItem{Path: "/lib/old.jpg", Hash: "h", Kind: "image", PipelineVersion: "1"}); err != nil {
		t.Fatal(err)
	}
	err := store.InTx(ctx, func(tx database.Tx) error {
		rec := &database.RenameHistoryRecord{
			MediaHash: "h", OldPath: "/lib/old.jpg", NewPath: "/lib/new.jpg",
			SidecarsOld: []string{"/lib/old.txt"}, SidecarsNew: []string{"/lib/new.txt"}, Mode: "rename",
		}
		if err := tx.InsertHistory(ctx, rec); err != nil {
			return err
		}
		if err := tx.RelocateMedia(ctx, "/lib/old.jpg", "/lib/new.jpg"); err != nil {
			return err
		}
		if err := tx.RelocateMedia(ctx, "/lib/not-catalogued.jpg", "/lib/x.jpg"); err != nil {
			return err
		}
		return tx.SetStatusByPath(ctx, "/lib/new.jpg", database.StatusRenamed)
	})
	if err != nil {
		t.Fatal(err)
	}

	history, err := store.ListHistory(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].SidecarsNew[0] != "/lib/new.txt" || history[0].AppliedAt.IsZero() {
		t.Errorf("unexpected history: %+v", history)
	}
	item, err := store.GetMedia(ctx, "/lib/new.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != database.StatusRenamed {
		t.Errorf("status = %q, want renamed", item.Status)
	}
	if _, err := store.GetMedia(ctx, "/lib/old.jpg"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("old path should be gone, got %v", err)
	}
}
