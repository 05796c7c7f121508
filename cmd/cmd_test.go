package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/database/mock"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

func TestReviewLoop(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	resolver := facematch.NewResolver(facematch.ResolverConfig{}, store)
	if err := resolver.Load(ctx); err != nil {
		t.Fatal(err)
	}
	item := &database.MediaItem{Path: "/lib/a.jpg", Hash: "h", Kind: "image"}
	if err := store.UpsertMedia(ctx, item); err != nil {
		t.Fatal(err)
	}
	faces := []facematch.DetectedFace{{Embedding: []float32{1, 0, 0}}, {Embedding: []float32{0, 1, 0}}, {Embedding: []float32{0, 0, 1}}}
	if _, err := resolver.RecordFaces(ctx, item, faces, nil); err != nil {
		t.Fatal(err)
	}
	unknowns, err := store.ListUnknownWithCounts(ctx)
	if err != nil || len(unknowns) != 3 {
		t.Fatalf("unknowns = %v, %v", unknowns, err)
	}

	// Name the first, skip the second, reject a reserved name for the third.
	in := strings.NewReader("Alice\n\nunknown_000009\n")
	var out bytes.Buffer
	if err := reviewLoop(ctx, resolver, unknowns, nil, in, &out); err != nil {
		t.Fatal(err)
	}

	persons, _ := store.ListPersons(ctx)
	if !persons[0].IsKnown || persons[0].DisplayName != "Alice" {
		t.Errorf("first person = %+v", persons[0])
	}
	if persons[1].IsKnown || persons[2].IsKnown {
		t.Errorf("only the first person should be known: %+v", persons)
	}
	if !strings.Contains(out.String(), "not labeled") || !strings.Contains(out.String(), "Labeled 1 of 3") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestReviewLoop_Quit(t *testing.T) {
	unknowns := []database.PersonCount{
		{Person: database.Person{ID: 1, DisplayName: "unknown_000001"}, Occurrences: 2},
		{Person: database.Person{ID: 2, DisplayName: "unknown_000002"}, Occurrences: 1},
	}
	resolver := facematch.NewResolver(facematch.ResolverConfig{}, mock.NewMockStore())
	var out bytes.Buffer
	if err := reviewLoop(context.Background(), resolver, unknowns, nil, strings.NewReader("q\nBob\n"), &out); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "unknown_000002 (") {
		t.Errorf("review continued after q:\n%s", out.String())
	}
}

func TestReviewLoop_ShowsLookalikes(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	resolver := facematch.NewResolver(facematch.ResolverConfig{}, store)
	item := &database.MediaItem{Path: "/lib/a.jpg", Hash: "h", Kind: "image"}
	if err := store.UpsertMedia(ctx, item); err != nil {
		t.Fatal(err)
	}
	// Cosine 0.5: below the matching threshold, close enough to suggest.
	faces := []facematch.DetectedFace{{Embedding: []float32{1, 0, 0}}, {Embedding: []float32{0.5, 0.8660254, 0}}, {Embedding: []float32{0, 0, 1}}}
	if _, err := resolver.RecordFaces(ctx, item, faces, nil); err != nil {
		t.Fatal(err)
	}
	unknowns, _ := store.ListUnknownWithCounts(ctx)

	var out bytes.Buffer
	if err := reviewLoop(ctx, resolver, unknowns[:1], nil, strings.NewReader("\n"), &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "looks like: unknown_000002 (0.50)") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
	if strings.Contains(out.String(), "unknown_000003 (") {
		t.Errorf("an unrelated face was suggested:\n%s", out.String())
	}
}

func TestProgressReporter_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	p := &progressReporter{asJSON: true, enc: json.NewEncoder(&buf)}
	p.report(pipeline.ProgressInfo{Stage: "faces", Current: 1, Total: 2, Path: "/a.jpg", Status: "faces_done"})
	p.report(pipeline.ProgressInfo{Stage: "faces", Current: 2, Total: 2, Path: "/b.jpg", Status: "error", Message: "boom"})
	p.finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var last progressLine
	if err := json.Unmarshal([]byte(lines[1]), &last); err != nil {
		t.Fatal(err)
	}
	if last.Path != "/b.jpg" || last.Status != "error" || last.Message != "boom" {
		t.Errorf("last line = %+v", last)
	}
	if strings.Contains(lines[0], "message") {
		t.Errorf("empty message should be omitted: %s", lines[0])
	}
}

func TestPlanInputs_SkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	items := []database.MediaItem{
		{Path: present, Hash: "h1", MetaJSON: `{"suggested_filename_base":"beach"}`},
		{Path: filepath.Join(dir, "gone.jpg"), Hash: "h2"},
	}

	inputs := planInputs(items, zap.NewNop())
	if len(inputs) != 1 || inputs[0].Path != present || inputs[0].SuggestedBase != "beach" {
		t.Errorf("inputs = %+v", inputs)
	}
}
