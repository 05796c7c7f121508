package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/database/mock"
	"github.com/kozaktomas/media-annotator/internal/facematch"
	"github.com/kozaktomas/media-annotator/internal/pipeline"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return v
}

type fakeRuns struct {
	status   pipeline.RunStatus
	has      bool
	startErr error
	started  []string
	stages   []string
}

func (f *fakeRuns) Start(ctx context.Context, root string, stages ...string) (pipeline.RunStatus, error) {
	if f.startErr != nil {
		return pipeline.RunStatus{}, f.startErr
	}
	f.started = append(f.started, root)
	f.stages = stages
	f.status = pipeline.RunStatus{ID: "run-1", Root: root, Stages: stages, State: pipeline.RunRunning, StartedAt: time.Now()}
	f.has = true
	return f.status, nil
}

func (f *fakeRuns) Cancel(id string) error {
	if !f.has || id != f.status.ID || f.status.State != pipeline.RunRunning {
		return pipeline.ErrUnknownRun
	}
	f.status.State = pipeline.RunCancelled
	return nil
}

func (f *fakeRuns) Status() (pipeline.RunStatus, bool) { return f.status, f.has }

func TestRunsHandler_Start(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		defaultRoot string
		startErr    error
		wantStatus  int
		wantRoot    string
	}{
		{"explicit root and stages", `{"root":"/photos","stages":["scan","faces"]}`, "", nil, http.StatusAccepted, "/photos"},
		{"default root", ``, "/library", nil, http.StatusAccepted, "/library"},
		{"no root at all", `{}`, "", nil, http.StatusBadRequest, ""},
		{"unknown field", `{"path":"/photos"}`, "/library", nil, http.StatusBadRequest, ""},
		{"already running", `{"root":"/photos"}`, "", pipeline.ErrRunActive, http.StatusConflict, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runs := &fakeRuns{startErr: tc.startErr}
			h := NewRunsHandler(context.Background(), runs, tc.defaultRoot, nil)

			rec := httptest.NewRecorder()
			h.Start(rec, httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(tc.body)))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus != http.StatusAccepted {
				return
			}
			got := decode[pipeline.RunStatus](t, rec)
			if got.ID != "run-1" || got.Root != tc.wantRoot {
				t.Errorf("unexpected run: %+v", got)
			}
		})
	}
}

func TestRunsHandler_StatusAndCancel(t *testing.T) {
	runs := &fakeRuns{}
	h := NewRunsHandler(context.Background(), runs, "/library", nil)

	rec := httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("current before any run: got %d", rec.Code)
	}

	if _, err := runs.Start(context.Background(), "/library"); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil))
	if rec.Code != http.StatusOK || decode[pipeline.RunStatus](t, rec).ID != "run-1" {
		t.Errorf("current: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Get(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/runs/other", nil), map[string]string{"runId": "other"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown id: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Cancel(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/runs/run-1", nil), map[string]string{"runId": "run-1"}))
	if rec.Code != http.StatusAccepted || runs.status.State != pipeline.RunCancelled {
		t.Errorf("cancel: %d, state %q", rec.Code, runs.status.State)
	}

	rec = httptest.NewRecorder()
	h.Cancel(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/runs/run-1", nil), map[string]string{"runId": "run-1"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second cancel: got %d", rec.Code)
	}
}

// seedPersons records two anonymous identities: the first seen in two
// items, the second in one.
func seedPersons(t *testing.T) (*mock.MockStore, *facematch.Resolver) {
	t.Helper()
	ctx := context.Background()
	store := mock.NewMockStore()
	resolver := facematch.NewResolver(facematch.ResolverConfig{}, store)
	if err := resolver.Load(ctx); err != nil {
		t.Fatal(err)
	}
	faces := map[string][]facematch.DetectedFace{
		"/lib/a.jpg": {{Embedding: []float32{1, 0}}},
		"/lib/b.jpg": {{Embedding: []float32{1, 0.01}}, {Embedding: []float32{0, 1}}},
	}
	for _, path := range []string{"/lib/a.jpg", "/lib/b.jpg"} {
		item := &database.MediaItem{Path: path, Hash: "h-" + path, Kind: "image", PipelineVersion: "1.0"}
		if err := store.UpsertMedia(ctx, item); err != nil {
			t.Fatal(err)
		}
		if _, err := resolver.RecordFaces(ctx, item, faces[path], nil); err != nil {
			t.Fatal(err)
		}
	}
	return store, resolver
}

func TestPersonsHandler_ListAndUnknown(t *testing.T) {
	store, resolver := seedPersons(t)
	h := NewPersonsHandler(store, resolver, nil)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/persons", nil))
	persons := decode[[]PersonResponse](t, rec)
	if len(persons) != 2 || persons[0].Label != "unknown_000001" || persons[1].Label != "unknown_000002" {
		t.Fatalf("persons = %+v", persons)
	}

	if _, err := resolver.Promote(context.Background(), 2, "Jiří Novák"); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/persons?q=jiri", nil))
	if found := decode[[]PersonResponse](t, rec); len(found) != 1 || found[0].ID != 2 {
		t.Errorf("search = %+v", found)
	}

	rec = httptest.NewRecorder()
	h.Unknown(rec, httptest.NewRequest(http.MethodGet, "/api/v1/persons/unknown?examples=5", nil))
	unknown := decode[[]PersonResponse](t, rec)
	if len(unknown) != 1 {
		t.Fatalf("unknown = %+v", unknown)
	}
	if unknown[0].Occurrences != 2 || len(unknown[0].Examples) != 2 || unknown[0].Examples[0] != "/lib/a.jpg" {
		t.Errorf("first unknown = %+v", unknown[0])
	}

	rec = httptest.NewRecorder()
	h.Unknown(rec, httptest.NewRequest(http.MethodGet, "/api/v1/persons/unknown?examples=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative examples: got %d", rec.Code)
	}
	if len(unknown[0].Similar) != 0 {
		t.Errorf("an orthogonal face is no look-alike: %+v", unknown[0].Similar)
	}

	rec = httptest.NewRecorder()
	h.Unknown(rec, httptest.NewRequest(http.MethodGet, "/api/v1/persons/unknown?similar=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad similar: got %d", rec.Code)
	}
}

func TestPersonsHandler_Label(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"labels unknown", "1", `{"name":" Alice "}`, http.StatusOK},
		{"reserved name", "1", `{"name":"unknown_000777"}`, http.StatusBadRequest},
		{"empty name", "1", `{"name":""}`, http.StatusBadRequest},
		{"missing person", "99", `{"name":"Bob"}`, http.StatusNotFound},
		{"bad id", "abc", `{"name":"Bob"}`, http.StatusBadRequest},
		{"bad body", "1", `not json`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, resolver := seedPersons(t)
			h := NewPersonsHandler(store, resolver, nil)

			req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/"+tc.id+"/name", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Label(rec, requestWithChiParams(req, map[string]string{"id": tc.id}))

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			got := decode[PersonResponse](t, rec)
			if got.Label != "Alice" || !got.IsKnown {
				t.Errorf("labeled person = %+v", got)
			}
			// The person leaves the unknown review list.
			unknown, _ := store.ListUnknownWithCounts(context.Background())
			if len(unknown) != 1 || unknown[0].Person.ID != 2 {
				t.Errorf("unknown after label = %+v", unknown)
			}
		})
	}
}

func TestPersonsHandler_GetAndNotes(t *testing.T) {
	store, resolver := seedPersons(t)
	h := NewPersonsHandler(store, resolver, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/persons/2/notes", strings.NewReader(`{"notes":"cousin from Brno"}`))
	rec := httptest.NewRecorder()
	h.Notes(rec, requestWithChiParams(req, map[string]string{"id": "2"}))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("notes: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Get(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/persons/2", nil), map[string]string{"id": "2"}))
	if got := decode[PersonResponse](t, rec); got.Notes != "cousin from Brno" {
		t.Errorf("person = %+v", got)
	}

	rec = httptest.NewRecorder()
	h.Get(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/persons/9", nil), map[string]string{"id": "9"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing person: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/v1/persons/9/notes", strings.NewReader(`{"notes":"x"}`))
	rec = httptest.NewRecorder()
	h.Notes(rec, requestWithChiParams(req, map[string]string{"id": "9"}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("notes on missing person: got %d", rec.Code)
	}
}

func TestMediaHandler_List(t *testing.T) {
	store, _ := seedPersons(t)
	ctx := context.Background()
	b, _ := store.GetMedia(ctx, "/lib/b.jpg")
	if err := store.MarkStatus(ctx, b.ID, database.StatusFacesDone, "1.0", ""); err != nil {
		t.Fatal(err)
	}
	h := NewMediaHandler(store, nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"/lib/a.jpg", "/lib/b.jpg"}},
		{"?status=faces_done", []string{"/lib/b.jpg"}},
		{"?prefix=/other/", nil},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/media"+tc.query, nil))
			items := decode[[]MediaResponse](t, rec)
			if len(items) != len(tc.want) {
				t.Fatalf("items = %+v, want %v", items, tc.want)
			}
			for i, it := range items {
				if it.Path != tc.want[i] {
					t.Errorf("item %d = %s, want %s", i, it.Path, tc.want[i])
				}
			}
		})
	}
}

func TestMediaHandler_History(t *testing.T) {
	store := mock.NewMockStore()
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		err := store.InTx(ctx, func(tx database.Tx) error {
			return tx.InsertHistory(ctx, &database.RenameHistoryRecord{
				MediaHash: name, OldPath: "/lib/" + name + ".jpg", NewPath: "/out/" + name + ".jpg",
				Mode: "copy", AppliedAt: time.Now(),
			})
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	h := NewMediaHandler(store, nil)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=2", nil))
	records := decode[[]HistoryResponse](t, rec)
	if len(records) != 2 || records[0].MediaHash != "c" {
		t.Errorf("history = %+v", records)
	}

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d", rec.Code)
	}
}
