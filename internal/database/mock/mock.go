// Package mock provides an in-memory database.Store for testing.
package mock

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/media-annotator/internal/database"
)

type mediaFaceKey struct {
	mediaID, personID int64
}

type state struct {
	media        map[string]*database.MediaItem
	persons      map[int64]*database.Person
	observations []database.FaceObservation
	mediaFaces   map[mediaFaceKey]*database.MediaFace
	history      []database.RenameHistoryRecord
	counter      int64
	nextMediaID  int64
	nextPersonID int64
	nextObsID    int64
	nextHistID   int64
}

func (s *state) clone() *state {
	c := *s
	c.media = make(map[string]*database.MediaItem, len(s.media))
	for k, v := range s.media {
		item := *v
		c.media[k] = &item
	}
	c.persons = make(map[int64]*database.Person, len(s.persons))
	for k, v := range s.persons {
		p := *v
		c.persons[k] = &p
	}
	c.mediaFaces = make(map[mediaFaceKey]*database.MediaFace, len(s.mediaFaces))
	for k, v := range s.mediaFaces {
		mf := *v
		c.mediaFaces[k] = &mf
	}
	c.observations = slices.Clone(s.observations)
	c.history = slices.Clone(s.history)
	return &c
}

// MockStore is an in-memory implementation of database.Store. Transactions
// work on a copy of the data that replaces the original on commit.
type MockStore struct {
	writeMu sync.Mutex // serializes writers and transactions
	mu      sync.RWMutex
	st      *state
	now     func() time.Time

	// Error injection
	UpsertMediaError     error
	MarkStatusError      error
	SetMetaError         error
	InTxError            error
	ListVectorsError     error
	InsertHistoryError   error
	InsertObservationErr error
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		st: &state{
			media:      make(map[string]*database.MediaItem),
			persons:    make(map[int64]*database.Person),
			mediaFaces: make(map[mediaFaceKey]*database.MediaFace),
		},
		now: time.Now,
	}
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

// GetMedia retrieves an item by path.
func (m *MockStore) GetMedia(ctx context.Context, path string) (*database.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.st.media[path]
	if !ok {
		return nil, fmt.Errorf("media %s: %w", path, database.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

// ListMedia returns items under prefix ordered by path.
func (m *MockStore) ListMedia(ctx context.Context, prefix string) ([]database.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.MediaItem
	for path, item := range m.st.media {
		if strings.HasPrefix(path, prefix) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// UpsertMedia inserts or refreshes an item. A changed hash resets the status.
func (m *MockStore) UpsertMedia(ctx context.Context, item *database.MediaItem) error {
	if m.UpsertMediaError != nil {
		return m.UpsertMediaError
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.st.media[item.Path]
	if !ok {
		m.st.nextMediaID++
		stored := &database.MediaItem{
			ID:              m.st.nextMediaID,
			Path:            item.Path,
			Hash:            item.Hash,
			Kind:            item.Kind,
			Status:          database.StatusDiscovered,
			PipelineVersion: item.PipelineVersion,
		}
		m.st.media[item.Path] = stored
		*item = *stored
		return nil
	}
	if existing.Hash != item.Hash {
		existing.Status = database.StatusDiscovered
		existing.ErrorMessage = ""
	}
	existing.Hash = item.Hash
	existing.Kind = item.Kind
	*item = *existing
	return nil
}

func (m *MockStore) byID(id int64) *database.MediaItem {
	for _, item := range m.st.media {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// MarkStatus sets status, version and error message of an item.
func (m *MockStore) MarkStatus(ctx context.Context, id int64, status, pipelineVersion, errMsg string) error {
	if m.MarkStatusError != nil {
		return m.MarkStatusError
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.byID(id)
	if item == nil {
		return fmt.Errorf("media %d: %w", id, database.ErrNotFound)
	}
	now := m.now()
	item.Status = status
	item.PipelineVersion = pipelineVersion
	item.ErrorMessage = errMsg
	item.LastProcessedAt = &now
	return nil
}

// SetMeta stores metadata documents on an item.
func (m *MockStore) SetMeta(ctx context.Context, id int64, exifJSON, metaJSON string) error {
	if m.SetMetaError != nil {
		return m.SetMetaError
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.byID(id)
	if item == nil {
		return fmt.Errorf("media %d: %w", id, database.ErrNotFound)
	}
	item.ExifJSON = exifJSON
	item.MetaJSON = metaJSON
	return nil
}

// ListPersons returns persons ordered by id.
func (m *MockStore) ListPersons(ctx context.Context) ([]database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Person
	for _, id := range slices.Sorted(maps.Keys(m.st.persons)) {
		out = append(out, *m.st.persons[id])
	}
	return out, nil
}

// GetPerson retrieves a person by id.
func (m *MockStore) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.st.persons[id]
	if !ok {
		return nil, fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListUnknownWithCounts returns unknown persons with summed occurrences.
func (m *MockStore) ListUnknownWithCounts(ctx context.Context) ([]database.PersonCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.PersonCount
	for _, id := range slices.Sorted(maps.Keys(m.st.persons)) {
		p := m.st.persons[id]
		if p.IsKnown {
			continue
		}
		total := 0
		for k, mf := range m.st.mediaFaces {
			if k.personID == id {
				total += mf.Count
			}
		}
		out = append(out, database.PersonCount{Person: *p, Occurrences: total})
	}
	return out, nil
}

// ExamplePaths returns distinct media paths for a person in observation order.
func (m *MockStore) ExamplePaths(ctx context.Context, personID int64, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, obs := range m.st.observations {
		if obs.PersonID != personID || slices.Contains(out, obs.MediaPath) {
			continue
		}
		out = append(out, obs.MediaPath)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// PromotePerson names a person and marks it known.
func (m *MockStore) PromotePerson(ctx context.Context, id int64, name string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.persons[id]
	if !ok {
		return fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	p.DisplayName = name
	p.IsKnown = true
	p.UpdatedAt = m.now()
	return nil
}

// SetNotes replaces the notes of a person.
func (m *MockStore) SetNotes(ctx context.Context, id int64, notes string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.persons[id]
	if !ok {
		return fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	p.Notes = notes
	p.UpdatedAt = m.now()
	return nil
}

// ListObservationVectors returns embeddings in insertion order.
func (m *MockStore) ListObservationVectors(ctx context.Context) ([]database.ObservationVector, error) {
	if m.ListVectorsError != nil {
		return nil, m.ListVectorsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.ObservationVector, 0, len(m.st.observations))
	for _, obs := range m.st.observations {
		known := false
		if p, ok := m.st.persons[obs.PersonID]; ok {
			known = p.IsKnown
		}
		out = append(out, database.ObservationVector{
			ObservationID: obs.ID,
			PersonID:      obs.PersonID,
			IsKnown:       known,
			Embedding:     slices.Clone(obs.Embedding),
		})
	}
	return out, nil
}

// ListMediaPersons returns persons seen in an item, highest count first.
func (m *MockStore) ListMediaPersons(ctx context.Context, mediaID int64) ([]database.MediaPerson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.MediaPerson
	for k, mf := range m.st.mediaFaces {
		if k.mediaID != mediaID {
			continue
		}
		if p, ok := m.st.persons[k.personID]; ok {
			out = append(out, database.MediaPerson{Person: *p, Count: mf.Count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Person.ID < out[j].Person.ID
	})
	return out, nil
}

// GetMediaFace returns the summary of one pair.
func (m *MockStore) GetMediaFace(ctx context.Context, mediaID, personID int64) (*database.MediaFace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mf, ok := m.st.mediaFaces[mediaFaceKey{mediaID, personID}]
	if !ok {
		return nil, fmt.Errorf("media face %d/%d: %w", mediaID, personID, database.ErrNotFound)
	}
	cp := *mf
	return &cp, nil
}

// CountObservations returns the number of observations.
func (m *MockStore) CountObservations(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.st.observations), nil
}

// ListHistory returns history newest first.
func (m *MockStore) ListHistory(ctx context.Context, limit int) ([]database.RenameHistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.st.history)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InTx runs fn against a copy of the data and publishes it when fn succeeds.
func (m *MockStore) InTx(ctx context.Context, fn func(database.Tx) error) error {
	if m.InTxError != nil {
		return m.InTxError
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	work := m.st.clone()
	m.mu.RUnlock()

	if err := fn(&mockTx{m: m, st: work}); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = work
	m.mu.Unlock()
	return nil
}

type mockTx struct {
	m  *MockStore
	st *state
}

func (t *mockTx) CreateUnknownPerson(ctx context.Context) (*database.Person, error) {
	t.st.counter++
	t.st.nextPersonID++
	now := t.m.now()
	p := &database.Person{
		ID:          t.st.nextPersonID,
		DisplayName: database.UnknownLabel(t.st.counter),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.st.persons[p.ID] = p
	cp := *p
	return &cp, nil
}

func (t *mockTx) InsertObservation(ctx context.Context, obs *database.FaceObservation) error {
	if t.m.InsertObservationErr != nil {
		return t.m.InsertObservationErr
	}
	if _, ok := t.st.persons[obs.PersonID]; !ok {
		return fmt.Errorf("person %d: %w", obs.PersonID, database.ErrNotFound)
	}
	t.st.nextObsID++
	obs.ID = t.st.nextObsID
	obs.CreatedAt = t.m.now()
	stored := *obs
	stored.Embedding = slices.Clone(obs.Embedding)
	t.st.observations = append(t.st.observations, stored)
	return nil
}

func (t *mockTx) UpsertMediaFace(ctx context.Context, mediaID, personID int64, frameMS *int64) error {
	key := mediaFaceKey{mediaID, personID}
	mf, ok := t.st.mediaFaces[key]
	if !ok {
		mf = &database.MediaFace{MediaID: mediaID, PersonID: personID}
		t.st.mediaFaces[key] = mf
	}
	mf.Count++
	if frameMS != nil {
		v := *frameMS
		if mf.FirstFrameMS == nil || v < *mf.FirstFrameMS {
			mf.FirstFrameMS = &v
		}
		if mf.LastFrameMS == nil || v > *mf.LastFrameMS {
			last := v
			mf.LastFrameMS = &last
		}
	}
	return nil
}

func (t *mockTx) InsertHistory(ctx context.Context, rec *database.RenameHistoryRecord) error {
	if t.m.InsertHistoryError != nil {
		return t.m.InsertHistoryError
	}
	t.st.nextHistID++
	rec.ID = t.st.nextHistID
	rec.AppliedAt = t.m.now()
	t.st.history = append(t.st.history, *rec)
	return nil
}

func (t *mockTx) RelocateMedia(ctx context.Context, oldPath, newPath string) error {
	item, ok := t.st.media[oldPath]
	if !ok {
		return nil
	}
	delete(t.st.media, oldPath)
	item.Path = newPath
	t.st.media[newPath] = item
	return nil
}

func (t *mockTx) SetStatusByPath(ctx context.Context, path, status string) error {
	if item, ok := t.st.media[path]; ok {
		item.Status = status
		now := t.m.now()
		item.LastProcessedAt = &now
	}
	return nil
}
