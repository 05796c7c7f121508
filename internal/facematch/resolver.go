// Package facematch resolves face embeddings to persistent identities using
// a pool of named people and a pool of anonymous ones.
package facematch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/media-annotator/internal/constants"
	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/logging"
)

// Pool says where a resolved identity came from.
type Pool string

const (
	PoolKnown   Pool = "known"
	PoolUnknown Pool = "unknown"
	PoolNew     Pool = "new" // no match above threshold, identity created
)

var (
	// ErrInvalidName is returned by Promote for names that cannot label a person.
	ErrInvalidName = errors.New("invalid display name")
	// ErrDimension is returned by RecordFaces for embeddings of the wrong length.
	ErrDimension = errors.New("embedding dimension mismatch")
)

// Default similarity thresholds. Known matching is stricter.
const (
	DefaultKnownThreshold   = 0.70
	DefaultUnknownThreshold = 0.60
)

// DetectedFace is one face returned by the detector for an image or frame.
type DetectedFace struct {
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"`
	Quality   float64   `json:"det_score"`
}

// Resolution is the outcome of matching one face.
type Resolution struct {
	PersonID   int64
	Label      string
	Pool       Pool
	Similarity float64 // zero for PoolNew
}

// ResolverConfig configures the matching policy.
type ResolverConfig struct {
	KnownThreshold   float64
	UnknownThreshold float64
	Index            IndexKind
	Dim              int // expected embedding length; 0 accepts any
	Logger           *zap.Logger
}

// IdentityRegistry is the part of the store the resolver reads and writes.
type IdentityRegistry interface {
	ListPersons(ctx context.Context) ([]database.Person, error)
	ListObservationVectors(ctx context.Context) ([]database.ObservationVector, error)
	PromotePerson(ctx context.Context, id int64, name string) error
	database.Transactor
}

type pooled struct {
	personID int64
	vec      []float32
}

// Resolver assigns identities to face embeddings using a known and an
// unknown pool. Vectors enter a pool only after the store transaction that
// records them has committed.
type Resolver struct {
	cfg      ResolverConfig
	registry IdentityRegistry
	logger   *zap.Logger

	mu      sync.Mutex
	persons map[int64]database.Person
	vectors []pooled // every pooled vector, in insertion order
	known   EmbeddingIndex
	unknown EmbeddingIndex
	similar *SimilarityGraph // every vector, for review suggestions
}

// NewResolver returns a resolver with empty pools. Call Load to fill them.
func NewResolver(cfg ResolverConfig, registry IdentityRegistry) *Resolver {
	if cfg.KnownThreshold == 0 && cfg.UnknownThreshold == 0 {
		cfg.KnownThreshold = DefaultKnownThreshold
		cfg.UnknownThreshold = DefaultUnknownThreshold
	}
	if cfg.Index == "" {
		cfg.Index = IndexExact
	}
	r := &Resolver{
		cfg:      cfg,
		registry: registry,
		logger:   logging.OrNop(cfg.Logger),
		persons:  make(map[int64]database.Person),
		similar:  NewSimilarityGraph(),
	}
	r.known, r.unknown = r.newPools()
	return r
}

func (r *Resolver) newPools() (EmbeddingIndex, EmbeddingIndex) {
	known, err := NewIndex(r.cfg.Index)
	if err != nil {
		r.logger.Warn("falling back to exact index", zap.String("index", string(r.cfg.Index)), zap.Error(err))
		known = NewExactIndex()
	}
	unknown, _ := NewIndex(r.cfg.Index)
	if unknown == nil {
		unknown = NewExactIndex()
	}
	return known, unknown
}

// Load rebuilds both pools from the registry.
func (r *Resolver) Load(ctx context.Context) error {
	persons, err := r.registry.ListPersons(ctx)
	if err != nil {
		return fmt.Errorf("load persons: %w", err)
	}
	vectors, err := r.registry.ListObservationVectors(ctx)
	if err != nil {
		return fmt.Errorf("load observation vectors: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.persons = make(map[int64]database.Person, len(persons))
	for _, p := range persons {
		r.persons[p.ID] = p
	}
	r.vectors = r.vectors[:0]
	r.similar = NewSimilarityGraph()
	for _, v := range vectors {
		r.vectors = append(r.vectors, pooled{personID: v.PersonID, vec: v.Embedding})
		r.similar.Add(v.PersonID, v.Embedding)
	}
	r.rebuild()

	r.logger.Debug("identity pools loaded",
		zap.Int("persons", len(persons)),
		zap.Int("known_vectors", r.known.Len()),
		zap.Int("unknown_vectors", r.unknown.Len()))
	return nil
}

// rebuild refills both indexes from r.vectors. Caller holds r.mu.
func (r *Resolver) rebuild() {
	r.known, r.unknown = r.newPools()
	for _, v := range r.vectors {
		if r.persons[v.personID].IsKnown {
			r.known.Add(v.personID, v.vec)
		} else {
			r.unknown.Add(v.personID, v.vec)
		}
	}
}

// PoolSizes returns the number of vectors in the known and unknown pools.
func (r *Resolver) PoolSizes() (known, unknown int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known.Len(), r.unknown.Len()
}

// match searches the pools without mutating anything. Caller holds r.mu.
func (r *Resolver) match(vec []float32) (Resolution, bool) {
	if m, ok := r.known.Nearest(vec); ok && m.Similarity >= r.cfg.KnownThreshold {
		return Resolution{PersonID: m.IdentityID, Label: r.label(m.IdentityID), Pool: PoolKnown, Similarity: m.Similarity}, true
	}
	if m, ok := r.unknown.Nearest(vec); ok && m.Similarity >= r.cfg.UnknownThreshold {
		return Resolution{PersonID: m.IdentityID, Label: r.label(m.IdentityID), Pool: PoolUnknown, Similarity: m.Similarity}, true
	}
	return Resolution{}, false
}

func (r *Resolver) label(id int64) string {
	if p, ok := r.persons[id]; ok {
		return p.Label()
	}
	return database.UnknownLabel(id)
}

// resolveTx matches vec or creates a new unknown person inside tx. The
// returned person is only set for PoolNew. Caller holds r.mu.
func (r *Resolver) resolveTx(ctx context.Context, tx database.Tx, vec []float32) (Resolution, *database.Person, error) {
	if res, ok := r.match(vec); ok {
		return res, nil, nil
	}
	p, err := tx.CreateUnknownPerson(ctx)
	if err != nil {
		return Resolution{}, nil, fmt.Errorf("create unknown person: %w", err)
	}
	return Resolution{PersonID: p.ID, Label: p.Label(), Pool: PoolNew}, p, nil
}

// commit appends vec to the pool of res. Caller holds r.mu.
func (r *Resolver) commit(res Resolution, created *database.Person, vec []float32) {
	if created != nil {
		r.persons[created.ID] = *created
	}
	r.vectors = append(r.vectors, pooled{personID: res.PersonID, vec: vec})
	r.similar.Add(res.PersonID, vec)
	if res.Pool == PoolKnown {
		r.known.Add(res.PersonID, vec)
	} else {
		r.unknown.Add(res.PersonID, vec)
	}
}

// MinSuggestionSimilarity is the lowest similarity worth suggesting.
const MinSuggestionSimilarity = 0.3

// Similar suggests up to k other identities whose faces resemble those of
// personID, most similar first. Results are approximate.
func (r *Resolver) Similar(personID int64, k int) []Suggestion {
	r.mu.Lock()
	defer r.mu.Unlock()

	var vecs [][]float32
	for _, v := range r.vectors {
		if v.personID == personID {
			vecs = append(vecs, v.vec)
		}
	}
	var out []Suggestion
	for _, m := range r.similar.Nearby(vecs, personID, k) {
		if m.Similarity < MinSuggestionSimilarity {
			break
		}
		out = append(out, Suggestion{PersonID: m.IdentityID, Label: r.label(m.IdentityID), Similarity: m.Similarity})
	}
	return out
}

// Resolve assigns an identity to vec, creating an unknown person when
// neither pool has a match above its threshold.
func (r *Resolver) Resolve(ctx context.Context, vec []float32) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		res     Resolution
		created *database.Person
	)
	err := r.registry.InTx(ctx, func(tx database.Tx) error {
		var err error
		res, created, err = r.resolveTx(ctx, tx, vec)
		return err
	})
	if err != nil {
		return Resolution{}, err
	}
	r.commit(res, created, vec)
	return res, nil
}

// RecordFaces resolves faces in detection order and stores one observation
// per face together with the per-item summary. Each face commits on its
// own; on error the faces recorded so far stay recorded.
func (r *Resolver) RecordFaces(ctx context.Context, item *database.MediaItem, faces []DetectedFace, frameMS *int64) ([]Resolution, error) {
	if r.cfg.Dim > 0 {
		for i, face := range faces {
			if len(face.Embedding) != r.cfg.Dim {
				return nil, fmt.Errorf("face %d of %s: %w: got %d, want %d",
					i, item.Path, ErrDimension, len(face.Embedding), r.cfg.Dim)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Resolution, 0, len(faces))
	for i, face := range faces {
		var (
			res     Resolution
			created *database.Person
		)
		err := r.registry.InTx(ctx, func(tx database.Tx) error {
			var err error
			res, created, err = r.resolveTx(ctx, tx, face.Embedding)
			if err != nil {
				return err
			}
			obs := &database.FaceObservation{
				PersonID:    res.PersonID,
				MediaPath:   item.Path,
				MediaHash:   item.Hash,
				FrameTimeMS: frameMS,
				BBox:        face.BBox,
				Embedding:   face.Embedding,
				Quality:     face.Quality,
			}
			if err := tx.InsertObservation(ctx, obs); err != nil {
				return fmt.Errorf("insert observation: %w", err)
			}
			if err := tx.UpsertMediaFace(ctx, item.ID, res.PersonID, frameMS); err != nil {
				return fmt.Errorf("update media face summary: %w", err)
			}
			return nil
		})
		if err != nil {
			return out, fmt.Errorf("record face %d of %s: %w", i, item.Path, err)
		}
		r.commit(res, created, face.Embedding)
		out = append(out, res)

		r.logger.Debug("face resolved",
			zap.String("path", item.Path),
			zap.Int("face", i),
			zap.String("label", res.Label),
			zap.String("pool", string(res.Pool)),
			zap.Float64("similarity", res.Similarity))
	}
	return out, nil
}

// NormalizeDisplayName trims name and converts it to NFC.
func NormalizeDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// FoldName reduces a name for searching: diacritics removed, lower case,
// dashes and underscores read as spaces. "Jiří-Novák" folds to "jiri novak".
func FoldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, name)
	return strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(folded))
}

// Promote names an unknown person, making it known. Its vectors move to
// the known pool. There is no way back.
func (r *Resolver) Promote(ctx context.Context, personID int64, name string) (database.Person, error) {
	name = NormalizeDisplayName(name)
	if name == "" {
		return database.Person{}, fmt.Errorf("%w: must not be empty", ErrInvalidName)
	}
	if strings.HasPrefix(name, constants.UnknownPrefix) {
		return database.Person{}, fmt.Errorf("%w: %q is reserved for anonymous identities", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.registry.PromotePerson(ctx, personID, name); err != nil {
		return database.Person{}, fmt.Errorf("promote person %d: %w", personID, err)
	}
	p := r.persons[personID]
	p.ID = personID
	p.DisplayName = name
	p.IsKnown = true
	r.persons[personID] = p
	r.rebuild()

	r.logger.Info("person labeled", zap.Int64("person_id", personID), zap.String("name", name))
	return p, nil
}
