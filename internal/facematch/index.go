package facematch

import "fmt"

// IndexKind selects an EmbeddingIndex backend.
type IndexKind string

const (
	IndexExact  IndexKind = "exact"
	IndexMatrix IndexKind = "matrix"
)

// Match is the nearest stored vector for a query.
type Match struct {
	IdentityID int64
	Similarity float64
}

// EmbeddingIndex holds (identity, vector) pairs and answers top-1 cosine
// queries. Ties go to the vector added first.
type EmbeddingIndex interface {
	Add(identityID int64, vec []float32)
	Nearest(query []float32) (Match, bool)
	Len() int
}

// NewIndex returns an empty index of the given kind.
func NewIndex(kind IndexKind) (EmbeddingIndex, error) {
	switch kind {
	case IndexExact, "":
		return NewExactIndex(), nil
	case IndexMatrix:
		return NewMatrixIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index kind %q (want exact or matrix)", kind)
	}
}

type entry struct {
	identityID int64
	vec        []float32 // normalized
	sq         float64   // sum of squares of vec
}

func newEntry(identityID int64, vec []float32) entry {
	n := Normalize(vec)
	return entry{identityID: identityID, vec: n, sq: sumSquares(n)}
}

// ExactIndex compares the query against every stored vector.
type ExactIndex struct {
	entries []entry
}

// NewExactIndex returns an empty brute-force index.
func NewExactIndex() *ExactIndex {
	return &ExactIndex{}
}

// Add stores a normalized copy of vec.
func (x *ExactIndex) Add(identityID int64, vec []float32) {
	x.entries = append(x.entries, newEntry(identityID, vec))
}

// Nearest returns the stored vector with the highest cosine similarity to
// query.
func (x *ExactIndex) Nearest(query []float32) (Match, bool) {
	pos, sim := scan(x.entries, newEntry(0, query))
	if pos < 0 {
		return Match{}, false
	}
	return Match{IdentityID: x.entries[pos].identityID, Similarity: sim}, true
}

// Len returns the number of stored vectors.
func (x *ExactIndex) Len() int { return len(x.entries) }

// scan returns the position of the best entry, or -1 when entries is empty.
// Only a strictly higher score replaces the current best.
func scan(entries []entry, q entry) (int, float64) {
	best, bestSim := -1, 0.0
	for i, e := range entries {
		sim := score(e.vec, e.sq, q.vec, q.sq)
		if best < 0 || sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best, bestSim
}
