package facematch

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// rerankSlack bounds how far a float32 SIMD score may sit below the best
// one and still be re-scored exactly. Rounding in a float32 dot product of
// unit vectors stays orders of magnitude below it.
const rerankSlack = 1e-3

// MatrixIndex keeps normalized vectors in one contiguous row-major matrix
// and scores a query against all rows with SIMD float32 dot products. Rows
// close to the best float32 score are then re-scored in float64, so results
// equal those of ExactIndex, similarity included.
type MatrixIndex struct {
	dim      int
	rows     []float32 // len(rowEntry) rows of dim values
	rowEntry []int     // row -> position in entries
	others   []int     // zero vectors and vectors of another length
	entries  []entry   // insertion order
}

// NewMatrixIndex returns an empty matrix-backed index.
func NewMatrixIndex() *MatrixIndex {
	return &MatrixIndex{}
}

// Add stores a normalized copy of vec. The first non-zero vector fixes the
// row length; zero vectors and other lengths are scored separately.
func (x *MatrixIndex) Add(identityID int64, vec []float32) {
	e := newEntry(identityID, vec)
	pos := len(x.entries)
	x.entries = append(x.entries, e)

	if e.sq > 0 && x.dim == 0 {
		x.dim = len(e.vec)
	}
	if e.sq == 0 || len(e.vec) != x.dim {
		x.others = append(x.others, pos)
		return
	}
	x.rows = append(x.rows, e.vec...)
	x.rowEntry = append(x.rowEntry, pos)
}

// Nearest returns the stored vector with the highest cosine similarity to
// query. Ties go to the vector added first.
func (x *MatrixIndex) Nearest(query []float32) (Match, bool) {
	if len(x.entries) == 0 {
		return Match{}, false
	}
	q := newEntry(0, query)
	if q.sq == 0 || len(q.vec) != x.dim {
		pos, sim := scan(x.entries, q)
		return Match{IdentityID: x.entries[pos].identityID, Similarity: sim}, true
	}

	scores := make([]float32, len(x.rowEntry))
	top := float32(math.Inf(-1))
	for r := range scores {
		s := vek32.Dot(x.rows[r*x.dim:(r+1)*x.dim], q.vec)
		scores[r] = s
		top = max(top, s)
	}

	best, bestSim := -1, 0.0
	consider := func(pos int) {
		e := x.entries[pos]
		sim := score(e.vec, e.sq, q.vec, q.sq)
		if best < 0 || sim > bestSim || (sim == bestSim && pos < best) {
			best, bestSim = pos, sim
		}
	}
	cutoff := top - rerankSlack
	for r, s := range scores {
		if s >= cutoff {
			consider(x.rowEntry[r])
		}
	}
	for _, pos := range x.others {
		consider(pos)
	}
	return Match{IdentityID: x.entries[best].identityID, Similarity: bestSim}, true
}

// Len returns the number of stored vectors.
func (x *MatrixIndex) Len() int { return len(x.entries) }
