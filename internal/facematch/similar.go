package facematch

import (
	"cmp"
	"slices"

	"github.com/coder/hnsw"
)

const (
	similarMaxNeighbors = 16
	similarEfSearch     = 64
	// similarFanout is how many graph neighbours are fetched per wanted
	// suggestion; several of them usually belong to the same identity.
	similarFanout = 8
)

// Suggestion is another identity whose faces resemble the ones asked about.
type Suggestion struct {
	PersonID   int64
	Label      string
	Similarity float64
}

// SimilarityGraph is an HNSW graph over every recorded face. It answers
// "who else looks like this" for identity review, where an occasional
// missed neighbour only costs a hint.
type SimilarityGraph struct {
	graph  *hnsw.Graph[int]
	owners []int64 // graph key -> identity
	dim    int
}

func NewSimilarityGraph() *SimilarityGraph {
	g := hnsw.NewGraph[int]()
	g.M = similarMaxNeighbors
	g.Ml = 1.0 / float64(similarMaxNeighbors)
	g.EfSearch = similarEfSearch
	g.Distance = hnsw.CosineDistance
	return &SimilarityGraph{graph: g}
}

// Add inserts a normalized copy of vec. Zero vectors and vectors of a
// different length than the first one are left out.
func (s *SimilarityGraph) Add(identityID int64, vec []float32) {
	n := Normalize(vec)
	if sumSquares(n) == 0 {
		return
	}
	if s.dim == 0 {
		s.dim = len(n)
	}
	if len(n) != s.dim {
		return
	}
	key := len(s.owners)
	s.owners = append(s.owners, identityID)
	s.graph.Add(hnsw.MakeNode(key, n))
}

// Len returns the number of vectors in the graph.
func (s *SimilarityGraph) Len() int { return s.graph.Len() }

// Nearby returns up to k identities other than exclude, each with the best
// similarity any of vecs reaches against its faces, most similar first.
func (s *SimilarityGraph) Nearby(vecs [][]float32, exclude int64, k int) []Match {
	if k <= 0 || s.graph.Len() == 0 {
		return nil
	}
	best := map[int64]float64{}
	for _, vec := range vecs {
		q := Normalize(vec)
		if len(q) != s.dim || sumSquares(q) == 0 {
			continue
		}
		for _, node := range s.graph.Search(q, min(k*similarFanout, s.graph.Len())) {
			id := s.owners[node.Key]
			if id == exclude {
				continue
			}
			sim := CosineSimilarity(node.Value, q)
			if cur, ok := best[id]; !ok || sim > cur {
				best[id] = sim
			}
		}
	}

	out := make([]Match, 0, len(best))
	for id, sim := range best {
		out = append(out, Match{IdentityID: id, Similarity: sim})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.IdentityID, b.IdentityID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
