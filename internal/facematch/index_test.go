package facematch

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want []float32
	}{
		{"unit already", []float32{1, 0}, []float32{1, 0}},
		{"scaled", []float32{3, 4}, []float32{0.6, 0.8}},
		{"zero vector unchanged", []float32{0, 0, 0}, []float32{0, 0, 0}},
		{"empty", []float32{}, []float32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
					break
				}
			}
		})
	}
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	in := []float32{3, 4}
	_ = Normalize(in)
	if in[0] != 3 || in[1] != 4 {
		t.Errorf("input modified: %v", in)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled copy", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.IsNaN(got) || math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewIndex(t *testing.T) {
	for _, kind := range []IndexKind{IndexExact, IndexMatrix} {
		idx, err := NewIndex(kind)
		if err != nil || idx == nil {
			t.Errorf("NewIndex(%q) = %v, %v", kind, idx, err)
		}
	}
	if _, err := NewIndex("faiss"); err == nil {
		t.Error("expected error for unknown index kind")
	}
}

func forEachKind(t *testing.T, fn func(t *testing.T, idx EmbeddingIndex)) {
	t.Helper()
	for _, kind := range []IndexKind{IndexExact, IndexMatrix} {
		t.Run(string(kind), func(t *testing.T) {
			idx, err := NewIndex(kind)
			if err != nil {
				t.Fatal(err)
			}
			fn(t, idx)
		})
	}
}

func TestIndex_Empty(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx EmbeddingIndex) {
		if _, ok := idx.Nearest([]float32{1, 0}); ok {
			t.Error("empty index must report no match")
		}
		if idx.Len() != 0 {
			t.Errorf("Len() = %d", idx.Len())
		}
	})
}

func TestIndex_NearestPicksHighestSimilarity(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx EmbeddingIndex) {
		idx.Add(1, []float32{1, 0, 0})
		idx.Add(2, []float32{0, 1, 0})
		idx.Add(3, []float32{0, 0, 5}) // scale is irrelevant after normalization

		m, ok := idx.Nearest([]float32{0.1, 0.2, 0.9})
		if !ok || m.IdentityID != 3 {
			t.Fatalf("Nearest() = %+v, %v; want identity 3", m, ok)
		}
		want := 0.9 / math.Sqrt(0.01+0.04+0.81)
		if math.Abs(m.Similarity-want) > 1e-6 {
			t.Errorf("similarity = %v, want %v", m.Similarity, want)
		}
		if idx.Len() != 3 {
			t.Errorf("Len() = %d, want 3", idx.Len())
		}
	})
}

func TestIndex_TiesGoToFirstInserted(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx EmbeddingIndex) {
		idx.Add(7, []float32{1, 1})
		idx.Add(8, []float32{2, 2})
		idx.Add(9, []float32{1, 1})
		m, ok := idx.Nearest([]float32{1, 1})
		if !ok || m.IdentityID != 7 {
			t.Errorf("Nearest() = %+v, want identity 7", m)
		}
	})
}

func TestIndex_ZeroVectors(t *testing.T) {
	forEachKind(t, func(t *testing.T, idx EmbeddingIndex) {
		idx.Add(1, []float32{0, 0})
		m, ok := idx.Nearest([]float32{1, 0})
		if !ok || m.IdentityID != 1 || m.Similarity != 0 {
			t.Errorf("Nearest() = %+v, %v", m, ok)
		}

		idx.Add(2, []float32{-1, 0})
		m, _ = idx.Nearest([]float32{1, 0})
		if m.IdentityID != 1 {
			t.Errorf("zero vector (similarity 0) should beat opposite vector, got %+v", m)
		}

		m, _ = idx.Nearest([]float32{0, 0})
		if m.IdentityID != 1 || math.IsNaN(m.Similarity) {
			t.Errorf("zero query: %+v", m)
		}
	})
}

func clusteredVectors(r *rand.Rand, clusters, perCluster, dim int) ([]int64, [][]float32) {
	centers := make([][]float32, clusters)
	for c := range centers {
		centers[c] = make([]float32, dim)
		for i := range centers[c] {
			centers[c][i] = float32(r.NormFloat64())
		}
	}
	var ids []int64
	var vecs [][]float32
	for c := range clusters {
		for range perCluster {
			v := make([]float32, dim)
			for i := range v {
				v[i] = centers[c][i] + float32(r.NormFloat64()*0.1)
			}
			ids = append(ids, int64(c+1))
			vecs = append(vecs, v)
		}
	}
	return ids, vecs
}

func TestIndex_SelfSimilarityIsExactlyOne(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	forEachKind(t, func(t *testing.T, idx EmbeddingIndex) {
		for i := range 300 {
			v := make([]float32, 512)
			for j := range v {
				v[j] = float32(r.NormFloat64())
			}
			idx.Add(int64(i+1), v)
			m, ok := idx.Nearest(v)
			if !ok || m.IdentityID != int64(i+1) || m.Similarity != 1.0 {
				t.Fatalf("vector %d: Nearest(v) = %+v, want itself with similarity exactly 1", i, m)
			}
			if got := CosineSimilarity(v, v); got != 1.0 {
				t.Fatalf("vector %d: CosineSimilarity(v, v) = %v", i, got)
			}
		}
	})
}

func TestMatrixIndex_MatchesExact(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	ids, vecs := clusteredVectors(r, 20, 15, 64)

	exact := NewExactIndex()
	matrix := NewMatrixIndex()
	for i := range vecs {
		exact.Add(ids[i], vecs[i])
		matrix.Add(ids[i], vecs[i])
	}
	// Exact duplicates under another identity exercise the tie rule.
	for i := range 10 {
		exact.Add(int64(100+i), vecs[i*7])
		matrix.Add(int64(100+i), vecs[i*7])
	}

	for q := range 200 {
		query := make([]float32, 64)
		for i := range query {
			query[i] = float32(r.NormFloat64())
		}
		switch q % 3 {
		case 0:
			base := vecs[r.IntN(len(vecs))]
			for i := range query {
				query[i] = base[i] + query[i]*0.05
			}
		case 1:
			query = vecs[r.IntN(len(vecs))]
		}
		want, _ := exact.Nearest(query)
		got, _ := matrix.Nearest(query)
		if want != got {
			t.Fatalf("query %d: matrix %+v != exact %+v", q, got, want)
		}
	}
}

func TestMatrixIndex_MixedDimensions(t *testing.T) {
	idx := NewMatrixIndex()
	idx.Add(1, []float32{0, 0}) // zero vector before the first real one
	idx.Add(2, []float32{1, 0, 0})
	idx.Add(3, []float32{0, 1}) // kept out of the matrix, still searchable

	tests := []struct {
		name  string
		query []float32
		want  int64
	}{
		{"matrix row", []float32{1, 0.1, 0}, 2},
		{"other length", []float32{0, 1}, 3},
		{"zero query goes to the first vector", []float32{0, 0, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := idx.Nearest(tt.query)
			if !ok || m.IdentityID != tt.want {
				t.Errorf("Nearest(%v) = %+v, %v; want identity %d", tt.query, m, ok, tt.want)
			}
		})
	}
	if idx.Len() != 3 {
		t.Errorf("Len() = %d, want 3", idx.Len())
	}
}

func TestSimilarityGraph_Nearby(t *testing.T) {
	g := NewSimilarityGraph()
	if got := g.Nearby([][]float32{{1, 0, 0}}, 0, 3); got != nil {
		t.Errorf("empty graph: %v", got)
	}
	g.Add(1, []float32{1, 0, 0})
	g.Add(1, []float32{0.9, 0.1, 0})
	g.Add(2, []float32{0.8, 0.3, 0})
	g.Add(3, []float32{0, 0, 1})
	g.Add(4, []float32{0, 0})    // other length, ignored
	g.Add(5, []float32{0, 0, 0}) // zero, ignored
	if g.Len() != 4 {
		t.Errorf("Len() = %d, want 4", g.Len())
	}

	got := g.Nearby([][]float32{{1, 0, 0}, {0.9, 0.1, 0}}, 1, 2)
	if len(got) != 2 || got[0].IdentityID != 2 || got[1].IdentityID != 3 {
		t.Fatalf("Nearby() = %+v, want identities 2 then 3", got)
	}
	if got[0].Similarity <= got[1].Similarity {
		t.Errorf("suggestions not ordered by similarity: %+v", got)
	}
	if got := g.Nearby([][]float32{{1, 0, 0}}, 1, 0); got != nil {
		t.Errorf("k=0: %v", got)
	}
}
