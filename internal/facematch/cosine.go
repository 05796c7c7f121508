package facematch

import "math"

func sumSquares(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return sum
}

func norm2(v []float32) float64 {
	return math.Sqrt(sumSquares(v))
}

// Normalize returns an L2-normalized copy of v. A zero vector is copied
// unchanged, as if it already had norm 1.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := norm2(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// dot is the inner product over the shared prefix of a and b.
func dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := range n {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// score is the cosine of a and b given their sums of squares. Dividing by
// sqrt(asq*bsq) rather than by the product of the norms makes score(v, v)
// exactly 1: dot(v, v) equals asq bit for bit and sqrt(x*x) == x.
// Zero vectors count as unit length.
func score(a []float32, asq float64, b []float32, bsq float64) float64 {
	d := dot(a, b)
	if asq == 0 || bsq == 0 {
		return d
	}
	return max(-1, min(1, d/math.Sqrt(asq*bsq)))
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Mismatched dimensions and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	asq, bsq := sumSquares(a), sumSquares(b)
	if asq == 0 || bsq == 0 {
		return 0
	}
	return score(a, asq, b, bsq)
}
