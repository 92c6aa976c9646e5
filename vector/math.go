package vector

import (
	"errors"
	"math"
)

// ErrZeroVector is returned by Normalize when the input has no magnitude
// and therefore no direction to compare against.
var ErrZeroVector = errors.New("zero embedding vector")

// Dot returns the dot product of a and b. For unit vectors this is the
// cosine similarity in [-1, 1].
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. The input is never mutated.
// A zero (or numerically negligible) vector fails with ErrZeroVector.
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n < 1e-10 {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}
