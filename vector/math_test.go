package vector

import (
	"errors"
	"math"
	"testing"
)

func TestDotOfUnitVectorsIsCosine(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	if got := Dot(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("Dot(a,a) = %v, want 1", got)
	}
	if got := Dot(a, b); math.Abs(got) > 1e-9 {
		t.Fatalf("Dot(a,b) = %v, want 0", got)
	}

	neg := []float32{-1, 0, 0}
	if got := Dot(a, neg); math.Abs(got+1) > 1e-9 {
		t.Fatalf("Dot(a,-a) = %v, want -1", got)
	}
}

func TestNormalizeProducesUnitLength(t *testing.T) {
	v := []float32{3, 4}
	out, err := Normalize(v)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := Norm(out); math.Abs(got-1) > 1e-6 {
		t.Fatalf("norm after Normalize = %v, want 1", got)
	}
	// Input must be untouched.
	if v[0] != 3 || v[1] != 4 {
		t.Fatalf("Normalize mutated its input: %v", v)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	_, err := Normalize(make([]float32, 8))
	if !errors.Is(err, ErrZeroVector) {
		t.Fatalf("err = %v, want ErrZeroVector", err)
	}
}
