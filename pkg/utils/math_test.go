package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm after normalization = %f", norm)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("direction changed: %v", v)
	}
}

func TestNormalizeL2_zeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeL2(v)
	for i, x := range v {
		if x != 0 {
			t.Errorf("zero vector mutated at %d: %f", i, x)
		}
	}
}

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Errorf("Dot = %f, want 32", got)
	}
	if got := Dot(nil, nil); got != 0 {
		t.Errorf("empty Dot = %f, want 0", got)
	}
}

func TestDot_unitVectorsIsCosine(t *testing.T) {
	a := []float32{1, 1}
	b := []float32{1, 0}
	NormalizeL2(a)
	NormalizeL2(b)
	if got := Dot(a, b); math.Abs(got-math.Sqrt2/2) > 1e-6 {
		t.Errorf("cosine of 45 degrees = %f", got)
	}
}
