package domain

import (
	"math"
	"testing"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}
	got := CosineSimilarity(v, v)
	if math.Abs(got-1) > 1e-6 {
		t.Fatalf("sim(v,v) = %v, want ~1", got)
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-4, 0.5, 7}
	if CosineSimilarity(a, b) != CosineSimilarity(b, a) {
		t.Fatal("cosine similarity is not symmetric")
	}
}

func TestCosineSimilarity_LengthMismatch(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", got)
	}
}

func TestCosineSimilarity_ZeroNorm(t *testing.T) {
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %v", got)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	got := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if math.Abs(got) > 1e-9 {
		t.Fatalf("expected 0 for orthogonal vectors, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sum)-1) > 1e-4 {
		t.Fatalf("norm = %v, want ~1", math.Sqrt(sum))
	}
}

func TestNormalize_Zero(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for i, x := range v {
		if x != 0 {
			t.Fatalf("zero vector changed at %d: %v", i, x)
		}
	}
}
