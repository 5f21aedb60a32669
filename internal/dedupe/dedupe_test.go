package dedupe

import (
	"math"
	"testing"

	"github.com/andresmejia3/attendant/internal/types"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    types.Embedding
		b    types.Embedding
		want float64
	}{
		{"Identical vectors", types.Embedding{1, 0}, types.Embedding{1, 0}, 1},
		{"Orthogonal vectors", types.Embedding{1, 0}, types.Embedding{0, 1}, 0},
		{"Opposite vectors", types.Embedding{1, 0}, types.Embedding{-1, 0}, -1},
		{"B is scaled", types.Embedding{1, 0}, types.Embedding{5, 0}, 1},
		{"Zero vector", types.Embedding{0, 0}, types.Embedding{1, 0}, 0},
		{"Length mismatch", types.Embedding{1, 0}, types.Embedding{1, 0, 0}, 0},
		{"Empty vectors", types.Embedding{}, types.Embedding{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindDuplicate(t *testing.T) {
	existing := []types.RegisteredFace{
		{Name: "Alice", Embedding: types.Embedding{1, 0, 0}},
		{Name: "Bob", Embedding: types.Embedding{0, 1, 0}},
	}

	// cos(candidate, Alice) = 0.8 / 1 = 0.8 > 0.55
	name, sim, ok := FindDuplicate(types.Embedding{0.8, 0.6, 0}, existing, DefaultThreshold)
	if !ok || name != "Alice" {
		t.Fatalf("Expected duplicate of Alice, got %q ok=%v", name, ok)
	}
	if math.Abs(sim-0.8) > 1e-6 {
		t.Errorf("Expected similarity 0.8, got %f", sim)
	}

	// Similarity 0.5 to both is below 0.55.
	if _, _, ok := FindDuplicate(types.Embedding{0.5, 0.5, 0.7071068}, existing, DefaultThreshold); ok {
		t.Error("Expected no duplicate for a dissimilar face")
	}

	if _, _, ok := FindDuplicate(types.Embedding{1, 0, 0}, nil, DefaultThreshold); ok {
		t.Error("Empty registry can never contain a duplicate")
	}
}

func TestIsDuplicateBoundary(t *testing.T) {
	if IsDuplicate(0.5, 0.5) {
		t.Error("Similarity equal to 1-threshold is not a duplicate")
	}
	if !IsDuplicate(0.5001, 0.5) {
		t.Error("Similarity above 1-threshold is a duplicate")
	}
}
