// Package dedupe rejects enrollments whose face is already in the registry.
// It uses cosine similarity and is tuned separately from live recognition.
package dedupe

import (
	"math"

	"github.com/andresmejia3/attendant/internal/types"
)

// DefaultThreshold rejects candidates whose similarity exceeds 1 - 0.45 = 0.55.
const DefaultThreshold = 0.45

// CosineSimilarity returns dot(a,b) / (|a| * |b|).
// Mismatched lengths or zero vectors yield 0 (never a duplicate).
func CosineSimilarity(a, b types.Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsDuplicate reports whether sim trips the threshold.
func IsDuplicate(sim, threshold float64) bool {
	return sim > 1-threshold
}

// FindDuplicate returns the most similar existing face if it trips the threshold.
func FindDuplicate(candidate types.Embedding, existing []types.RegisteredFace, threshold float64) (name string, sim float64, ok bool) {
	best := math.Inf(-1)
	for _, f := range existing {
		s := CosineSimilarity(candidate, f.Embedding)
		if s > best {
			best = s
			name = f.Name
		}
	}
	if name == "" || !IsDuplicate(best, threshold) {
		return "", best, false
	}
	return name, best, true
}
