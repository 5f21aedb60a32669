package recognition

import (
	"math"

	"github.com/andresmejia3/attendant/internal/snapshot"
	"github.com/andresmejia3/attendant/internal/types"
)

// DefaultTolerance is the Euclidean distance under which a face is accepted as a match.
const DefaultTolerance = 0.5

// Matcher compares embeddings against one immutable snapshot.
type Matcher struct {
	snap      *snapshot.Snapshot
	tolerance float64
}

// NewMatcher binds a matcher to snap.
func NewMatcher(snap *snapshot.Snapshot, tolerance float64) *Matcher {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Matcher{snap: snap, tolerance: tolerance}
}

// Match returns the nearest registered face when it lies within tolerance,
// otherwise Unknown with guest count 0. Ties resolve to the first row.
func (m *Matcher) Match(box types.Box, emb types.Embedding) types.Match {
	best := -1
	bestDist := math.Inf(1)
	for i := 0; i < m.snap.Len(); i++ {
		d := EuclideanDistance(emb, m.snap.At(i).Embedding)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if best == -1 || bestDist >= m.tolerance {
		return types.Match{Box: box, Name: types.Unknown, GuestCount: 0, Distance: bestDist}
	}
	f := m.snap.At(best)
	return types.Match{Box: box, Name: f.Name, GuestCount: f.GuestCount, Distance: bestDist}
}

// MatchAll matches every detection in order.
func (m *Matcher) MatchAll(dets []types.Detection) []types.Match {
	out := make([]types.Match, 0, len(dets))
	for _, d := range dets {
		out = append(out, m.Match(d.Box, d.Embedding))
	}
	return out
}

// EuclideanDistance returns |a-b|. Vectors of different length are infinitely far apart.
func EuclideanDistance(a, b types.Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
