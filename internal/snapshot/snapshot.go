// Package snapshot holds the immutable copy of the registry that a recognition
// worker is bound to, and the versioned binary format used to hand it across a
// process boundary.
package snapshot

import (
	"sort"

	"github.com/andresmejia3/attendant/internal/types"
)

// Snapshot is an immutable copy of every registered face. It is safe to share
// between goroutines without locking.
type Snapshot struct {
	version uint64
	faces   []types.RegisteredFace
}

// New deep-copies faces into a snapshot ordered by name.
func New(version uint64, faces []types.RegisteredFace) *Snapshot {
	cp := make([]types.RegisteredFace, len(faces))
	for i, f := range faces {
		cp[i] = types.RegisteredFace{
			Name:       f.Name,
			Embedding:  f.Embedding.Clone(),
			GuestCount: f.GuestCount,
			CreatedAt:  f.CreatedAt,
		}
	}
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	return &Snapshot{version: version, faces: cp}
}

// Version identifies the registry generation this snapshot was taken from.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// Len returns the number of registered faces.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.faces)
}

// At returns the i-th face. The embedding must not be modified.
func (s *Snapshot) At(i int) types.RegisteredFace {
	return s.faces[i]
}

// Faces returns a copy of the rows.
func (s *Snapshot) Faces() []types.RegisteredFace {
	if s == nil {
		return nil
	}
	out := make([]types.RegisteredFace, len(s.faces))
	copy(out, s.faces)
	return out
}

// Stats returns the row count and the sum of guest counts.
func (s *Snapshot) Stats() (count, guests int) {
	if s == nil {
		return 0, 0
	}
	for _, f := range s.faces {
		guests += f.GuestCount
	}
	return len(s.faces), guests
}
