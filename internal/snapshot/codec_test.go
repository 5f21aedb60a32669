package snapshot

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/attendant/internal/types"
)

func TestRoundTripExactEmbeddings(t *testing.T) {
	for _, dim := range []int{0, 1, 3, 128, 512} {
		emb := make(types.Embedding, dim)
		for i := range emb {
			// Values that do not survive a decimal text round trip.
			emb[i] = float32(math.Pi) / float32(i+3)
		}
		if dim > 0 {
			emb[0] = math.SmallestNonzeroFloat32
		}

		in := New(7, []types.RegisteredFace{
			{Name: "Bob", Embedding: emb, GuestCount: 0},
			{Name: "Alice", Embedding: emb, GuestCount: 3},
		})

		data, err := Marshal(in)
		if err != nil {
			t.Fatalf("dim %d: Marshal failed: %v", dim, err)
		}
		out, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("dim %d: Unmarshal failed: %v", dim, err)
		}

		if out.Version() != 7 || out.Len() != 2 {
			t.Fatalf("dim %d: got version %d len %d", dim, out.Version(), out.Len())
		}
		if out.At(0).Name != "Alice" || out.At(0).GuestCount != 3 {
			t.Errorf("dim %d: unexpected first row %+v", dim, out.At(0))
		}
		for i, v := range out.At(1).Embedding {
			if math.Float32bits(v) != math.Float32bits(emb[i]) {
				t.Fatalf("dim %d: value %d changed: %v != %v", dim, i, v, emb[i])
			}
		}
	}
}

func TestDecodeRejectsForeignPayloads(t *testing.T) {
	if _, err := Unmarshal([]byte("nope")); !errors.Is(err, ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat for bad magic, got %v", err)
	}

	data, _ := Marshal(New(1, nil))
	data[5] = 99 // format version low byte
	if _, err := Unmarshal(data); !errors.Is(err, ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat for unknown format, got %v", err)
	}

	good, _ := Marshal(New(1, []types.RegisteredFace{{Name: "A", Embedding: types.Embedding{1, 2}}}))
	if _, err := Unmarshal(good[:len(good)-2]); !errors.Is(err, ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat for truncated payload, got %v", err)
	}
}

func TestSnapshotIsIsolatedFromSource(t *testing.T) {
	emb := types.Embedding{1, 2, 3}
	faces := []types.RegisteredFace{{Name: "Alice", Embedding: emb, GuestCount: 2}}
	s := New(1, faces)

	emb[0] = 42
	faces[0].GuestCount = 9

	if s.At(0).Embedding[0] != 1 || s.At(0).GuestCount != 2 {
		t.Error("Snapshot observed a mutation of its source rows")
	}

	count, guests := s.Stats()
	if count != 1 || guests != 2 {
		t.Errorf("Expected stats (1, 2), got (%d, %d)", count, guests)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeRejectsUndecodableRows(t *testing.T) {
	// Anything Encode accepts must be readable by Decode.
	if _, err := Marshal(New(1, []types.RegisteredFace{{Name: "Wide", Embedding: make(types.Embedding, maxDim+1)}})); err == nil {
		t.Error("Expected an error for an oversized embedding")
	}

	data, err := Marshal(New(1, []types.RegisteredFace{{Name: "Edge", Embedding: make(types.Embedding, maxDim)}}))
	if err != nil {
		t.Fatalf("Marshal at the dimension limit failed: %v", err)
	}
	if _, err := Unmarshal(data); err != nil {
		t.Errorf("Unmarshal at the dimension limit failed: %v", err)
	}
}
