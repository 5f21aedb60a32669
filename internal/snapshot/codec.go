package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/andresmejia3/attendant/internal/types"
)

// FormatVersion is bumped whenever the wire layout changes.
const FormatVersion uint16 = 1

var magic = [4]byte{'A', 'T', 'S', 'N'}

// ErrBadFormat is returned for payloads that are not a snapshot of a supported format.
var ErrBadFormat = errors.New("snapshot: unsupported or corrupt payload")

const (
	maxNameLen = math.MaxUint16
	maxDim     = 1 << 16
)

// Encode writes s in the binary layout (all integers big-endian):
//
//	magic "ATSN" | format u16 | version u64 | count u32
//	per row: nameLen u16 | name | guests u32 | dim u32 | dim x float32 bits
func Encode(w io.Writer, s *Snapshot) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	hdr := struct {
		Format  uint16
		Version uint64
		Count   uint32
	}{FormatVersion, s.Version(), uint32(s.Len())}
	if err := binary.Write(bw, binary.BigEndian, hdr); err != nil {
		return err
	}

	for i := 0; i < s.Len(); i++ {
		f := s.At(i)
		if len(f.Name) > maxNameLen {
			return fmt.Errorf("snapshot: name too long (%d bytes)", len(f.Name))
		}
		if f.GuestCount < 0 {
			return fmt.Errorf("snapshot: negative guest count for %q", f.Name)
		}
		if len(f.Embedding) > maxDim {
			return fmt.Errorf("snapshot: embedding for %q has %d dimensions, limit is %d", f.Name, len(f.Embedding), maxDim)
		}
		if err := binary.Write(bw, binary.BigEndian, uint16(len(f.Name))); err != nil {
			return err
		}
		if _, err := bw.WriteString(f.Name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.BigEndian, uint32(f.GuestCount)); err != nil {
			return err
		}
		if err := writeEmbedding(bw, f.Embedding); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Marshal is Encode into a byte slice.
func Marshal(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*Snapshot, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if m != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadFormat, m[:])
	}
	var hdr struct {
		Format  uint16
		Version uint64
		Count   uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadFormat, err)
	}
	if hdr.Format != FormatVersion {
		return nil, fmt.Errorf("%w: format %d, want %d", ErrBadFormat, hdr.Format, FormatVersion)
	}

	faces := make([]types.RegisteredFace, 0, min(int(hdr.Count), 1024))
	for i := uint32(0); i < hdr.Count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadFormat, i, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: row %d name: %v", ErrBadFormat, i, err)
		}
		var guests uint32
		if err := binary.Read(r, binary.BigEndian, &guests); err != nil {
			return nil, fmt.Errorf("%w: row %d guests: %v", ErrBadFormat, i, err)
		}
		emb, err := readEmbedding(r)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d embedding: %v", ErrBadFormat, i, err)
		}
		faces = append(faces, types.RegisteredFace{
			Name:       string(name),
			Embedding:  emb,
			GuestCount: int(guests),
		})
	}
	return New(hdr.Version, faces), nil
}

// Unmarshal is Decode from a byte slice.
func Unmarshal(data []byte) (*Snapshot, error) {
	return Decode(bytes.NewReader(data))
}

func writeEmbedding(w io.Writer, e types.Embedding) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(e))); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, []float32(e))
}

func readEmbedding(r io.Reader) (types.Embedding, error) {
	var dim uint32
	if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
		return nil, err
	}
	if dim > maxDim {
		return nil, fmt.Errorf("dimension %d too large", dim)
	}
	e := make(types.Embedding, dim)
	if err := binary.Read(r, binary.BigEndian, []float32(e)); err != nil {
		return nil, err
	}
	return e, nil
}
