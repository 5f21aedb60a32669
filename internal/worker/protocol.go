package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/andresmejia3/attendant/internal/types"
)

// Response status bytes.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// maxMessage bounds a single length-prefixed message (a 4K RGBA frame is ~33MB).
const maxMessage = 64 << 20

var errMessageTooLarge = errors.New("worker message exceeds size limit")

// RemoteError is a failure reported by the worker for a single request.
// The worker is still healthy after returning one.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "worker error: " + e.Msg }

// writeMessage frames data as [uint32 big-endian length][data].
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessage {
		return errMessageTooLarge
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readMessage reads one length-prefixed message. A clean EOF before the header is returned as io.EOF.
func readMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	if n > maxMessage {
		return nil, errMessageTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("short message body: %w", err)
	}
	return body, nil
}

func okResponse(body []byte) []byte {
	return append([]byte{statusOK}, body...)
}

func errorResponse(msg string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(statusError)
	binary.Write(buf, binary.BigEndian, uint32(len(msg)))
	buf.WriteString(msg)
	return buf.Bytes()
}

// parseResponse strips the status byte. Worker-reported failures become errors.
func parseResponse(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty worker response")
	}
	switch payload[0] {
	case statusOK:
		return payload[1:], nil
	case statusError:
		r := bytes.NewReader(payload[1:])
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, &RemoteError{Msg: string(msg)}
	default:
		return nil, fmt.Errorf("unknown worker status %d", payload[0])
	}
}

type frameHeader struct {
	Seq        uint64
	CapturedAt int64
	Width      uint32
	Height     uint32
}

// EncodeFrame lays a frame out as seq u64 | captured unix nanos i64 | width u32 | height u32 | RGBA pixels.
func EncodeFrame(f types.Frame) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 24+len(f.Pix)))
	var captured int64
	if !f.CapturedAt.IsZero() {
		captured = f.CapturedAt.UnixNano()
	}
	binary.Write(buf, binary.BigEndian, frameHeader{
		Seq:        f.Seq,
		CapturedAt: captured,
		Width:      uint32(f.Width),
		Height:     uint32(f.Height),
	})
	buf.Write(f.Pix)
	return buf.Bytes()
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(b []byte) (types.Frame, error) {
	r := bytes.NewReader(b)
	var h frameHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return types.Frame{}, fmt.Errorf("frame header: %w", err)
	}
	want := 4 * int(h.Width) * int(h.Height)
	if r.Len() != want {
		return types.Frame{}, fmt.Errorf("frame %d: %dx%d needs %d pixel bytes, got %d", h.Seq, h.Width, h.Height, want, r.Len())
	}
	f := types.Frame{
		Seq:    h.Seq,
		Width:  int(h.Width),
		Height: int(h.Height),
		Pix:    b[len(b)-want:],
	}
	if h.CapturedAt != 0 {
		f.CapturedAt = time.Unix(0, h.CapturedAt)
	}
	return f, nil
}

type matchHeader struct {
	Top, Right, Bottom, Left int32
	Guests                   uint32
	Distance                 float64
	NameLen                  uint16
}

// encodeResult lays out seq u64 | scale f64 | count u32 | per match: box 4xi32, guests u32, distance f64, nameLen u16, name.
// The worker ID is not sent; the parent stamps its own handle ID.
func encodeResult(res types.Result) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.FrameSeq)
	binary.Write(buf, binary.BigEndian, res.Scale)
	binary.Write(buf, binary.BigEndian, uint32(len(res.Matches)))
	for _, m := range res.Matches {
		name := m.Name
		if len(name) > math.MaxUint16 {
			name = name[:math.MaxUint16]
		}
		binary.Write(buf, binary.BigEndian, matchHeader{
			Top:      int32(m.Box.Top),
			Right:    int32(m.Box.Right),
			Bottom:   int32(m.Box.Bottom),
			Left:     int32(m.Box.Left),
			Guests:   uint32(m.GuestCount),
			Distance: m.Distance,
			NameLen:  uint16(len(name)),
		})
		buf.WriteString(name)
	}
	return buf.Bytes()
}

func decodeResult(b []byte) (types.Result, error) {
	r := bytes.NewReader(b)
	var res types.Result
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &res.FrameSeq); err != nil {
		return types.Result{}, fmt.Errorf("result header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &res.Scale); err != nil {
		return types.Result{}, fmt.Errorf("result header: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return types.Result{}, fmt.Errorf("result header: %w", err)
	}
	// Each match needs at least its fixed header.
	if int64(n)*int64(binary.Size(matchHeader{})) > int64(r.Len()) {
		return types.Result{}, fmt.Errorf("result claims %d matches in %d bytes", n, r.Len())
	}

	res.Matches = make([]types.Match, 0, n)
	for i := uint32(0); i < n; i++ {
		var h matchHeader
		if err := binary.Read(r, binary.BigEndian, &h); err != nil {
			return types.Result{}, fmt.Errorf("match %d: %w", i, err)
		}
		name := make([]byte, h.NameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return types.Result{}, fmt.Errorf("match %d name: %w", i, err)
		}
		res.Matches = append(res.Matches, types.Match{
			Box:        types.Box{Top: int(h.Top), Right: int(h.Right), Bottom: int(h.Bottom), Left: int(h.Left)},
			Name:       string(name),
			GuestCount: int(h.Guests),
			Distance:   h.Distance,
		})
	}
	return res, nil
}
