package types

import (
	"image"
	"time"

	"golang.org/x/image/draw"
)

// Unknown is the name reported for a face that matched no registered guest.
const Unknown = "Unknown"

// Embedding is a fixed-length face descriptor. The pipeline treats it as opaque.
type Embedding []float32

// Clone returns a copy that shares no memory with e.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Frame is a captured RGBA image. Pix is never modified after the frame is published.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Pix        []byte // 4 bytes per pixel, row-major, stride = 4*Width
	CapturedAt time.Time
}

// IsZero reports whether f carries no pixels.
func (f Frame) IsZero() bool {
	return len(f.Pix) == 0 || f.Width == 0 || f.Height == 0
}

// Image returns an *image.RGBA view over the frame. Callers must treat it as read-only.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameFromImage copies img into a new Frame.
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return Frame{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Pix:        rgba.Pix,
		CapturedAt: time.Now(),
	}
}

// Box is a face location as [top, right, bottom, left].
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromRect converts an image rectangle into a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y, Left: r.Min.X}
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return (b.Bottom - b.Top) * (b.Right - b.Left)
}

// Scale maps the box back into a frame that was downscaled by factor.
func (b Box) Scale(factor float64) Box {
	if factor <= 0 {
		return b
	}
	return Box{
		Top:    int(float64(b.Top) / factor),
		Right:  int(float64(b.Right) / factor),
		Bottom: int(float64(b.Bottom) / factor),
		Left:   int(float64(b.Left) / factor),
	}
}

// Detection is one face found by an Embedder.
type Detection struct {
	Box       Box
	Embedding Embedding
}

// RegisteredFace is a guest row in the registry, keyed by Name.
type RegisteredFace struct {
	Name       string
	Embedding  Embedding
	GuestCount int
	CreatedAt  time.Time
}

// Match is the recognition outcome for one detected face.
type Match struct {
	Box        Box     `json:"box"`
	Name       string  `json:"name"`
	GuestCount int     `json:"guest_count"`
	Distance   float64 `json:"distance"`
}

// Result is the complete recognition outcome for one processed frame.
// Boxes are in the coordinate space of the downscaled frame.
type Result struct {
	FrameSeq uint64  `json:"frame_seq"`
	Scale    float64 `json:"scale"`
	Matches  []Match `json:"matches"`
	WorkerID string  `json:"worker_id"`
}
