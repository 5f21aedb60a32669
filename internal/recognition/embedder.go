package recognition

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/attendant/internal/types"
	"golang.org/x/image/draw"
)

// DefaultScale is the downscale factor applied before detection.
const DefaultScale = 0.4

// Embedder finds faces in a frame and computes one embedding per face.
type Embedder interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, frame types.Frame) ([]types.Detection, error)

func (f EmbedderFunc) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	return f(ctx, frame)
}

// DetectAndEmbed returns the single face used for enrollment.
// With strict set, more than one face is rejected; otherwise the largest face wins.
func DetectAndEmbed(ctx context.Context, e Embedder, frame types.Frame, strict bool) (types.Detection, error) {
	dets, err := e.Detect(ctx, frame)
	if err != nil {
		return types.Detection{}, fmt.Errorf("detect faces: %w", err)
	}
	if len(dets) == 0 {
		return types.Detection{}, types.ErrNoFaceDetected
	}
	if len(dets) > 1 && strict {
		return types.Detection{}, fmt.Errorf("%w: found %d", types.ErrAmbiguousFaceCount, len(dets))
	}

	best := dets[0]
	for _, d := range dets[1:] {
		if d.Box.Area() > best.Box.Area() {
			best = d
		}
	}
	if len(best.Embedding) == 0 {
		return types.Detection{}, types.ErrNoFaceDetected
	}
	return best, nil
}

// Downscale resizes frame by factor using bilinear interpolation.
// A factor of 1 or more returns the frame unchanged.
func Downscale(frame types.Frame, factor float64) types.Frame {
	if factor <= 0 || factor >= 1 || frame.IsZero() {
		return frame
	}
	w := max(1, int(float64(frame.Width)*factor))
	h := max(1, int(float64(frame.Height)*factor))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame.Image(), frame.Image().Bounds(), draw.Src, nil)

	return types.Frame{
		Seq:        frame.Seq,
		Width:      w,
		Height:     h,
		Pix:        dst.Pix,
		CapturedAt: frame.CapturedAt,
	}
}
