// Package gocvdev adapts an OpenCV VideoCapture to camera.Device.
package gocvdev

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/attendant/internal/camera"
	"github.com/andresmejia3/attendant/internal/types"
	"gocv.io/x/gocv"
)

var errEmptyFrame = errors.New("camera returned an empty frame")

// Device wraps a webcam opened through gocv.
type Device struct {
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// Opener returns a camera.Opener for the given device index.
// width and height are requested from the driver when non-zero.
func Opener(index, width, height int) camera.Opener {
	return func(ctx context.Context) (camera.Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vc, err := gocv.OpenVideoCapture(index)
		if err != nil {
			return nil, fmt.Errorf("open video device %d: %w", index, err)
		}
		if !vc.IsOpened() {
			vc.Close()
			return nil, fmt.Errorf("video device %d is not available", index)
		}
		if width > 0 && height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
		}
		return &Device{vc: vc, mat: gocv.NewMat()}, nil
	}
}

// Read grabs one frame. The driver call itself cannot be interrupted, so ctx
// is only checked before reading.
func (d *Device) Read(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if ok := d.vc.Read(&d.mat); !ok {
		return types.Frame{}, errors.New("video device closed")
	}
	if d.mat.Empty() {
		return types.Frame{}, errEmptyFrame
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return types.Frame{}, fmt.Errorf("convert frame: %w", err)
	}
	f := types.FrameFromImage(img)
	f.CapturedAt = time.Now()
	return f, nil
}

func (d *Device) Close() error {
	d.mat.Close()
	return d.vc.Close()
}
