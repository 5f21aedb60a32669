// Package ffmpegdev reads frames from an ffmpeg MJPEG pipe. It serves video
// files and capture devices that gocv cannot open directly.
package ffmpegdev

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/andresmejia3/attendant/internal/camera"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/andresmejia3/attendant/internal/utils"
)

// maxFrameBytes bounds a single JPEG frame in the pipe.
const maxFrameBytes = 16 << 20

// ErrStreamEnded is returned once ffmpeg has exited and every frame was consumed.
var ErrStreamEnded = errors.New("ffmpeg stream ended")

// Device decodes JPEG frames from a running ffmpeg process.
type Device struct {
	cmd    *utils.SafeCommand
	frames chan []byte
	done   chan struct{}
	err    error // set before done is closed

	closeOnce sync.Once
}

// Opener starts ffmpeg for input on every open.
func Opener(input, inputFormat string, fps int) camera.Opener {
	return func(ctx context.Context) (camera.Device, error) {
		return Open(utils.NewFFmpegCmd(input, inputFormat, fps))
	}
}

// Open starts cmd and begins splitting its stdout into JPEG frames.
func Open(cmd *utils.SafeCommand) (*Device, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	d := &Device{cmd: cmd, frames: make(chan []byte, 1), done: make(chan struct{})}
	go d.pump(stdout)
	return d, nil
}

// pump keeps only the newest undelivered JPEG so a slow reader never sees stale video.
func (d *Device) pump(r io.Reader) {
	defer close(d.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(utils.SplitJpeg)
	for scanner.Scan() {
		buf := append([]byte(nil), scanner.Bytes()...)
		select {
		case d.frames <- buf:
		default:
			select {
			case <-d.frames:
			default:
			}
			d.frames <- buf
		}
	}
	d.err = scanner.Err()
}

// Read returns the next decoded frame.
func (d *Device) Read(ctx context.Context) (types.Frame, error) {
	var data []byte
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case data = <-d.frames:
	case <-d.done:
		// Drain anything pushed just before the pipe closed.
		select {
		case data = <-d.frames:
		default:
			if d.err != nil {
				return types.Frame{}, fmt.Errorf("%w: %v", ErrStreamEnded, d.err)
			}
			return types.Frame{}, ErrStreamEnded
		}
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode jpeg: %w", err)
	}
	f := types.FrameFromImage(img)
	f.CapturedAt = time.Now()
	return f, nil
}

// Close stops ffmpeg and waits for it to exit.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
		}
		<-d.done
		d.cmd.Wait() // always "signal: killed"
	})
	return nil
}
