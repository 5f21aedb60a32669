package ffmpegdev

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/attendant/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMJPEG(t *testing.T, frames int) string {
	t.Helper()
	var buf bytes.Buffer
	for i := 0; i < frames; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 16, 12))
		for p := range img.Pix {
			img.Pix[p] = uint8(40 * i)
		}
		img.Set(0, 0, color.White)
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	path := filepath.Join(t.TempDir(), "stream.mjpeg")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestDeviceDecodesPipedFrames(t *testing.T) {
	path := writeMJPEG(t, 3)
	dev, err := Open(utils.NewSafeCommand("cat", path))
	require.NoError(t, err)
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := dev.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, f.Width)
	assert.Equal(t, 12, f.Height)
	assert.Len(t, f.Pix, 4*16*12)

	// cat exits after the file; the stream then reports its end.
	require.Eventually(t, func() bool {
		_, err := dev.Read(ctx)
		return errors.Is(err, ErrStreamEnded)
	}, 5*time.Second, time.Millisecond)
}

func TestReadHonoursContext(t *testing.T) {
	// sleep produces no output, so Read can only return through ctx.
	dev, err := Open(utils.NewSafeCommand("sleep", "10"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = dev.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, dev.Close())
	assert.NoError(t, dev.Close())
}
