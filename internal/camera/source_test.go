package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDevice serves tiny frames. When block is set, Read waits for ctx cancellation.
type fakeDevice struct {
	cam    *fakeCamera
	closed atomic.Bool
}

func (d *fakeDevice) Read(ctx context.Context) (types.Frame, error) {
	if d.cam.block.Load() {
		d.cam.reading.Store(true)
		<-ctx.Done()
		return types.Frame{}, ctx.Err()
	}
	if d.cam.failReads.Load() > 0 {
		d.cam.failReads.Add(-1)
		return types.Frame{}, errors.New("read glitch")
	}
	return types.Frame{Width: 2, Height: 2, Pix: make([]byte, 16)}, nil
}

func (d *fakeDevice) Close() error {
	if d.closed.Swap(true) {
		return errors.New("double close")
	}
	d.cam.openHandles.Add(-1)
	return nil
}

type fakeCamera struct {
	failOpens   atomic.Int32
	failReads   atomic.Int32
	block       atomic.Bool
	reading     atomic.Bool
	opens       atomic.Int32
	openHandles atomic.Int32

	mu      sync.Mutex
	devices []*fakeDevice
}

func (c *fakeCamera) open(ctx context.Context) (Device, error) {
	if c.failOpens.Load() > 0 {
		c.failOpens.Add(-1)
		return nil, errors.New("no such device")
	}
	c.opens.Add(1)
	c.openHandles.Add(1)
	d := &fakeDevice{cam: c}
	c.mu.Lock()
	c.devices = append(c.devices, d)
	c.mu.Unlock()
	return d, nil
}

func fastConfig() Config {
	return Config{FPS: 500, RetryInitial: time.Millisecond, RetryMax: 5 * time.Millisecond, ReopenAfter: 3}
}

func TestSourcePublishesIncreasingSequence(t *testing.T) {
	cam := &fakeCamera{}
	frames := bounded.New[types.Frame](4, bounded.DropNew)
	src := NewSource(cam.open, fastConfig(), frames, zap.NewNop())

	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Start(context.Background()), "second Start must be a no-op")
	defer src.Stop()

	require.Eventually(t, func() bool { return frames.Len() == 4 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), cam.opens.Load(), "Start twice must not open the device twice")

	var prev uint64
	for i := 0; i < 4; i++ {
		f, ok := frames.TryReceive()
		require.True(t, ok)
		assert.Greater(t, f.Seq, prev)
		prev = f.Seq
	}

	latest, ok := src.Latest()
	require.True(t, ok)
	assert.GreaterOrEqual(t, latest.Seq, prev)
}

func TestSourceRetriesOpenAndReadFailures(t *testing.T) {
	cam := &fakeCamera{}
	cam.failOpens.Store(3)
	cam.failReads.Store(4) // crosses ReopenAfter once

	src := NewSource(cam.open, fastConfig(), nil, zap.NewNop())
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.Eventually(t, func() bool {
		_, ok := src.Latest()
		return ok
	}, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, cam.opens.Load(), int32(2), "device should be reopened after repeated read failures")
	assert.Equal(t, int32(1), cam.openHandles.Load())
}

func TestStopMidReadReleasesDevice(t *testing.T) {
	cam := &fakeCamera{}
	cam.block.Store(true)
	src := NewSource(cam.open, fastConfig(), nil, zap.NewNop())

	require.NoError(t, src.Start(context.Background()))
	require.Eventually(t, cam.reading.Load, time.Second, time.Millisecond)
	require.True(t, src.DeviceOpen())

	stopped := make(chan struct{})
	go func() {
		src.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Stop did not return within the grace period")
	}

	assert.False(t, src.DeviceOpen())
	assert.Equal(t, int32(0), cam.openHandles.Load())

	// Second stop is a no-op: no panic, no double close.
	src.Stop()
	for _, d := range cam.devices {
		assert.True(t, d.closed.Load())
	}
	assert.False(t, src.Running())
}

func TestCaptureNow(t *testing.T) {
	cam := &fakeCamera{}
	src := NewSource(cam.open, fastConfig(), nil, zap.NewNop())

	// Nothing captured yet: a one-shot device read, released afterwards.
	f, err := src.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width)
	assert.Equal(t, int32(0), cam.openHandles.Load())

	cam.failOpens.Store(1)
	_, err = src.CaptureNow(context.Background())
	assert.ErrorIs(t, err, types.ErrDeviceUnavailable)

	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()
	require.Eventually(t, func() bool {
		_, ok := src.Latest()
		return ok
	}, time.Second, time.Millisecond)

	latest, _ := src.Latest()
	got, err := src.CaptureNow(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Seq, latest.Seq)
}
