// Package camera owns the capture device and publishes frames at a fixed rate.
package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/metrics"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Device is an open camera handle. Read returns one frame; Seq is assigned by the Source.
type Device interface {
	Read(ctx context.Context) (types.Frame, error)
	Close() error
}

// Opener acquires the configured device.
type Opener func(ctx context.Context) (Device, error)

// Config tunes the capture loop.
type Config struct {
	FPS          int           // capture rate; the loop is paced by a ticker
	RetryInitial time.Duration // first delay after an open or read failure
	RetryMax     time.Duration // cap on the retry delay
	ReopenAfter  int           // consecutive read failures before the device is reopened
}

// DefaultConfig mirrors a 30 fps webcam with 10ms first retry.
func DefaultConfig() Config {
	return Config{
		FPS:          30,
		RetryInitial: 10 * time.Millisecond,
		RetryMax:     2 * time.Second,
		ReopenAfter:  30,
	}
}

// Source runs the capture loop and keeps the last captured frame.
type Source struct {
	open   Opener
	cfg    Config
	frames *bounded.Channel[types.Frame]
	log    *zap.Logger

	mu      sync.Mutex // guards running, cancel, done
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	devMu      sync.Mutex // serializes device access between the loop and CaptureNow
	dev        Device
	deviceOpen atomic.Bool

	last atomic.Pointer[types.Frame]
	seq  atomic.Uint64
}

// NewSource creates a stopped source. frames may be nil when only CaptureNow is needed.
func NewSource(open Opener, cfg Config, frames *bounded.Channel[types.Frame], log *zap.Logger) *Source {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultConfig().FPS
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = DefaultConfig().RetryInitial
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	if cfg.ReopenAfter <= 0 {
		cfg.ReopenAfter = DefaultConfig().ReopenAfter
	}
	return &Source{
		open:   open,
		cfg:    cfg,
		frames: frames,
		log:    log.With(zap.String("component", "frame-source")),
	}
}

// Start launches the capture loop. Calling Start on a running source is a no-op.
// Device failures never fail Start; the loop retries them in the background.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(lctx, s.done)
	return nil
}

// Stop ends the loop and returns once the device has been released. Idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the capture loop is active.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DeviceOpen reports whether a device handle is currently held.
func (s *Source) DeviceOpen() bool {
	return s.deviceOpen.Load()
}

// Latest returns the most recently captured frame, if any.
func (s *Source) Latest() (types.Frame, bool) {
	f := s.last.Load()
	if f == nil {
		return types.Frame{}, false
	}
	return *f, true
}

// CaptureNow returns the last captured frame, or reads one straight from the
// device when nothing has been captured yet.
func (s *Source) CaptureNow(ctx context.Context) (types.Frame, error) {
	if f, ok := s.Latest(); ok {
		return f, nil
	}

	s.devMu.Lock()
	defer s.devMu.Unlock()

	dev := s.dev
	if dev == nil {
		d, err := s.open(ctx)
		if err != nil {
			return types.Frame{}, fmt.Errorf("%w: open: %v", types.ErrDeviceUnavailable, err)
		}
		// One-shot handle; the loop owns long-lived handles.
		defer d.Close()
		dev = d
	}

	f, err := dev.Read(ctx)
	if err != nil {
		return types.Frame{}, fmt.Errorf("%w: read: %v", types.ErrDeviceUnavailable, err)
	}
	f.Seq = s.seq.Add(1)
	return f, nil
}

func (s *Source) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.closeDevice()

	s.log.Info("capture loop started", zap.Int("fps", s.cfg.FPS))
	defer func() {
		s.log.Info("capture loop stopped", zap.Uint64("last_seq", s.seq.Load()))
	}()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	bo := s.newBackOff()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := s.ensureDevice(ctx); err != nil {
			metrics.CaptureErrorsTotal.Inc()
			s.log.Warn("camera open failed, retrying", zap.Error(err))
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		frame, err := s.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			metrics.CaptureErrorsTotal.Inc()
			s.log.Debug("frame read failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= s.cfg.ReopenAfter {
				s.log.Warn("too many read failures, reopening camera", zap.Int("consecutive", failures))
				s.closeDevice()
				failures = 0
			}
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		failures = 0
		bo.Reset()
		s.publish(frame)
	}
}

func (s *Source) publish(frame types.Frame) {
	frame.Seq = s.seq.Add(1)
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	s.last.Store(&frame)
	metrics.FramesCapturedTotal.Inc()

	if s.frames != nil && !s.frames.Send(frame) {
		metrics.FramesDroppedTotal.WithLabelValues("frames").Inc()
	}
}

func (s *Source) ensureDevice(ctx context.Context) error {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.dev != nil {
		return nil
	}
	dev, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}
	s.dev = dev
	s.deviceOpen.Store(true)
	s.log.Info("camera opened")
	return nil
}

func (s *Source) read(ctx context.Context) (types.Frame, error) {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.dev == nil {
		return types.Frame{}, types.ErrDeviceUnavailable
	}
	return s.dev.Read(ctx)
}

func (s *Source) closeDevice() {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	if s.dev == nil {
		return
	}
	if err := s.dev.Close(); err != nil {
		s.log.Warn("camera close failed", zap.Error(err))
	}
	s.dev = nil
	s.deviceOpen.Store(false)
}

func (s *Source) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitial
	bo.MaxInterval = s.cfg.RetryMax
	bo.MaxElapsedTime = 0 // camera hiccups are retried forever
	bo.Reset()
	return bo
}

// sleep waits for d or ctx cancellation and reports whether the loop should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
