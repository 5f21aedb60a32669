package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/metrics"
	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/andresmejia3/attendant/internal/snapshot"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultReadyTimeout bounds model loading in a fresh worker process.
const DefaultReadyTimeout = 30 * time.Second

const stderrTail = 2048

// ProcessSpawner starts each recognition worker as a child process.
type ProcessSpawner struct {
	// Path is the executable to run. Empty means the current binary.
	Path string
	// Args select the worker command, e.g. ["worker", "--models", dir].
	Args         []string
	ReadyTimeout time.Duration
	Log          *zap.Logger
}

func (s *ProcessSpawner) Spawn(ctx context.Context, snap *snapshot.Snapshot, frames *bounded.Channel[types.Frame], results *bounded.Channel[types.Result]) (recognition.Handle, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
		path = exe
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	payload, err := snapshot.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := StartProcess(uuid.NewString(), path, s.Args...)
	if err != nil {
		return nil, err
	}
	if err := handshake(ctx, p, payload, timeout); err != nil {
		p.Kill()
		p.Close()
		return nil, fmt.Errorf("worker %s did not become ready: %w\n%s", p.ID, err, tail(p.Cmd.Stderr.String()))
	}
	return attach(ctx, p, snap.Version(), frames, results, log), nil
}

// handshake sends the snapshot and waits for the worker's acknowledgement.
// It gives up when ctx is cancelled or timeout elapses.
func handshake(ctx context.Context, p *Process, payload []byte, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		_, err := p.Communicate(payload)
		errc <- err
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-errc:
		return err
	case <-t.C:
		return fmt.Errorf("no response after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type processHandle struct {
	p       *Process
	version uint64
	frames  *bounded.Channel[types.Frame]
	results *bounded.Channel[types.Result]
	log     *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	stopping atomic.Bool
}

// attach starts forwarding frames to a ready worker process.
func attach(ctx context.Context, p *Process, version uint64, frames *bounded.Channel[types.Frame], results *bounded.Channel[types.Result], log *zap.Logger) *processHandle {
	wctx, cancel := context.WithCancel(ctx)
	h := &processHandle{
		p:       p,
		version: version,
		frames:  frames,
		results: results,
		log: log.With(
			zap.String("component", "worker-process"),
			zap.String("worker_id", p.ID),
			zap.Uint64("snapshot_version", version)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(wctx)
	return h
}

func (h *processHandle) ID() string              { return h.p.ID }
func (h *processHandle) SnapshotVersion() uint64 { return h.version }
func (h *processHandle) Done() <-chan struct{}   { return h.done }

// Stop closes the worker's stdin and kills it if it has not exited after grace.
func (h *processHandle) Stop(grace time.Duration) error {
	h.stopOnce.Do(func() {
		h.stopping.Store(true)
		h.cancel()
		h.p.Stdin.Close()
	})
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	h.p.Kill()
	select {
	case <-h.done:
	case <-time.After(grace):
	}
	return fmt.Errorf("worker %s killed: %w", h.p.ID, recognition.ErrStopTimeout)
}

func (h *processHandle) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		waitErr := h.p.Close()
		if h.stopping.Load() {
			h.log.Info("worker process stopped")
			return
		}
		var stderr string
		if h.p.Cmd != nil {
			stderr = tail(h.p.Cmd.Stderr.String())
		}
		h.log.Error("worker process exited unexpectedly", zap.Error(waitErr), zap.String("stderr", stderr))
	}()

	for {
		frame, err := h.frames.Receive(ctx)
		if err != nil {
			return
		}

		body, err := h.p.Communicate(EncodeFrame(frame))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var remote *RemoteError
			if errors.As(err, &remote) {
				metrics.FrameErrorsTotal.Inc()
				h.log.Warn("frame processing failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
				continue
			}
			h.log.Error("worker pipe broken", zap.Error(err))
			return
		}

		res, err := decodeResult(body)
		if err != nil {
			metrics.FrameErrorsTotal.Inc()
			h.log.Warn("undecodable worker result", zap.Uint64("seq", frame.Seq), zap.Error(err))
			continue
		}
		res.WorkerID = h.p.ID
		metrics.FramesProcessedTotal.Inc()

		// A retired worker must not publish results from its stale snapshot.
		if ctx.Err() != nil {
			return
		}
		if !h.results.Send(res) {
			metrics.FramesDroppedTotal.WithLabelValues("results").Inc()
		}
	}
}

func tail(s string) string {
	if len(s) <= stderrTail {
		return s
	}
	return "..." + s[len(s)-stderrTail:]
}
