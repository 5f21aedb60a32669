package recognition

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/metrics"
	"github.com/andresmejia3/attendant/internal/snapshot"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStopTimeout is returned by Handle.Stop when a worker did not exit within its grace period.
var ErrStopTimeout = errors.New("worker did not stop within grace period")

// Config tunes frame processing.
type Config struct {
	Scale     float64 // downscale factor applied before detection
	Tolerance float64 // Euclidean match tolerance
}

// Processor turns one frame into one Result. It is bound to a single snapshot.
type Processor struct {
	id       string
	snap     *snapshot.Snapshot
	matcher  *Matcher
	embedder Embedder
	scale    float64
}

// NewProcessor binds embedder and a matcher to snap.
func NewProcessor(id string, snap *snapshot.Snapshot, embedder Embedder, cfg Config) *Processor {
	scale := cfg.Scale
	if scale <= 0 || scale >= 1 {
		scale = 1
	}
	return &Processor{
		id:       id,
		snap:     snap,
		matcher:  NewMatcher(snap, cfg.Tolerance),
		embedder: embedder,
		scale:    scale,
	}
}

// Process downscales, detects and matches. A panic inside detection is
// converted into an error so one bad frame cannot take the worker down.
func (p *Processor) Process(ctx context.Context, frame types.Frame) (res types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing frame %d: %v\n%s", frame.Seq, r, debug.Stack())
		}
	}()

	start := time.Now()
	small := Downscale(frame, p.scale)
	dets, err := p.embedder.Detect(ctx, small)
	if err != nil {
		return types.Result{}, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	metrics.RecognitionDuration.Observe(time.Since(start).Seconds())

	return types.Result{
		FrameSeq: frame.Seq,
		Scale:    p.scale,
		Matches:  p.matcher.MatchAll(dets),
		WorkerID: p.id,
	}, nil
}

// Worker pulls frames from a bounded channel and publishes results to another.
type Worker struct {
	*Processor
	frames  *bounded.Channel[types.Frame]
	results *bounded.Channel[types.Result]
	log     *zap.Logger

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewWorker creates a worker with a fresh instance ID.
func NewWorker(snap *snapshot.Snapshot, embedder Embedder, frames *bounded.Channel[types.Frame], results *bounded.Channel[types.Result], cfg Config, log *zap.Logger) *Worker {
	id := uuid.NewString()
	return &Worker{
		Processor: NewProcessor(id, snap, embedder, cfg),
		frames:    frames,
		results:   results,
		log: log.With(
			zap.String("component", "recognition-worker"),
			zap.String("worker_id", id),
			zap.Uint64("snapshot_version", snap.Version()),
		),
	}
}

// ID returns the worker instance ID.
func (w *Worker) ID() string { return w.id }

// Run blocks on the frame channel and processes frames until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Int("registered_faces", w.snap.Len()))
	defer w.log.Info("worker stopped",
		zap.Uint64("processed", w.processed.Load()),
		zap.Uint64("failed", w.failed.Load()))

	for {
		frame, err := w.frames.Receive(ctx)
		if err != nil {
			return
		}

		res, err := w.Process(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.failed.Add(1)
			metrics.FrameErrorsTotal.Inc()
			w.log.Warn("frame processing failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
			continue
		}
		w.processed.Add(1)
		metrics.FramesProcessedTotal.Inc()

		// A retired worker must not publish results from its stale snapshot.
		if ctx.Err() != nil {
			return
		}
		if !w.results.Send(res) {
			metrics.FramesDroppedTotal.WithLabelValues("results").Inc()
		}
	}
}

// Handle controls a running worker instance.
type Handle interface {
	ID() string
	SnapshotVersion() uint64
	Done() <-chan struct{}
	// Stop asks the worker to exit and waits at most grace before forcing it.
	Stop(grace time.Duration) error
}

// Spawner starts a worker bound to snap that reads frames and writes results.
type Spawner interface {
	Spawn(ctx context.Context, snap *snapshot.Snapshot, frames *bounded.Channel[types.Frame], results *bounded.Channel[types.Result]) (Handle, error)
}

// GoroutineSpawner runs workers in-process, each on its own goroutine.
type GoroutineSpawner struct {
	Embedder Embedder
	Config   Config
	Log      *zap.Logger
}

func (s *GoroutineSpawner) Spawn(ctx context.Context, snap *snapshot.Snapshot, frames *bounded.Channel[types.Frame], results *bounded.Channel[types.Result]) (Handle, error) {
	if s.Embedder == nil {
		return nil, fmt.Errorf("spawn worker: no embedder configured")
	}
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	w := NewWorker(snap, s.Embedder, frames, results, s.Config, log)
	wctx, cancel := context.WithCancel(ctx)
	h := &goroutineHandle{w: w, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		w.Run(wctx)
	}()
	return h, nil
}

type goroutineHandle struct {
	w      *Worker
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (h *goroutineHandle) ID() string              { return h.w.ID() }
func (h *goroutineHandle) SnapshotVersion() uint64 { return h.w.snap.Version() }
func (h *goroutineHandle) Done() <-chan struct{}   { return h.done }

// Stop cancels the worker context. A goroutine stuck inside Detect cannot be
// killed; it is abandoned and will exit without publishing once Detect returns.
func (h *goroutineHandle) Stop(grace time.Duration) error {
	h.once.Do(h.cancel)
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("worker %s: %w", h.w.ID(), ErrStopTimeout)
	}
}
