// Package pipeline wires the frame source, the recognition worker and the
// registry together, and owns the worker lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/camera"
	"github.com/andresmejia3/attendant/internal/dedupe"
	"github.com/andresmejia3/attendant/internal/metrics"
	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/andresmejia3/attendant/internal/snapshot"
	"github.com/andresmejia3/attendant/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultGrace is how long a retiring worker gets to exit before it is forced.
const DefaultGrace = 300 * time.Millisecond

// Registry is the persistent set of registered guests.
type Registry interface {
	LoadAll(ctx context.Context) ([]types.RegisteredFace, error)
	Upsert(ctx context.Context, f types.RegisteredFace) error
	Stats(ctx context.Context) (count, guests int, err error)
}

// State is the supervisor lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Restarting
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes the pipeline.
type Config struct {
	FrameCapacity   int
	ResultCapacity  int
	FramePolicy     bounded.Policy
	ResultPolicy    bounded.Policy
	Grace           time.Duration
	DedupeThreshold float64
	// StrictEnroll rejects enrollment frames with more than one face.
	StrictEnroll bool
	Camera       camera.Config
	Recognition  recognition.Config
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		FrameCapacity:   bounded.DefaultCapacity,
		ResultCapacity:  bounded.DefaultCapacity,
		FramePolicy:     bounded.DropNew,
		ResultPolicy:    bounded.DropNew,
		Grace:           DefaultGrace,
		DedupeThreshold: dedupe.DefaultThreshold,
		StrictEnroll:    true,
		Camera:          camera.DefaultConfig(),
		Recognition: recognition.Config{
			Scale:     recognition.DefaultScale,
			Tolerance: recognition.DefaultTolerance,
		},
	}
}

// Deps are the collaborators a Supervisor drives.
type Deps struct {
	Camera   camera.Opener
	Registry Registry
	// Embedder computes enrollment embeddings.
	Embedder recognition.Embedder
	// Spawner starts recognition workers. Defaults to in-process goroutines using Embedder.
	Spawner recognition.Spawner
	Logger  *zap.Logger
}

// Supervisor owns every piece of pipeline state.
type Supervisor struct {
	cfg      Config
	registry Registry
	embedder recognition.Embedder
	spawner  recognition.Spawner
	log      *zap.Logger
	tracer   trace.Tracer

	source  *camera.Source
	frames  *bounded.Channel[types.Frame]
	results *bounded.Channel[types.Result]

	lifeMu sync.Mutex // serializes Start and Stop

	mu        sync.Mutex // guards the fields below
	state     State
	worker    recognition.Handle
	snap      *snapshot.Snapshot
	cancelRun context.CancelFunc
	runCtx    context.Context

	// Restart coalescing: requested counts restart requests, completed holds the
	// request number covered by the last finished restart.
	restartMu      sync.Mutex
	requested      atomic.Uint64
	completed      uint64
	lastRestartErr error

	enrollMu   sync.Mutex
	lastResult atomic.Pointer[types.Result]
}

// New builds a stopped supervisor.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if deps.Camera == nil {
		return nil, fmt.Errorf("pipeline: camera opener is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FrameCapacity <= 0 {
		cfg.FrameCapacity = bounded.DefaultCapacity
	}
	if cfg.ResultCapacity <= 0 {
		cfg.ResultCapacity = bounded.DefaultCapacity
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.DedupeThreshold <= 0 {
		cfg.DedupeThreshold = dedupe.DefaultThreshold
	}

	spawner := deps.Spawner
	if spawner == nil {
		spawner = &recognition.GoroutineSpawner{Embedder: deps.Embedder, Config: cfg.Recognition, Log: log}
	}

	frames := bounded.New[types.Frame](cfg.FrameCapacity, cfg.FramePolicy)
	s := &Supervisor{
		cfg:      cfg,
		registry: deps.Registry,
		embedder: deps.Embedder,
		spawner:  spawner,
		log:      log.With(zap.String("component", "supervisor")),
		tracer:   otel.Tracer("github.com/andresmejia3/attendant/internal/pipeline"),
		source:   camera.NewSource(deps.Camera, cfg.Camera, frames, log),
		frames:   frames,
		results:  bounded.New[types.Result](cfg.ResultCapacity, cfg.ResultPolicy),
	}
	return s, nil
}

// Start opens the frame source, loads the registry and spawns the first worker.
// Calling Start while not stopped is a no-op. A worker that cannot be spawned
// leaves the pipeline running without recognition and returns ErrWorkerUnavailable.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = Starting
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx, s.cancelRun = runCtx, cancel
	s.mu.Unlock()

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		cancel()
		s.setState(Stopped)
		return fmt.Errorf("start pipeline: %w", err)
	}

	if err := s.source.Start(runCtx); err != nil {
		cancel()
		s.setState(Stopped)
		return fmt.Errorf("start frame source: %w", err)
	}

	h, spawnErr := s.spawn(runCtx, snap)

	s.mu.Lock()
	s.snap = snap
	s.worker = h
	s.state = Running
	s.mu.Unlock()
	s.publishWorker(h)

	s.log.Info("pipeline started",
		zap.Uint64("snapshot_version", snap.Version()),
		zap.Int("registered_faces", snap.Len()),
		zap.Bool("worker_available", h != nil))
	return spawnErr
}

// Stop moves the pipeline to Stopped from any state. Idempotent. It waits for
// an in-flight restart, so no worker outlives it.
func (s *Supervisor) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	w := s.worker
	s.worker = nil
	cancel := s.cancelRun
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// An in-flight restart sees Stopping and stops whatever it spawned.
	s.restartMu.Lock()
	s.restartMu.Unlock()

	if w != nil {
		if err := w.Stop(s.cfg.Grace); err != nil {
			s.log.Warn("worker did not exit in time, abandoned", zap.String("worker_id", w.ID()), zap.Error(err))
		}
	}
	s.source.Stop()
	dropped := s.frames.Drain()
	s.results.Drain()
	s.lastResult.Store(nil)
	metrics.WorkerAvailable.Set(0)

	s.setState(Stopped)
	s.log.Info("pipeline stopped", zap.Int("pending_frames_discarded", dropped))
}

// RestartWorker replaces the running worker with one bound to a fresh snapshot.
// At most one restart runs at a time; requests that arrive while one is in
// flight are served together by a single follow-up restart.
func (s *Supervisor) RestartWorker(ctx context.Context) error {
	ticket := s.requested.Add(1)

	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	if s.completed >= ticket {
		return s.lastRestartErr
	}

	covers := s.requested.Load()
	err := s.restart(ctx)
	s.completed = covers
	s.lastRestartErr = err
	return err
}

func (s *Supervisor) restart(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.RestartWorker")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		// No worker to replace; only refresh the snapshot used for duplicate checks.
		snap, err := s.loadSnapshot(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()
		return nil
	}
	s.state = Restarting
	old := s.worker
	s.worker = nil
	prev := s.snap
	runCtx := s.runCtx
	s.mu.Unlock()
	metrics.WorkerAvailable.Set(0)

	if old != nil {
		if err := old.Stop(s.cfg.Grace); err != nil {
			s.log.Warn("worker did not exit in time, abandoned", zap.String("worker_id", old.ID()), zap.Error(err))
		}
	}

	snap, loadErr := s.loadSnapshot(ctx)
	if loadErr != nil {
		s.log.Error("snapshot reload failed, keeping previous registry", zap.Error(loadErr))
		snap = prev
	}

	var h recognition.Handle
	spawnErr := runCtx.Err()
	if spawnErr == nil {
		h, spawnErr = s.spawn(runCtx, snap)
	}

	s.mu.Lock()
	if s.state != Restarting {
		// Stop ran while we were spawning.
		s.mu.Unlock()
		if h != nil {
			h.Stop(s.cfg.Grace)
		}
		return nil
	}
	s.snap = snap
	s.worker = h
	s.state = Running
	s.mu.Unlock()
	s.publishWorker(h)

	if spawnErr != nil {
		return spawnErr
	}
	metrics.WorkerRestartsTotal.Inc()
	span.SetAttributes(attribute.Int64("snapshot.version", int64(snap.Version())))
	s.log.Info("worker restarted",
		zap.String("worker_id", h.ID()),
		zap.Uint64("snapshot_version", snap.Version()),
		zap.Int("registered_faces", snap.Len()))
	return loadErr
}

// spawn starts a worker, retrying once after the grace delay.
func (s *Supervisor) spawn(ctx context.Context, snap *snapshot.Snapshot) (recognition.Handle, error) {
	h, err := s.spawner.Spawn(ctx, snap, s.frames, s.results)
	if err == nil {
		return h, nil
	}
	metrics.WorkerSpawnFailuresTotal.Inc()
	s.log.Warn("worker spawn failed, retrying", zap.Duration("delay", s.cfg.Grace), zap.Error(err))

	t := time.NewTimer(s.cfg.Grace)
	select {
	case <-ctx.Done():
		t.Stop()
		return nil, fmt.Errorf("%w: %v", types.ErrWorkerUnavailable, ctx.Err())
	case <-t.C:
	}

	h, err = s.spawner.Spawn(ctx, snap, s.frames, s.results)
	if err != nil {
		metrics.WorkerSpawnFailuresTotal.Inc()
		s.log.Error("worker spawn failed twice, recognition disabled", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", types.ErrWorkerUnavailable, err)
	}
	return h, nil
}

// publishWorker updates gauges and watches h for an unexpected exit.
func (s *Supervisor) publishWorker(h recognition.Handle) {
	if h == nil {
		metrics.WorkerAvailable.Set(0)
		return
	}
	metrics.WorkerAvailable.Set(1)
	metrics.RegisteredFaces.Set(float64(s.snapshot().Len()))

	go func() {
		<-h.Done()
		s.mu.Lock()
		crashed := s.worker == h
		if crashed {
			s.worker = nil
		}
		s.mu.Unlock()
		if crashed {
			metrics.WorkerAvailable.Set(0)
			s.log.Error("worker exited unexpectedly, use restart to recover", zap.String("worker_id", h.ID()))
		}
	}()
}

func (s *Supervisor) loadSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	faces, err := s.registry.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	s.mu.Lock()
	version := s.snap.Version() + 1
	s.mu.Unlock()
	return snapshot.New(version, faces), nil
}

// Enroll registers the single face in frame under name. On success the
// worker is restarted exactly once so recognition picks up the new guest.
func (s *Supervisor) Enroll(ctx context.Context, name string, guests int, frame types.Frame) (err error) {
	name = strings.TrimSpace(name)
	ctx, span := s.tracer.Start(ctx, "pipeline.Enroll", trace.WithAttributes(
		attribute.String("guest.name", name),
		attribute.Int("guest.count", guests),
		attribute.Int64("frame.seq", int64(frame.Seq)),
	))
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = enrollOutcome(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.EnrollmentsTotal.WithLabelValues(outcome).Inc()
		span.End()
	}()

	if name == "" {
		return fmt.Errorf("%w: name must not be empty", types.ErrInvalidInput)
	}
	if guests < 0 {
		return fmt.Errorf("%w: guest count %d is negative", types.ErrInvalidInput, guests)
	}
	if frame.IsZero() {
		return fmt.Errorf("%w: empty frame", types.ErrInvalidInput)
	}

	s.enrollMu.Lock()
	defer s.enrollMu.Unlock()

	det, err := recognition.DetectAndEmbed(ctx, s.embedder, frame, s.cfg.StrictEnroll)
	if err != nil {
		return err
	}

	existing, err := s.knownFaces(ctx)
	if err != nil {
		return err
	}
	if dup, sim, ok := dedupe.FindDuplicate(det.Embedding, existing, s.cfg.DedupeThreshold); ok {
		s.log.Info("enrollment rejected as duplicate",
			zap.String("name", name), zap.String("matches", dup), zap.Float64("similarity", sim))
		return &types.AlreadyRegisteredError{Name: dup, Similarity: sim}
	}

	face := types.RegisteredFace{Name: name, Embedding: det.Embedding, GuestCount: guests}
	if err := s.registry.Upsert(ctx, face); err != nil {
		if !errors.Is(err, types.ErrPersistenceFailure) && !errors.Is(err, types.ErrInvalidInput) {
			err = fmt.Errorf("%w: %v", types.ErrPersistenceFailure, err)
		}
		return err
	}
	s.log.Info("guest enrolled", zap.String("name", name), zap.Int("guests", guests))

	if err := s.RestartWorker(ctx); err != nil {
		return fmt.Errorf("guest %q saved but worker restart failed: %w", name, err)
	}
	return nil
}

// EnrollFromCamera enrolls the face in the most recent camera frame.
func (s *Supervisor) EnrollFromCamera(ctx context.Context, name string, guests int) error {
	frame, err := s.CaptureNow(ctx)
	if err != nil {
		return err
	}
	return s.Enroll(ctx, name, guests, frame)
}

// knownFaces returns the faces a candidate is checked against: the current
// snapshot, or the registry itself before the first snapshot exists.
func (s *Supervisor) knownFaces(ctx context.Context) ([]types.RegisteredFace, error) {
	if snap := s.snapshot(); snap != nil {
		return snap.Faces(), nil
	}
	return s.registry.LoadAll(ctx)
}

func enrollOutcome(err error) string {
	switch {
	case errors.Is(err, types.ErrAlreadyRegistered):
		return "duplicate"
	case errors.Is(err, types.ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, types.ErrAmbiguousFaceCount):
		return "ambiguous"
	case errors.Is(err, types.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, types.ErrPersistenceFailure):
		return "persistence_error"
	case errors.Is(err, types.ErrWorkerUnavailable):
		return "worker_unavailable"
	default:
		return "error"
	}
}

// TryGetLatestFrame returns the last captured frame without blocking.
func (s *Supervisor) TryGetLatestFrame() (types.Frame, bool) {
	return s.source.Latest()
}

// TryGetLatestResult drains pending results and returns the newest one seen so far.
// The last result stays available until a newer one arrives.
func (s *Supervisor) TryGetLatestResult() (types.Result, bool) {
	for {
		res, ok := s.results.TryReceive()
		if !ok {
			break
		}
		s.lastResult.Store(&res)
	}
	last := s.lastResult.Load()
	if last == nil {
		return types.Result{}, false
	}
	return *last, true
}

// CaptureNow returns the newest frame, reading the device directly if none is cached.
func (s *Supervisor) CaptureNow(ctx context.Context) (types.Frame, error) {
	return s.source.CaptureNow(ctx)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SnapshotVersion returns the version of the snapshot bound to the current worker.
func (s *Supervisor) SnapshotVersion() uint64 {
	return s.snapshot().Version()
}

// WorkerAvailable reports whether a recognition worker is running.
func (s *Supervisor) WorkerAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker != nil
}

// Stats returns the registry's guest row count and total guest count.
func (s *Supervisor) Stats(ctx context.Context) (count, guests int, err error) {
	return s.registry.Stats(ctx)
}

// ChannelStats reports send and drop counters of the frame and result channels.
func (s *Supervisor) ChannelStats() (frames, results bounded.Stats) {
	return s.frames.Stats(), s.results.Stats()
}

// Health reports an error while the pipeline cannot recognize faces.
func (s *Supervisor) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state != Running && s.state != Restarting:
		return fmt.Errorf("pipeline is %s", s.state)
	case s.state == Running && s.worker == nil:
		return types.ErrWorkerUnavailable
	}
	return nil
}

func (s *Supervisor) snapshot() *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
