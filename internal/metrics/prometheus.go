package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCapturedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_frames_captured_total",
		Help: "Frames read from the camera device",
	})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendant_frames_dropped_total",
		Help: "Items discarded by a full bounded channel, by channel",
	}, []string{"channel"})

	CaptureErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_capture_errors_total",
		Help: "Failed camera opens or reads",
	})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_frames_processed_total",
		Help: "Frames processed by recognition workers",
	})

	FrameErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_frame_errors_total",
		Help: "Frames whose recognition failed or panicked",
	})

	RecognitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendant_recognition_duration_seconds",
		Help:    "Time spent detecting and matching faces in one frame",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	WorkerRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_worker_restarts_total",
		Help: "Completed recognition worker restarts",
	})

	WorkerSpawnFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendant_worker_spawn_failures_total",
		Help: "Failed attempts to spawn a recognition worker",
	})

	WorkerAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendant_worker_available",
		Help: "1 while a recognition worker is running",
	})

	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendant_enrollments_total",
		Help: "Enrollment attempts, by outcome",
	}, []string{"outcome"})

	RegisteredFaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendant_registered_faces",
		Help: "Faces in the snapshot bound to the current worker",
	})
)
