package cmd

import (
	"strconv"

	"github.com/andresmejia3/attendant/internal/camera"
	"github.com/andresmejia3/attendant/internal/camera/ffmpegdev"
	"github.com/andresmejia3/attendant/internal/camera/gocvdev"
	"github.com/andresmejia3/attendant/internal/config"
	"github.com/andresmejia3/attendant/internal/embedding"
	"github.com/andresmejia3/attendant/internal/pipeline"
	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/andresmejia3/attendant/internal/worker"
	"go.uber.org/zap"
)

// newSupervisor wires the configured camera, embedder and worker mode.
// The returned func releases the embedder models.
func newSupervisor(cfg *config.Config, reg pipeline.Registry, log *zap.Logger) (*pipeline.Supervisor, func(), error) {
	rec, err := embedding.NewFaceRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, nil, err
	}

	var spawner recognition.Spawner
	if cfg.WorkerMode == config.WorkerSubprocess {
		spawner = &worker.ProcessSpawner{Args: workerArgs(cfg), Log: log}
	}

	sup, err := pipeline.New(cfg.Pipeline(), pipeline.Deps{
		Camera:   newOpener(cfg),
		Registry: reg,
		Embedder: rec,
		Spawner:  spawner,
		Logger:   log,
	})
	if err != nil {
		rec.Close()
		return nil, nil, err
	}
	return sup, rec.Close, nil
}

func newOpener(cfg *config.Config) camera.Opener {
	if cfg.CameraBackend == config.BackendFFmpeg {
		return ffmpegdev.Opener(cfg.CameraInput, cfg.CameraInputFormat, cfg.FPS)
	}
	return gocvdev.Opener(cfg.CameraDevice, cfg.CameraWidth, cfg.CameraHeight)
}

// workerArgs re-invokes this binary as a recognition worker with the parent's settings.
func workerArgs(cfg *config.Config) []string {
	return []string{
		"worker",
		"--models", cfg.ModelsDir,
		"--scale", strconv.FormatFloat(cfg.Scale, 'g', -1, 64),
		"--tolerance", strconv.FormatFloat(cfg.Tolerance, 'g', -1, 64),
		"--log-level", cfg.LogLevel,
		"--log-format", cfg.LogFormat,
	}
}
