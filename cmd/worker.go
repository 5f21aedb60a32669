package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/attendant/internal/embedding"
	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/andresmejia3/attendant/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerModels    string
	workerScale     float64
	workerTolerance float64
)

var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Run a recognition worker on stdin (used by worker_mode=subprocess)",
	Hidden:      true,
	Annotations: map[string]string{skipDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := worker.DataPipe()
		if err != nil {
			return err
		}
		defer out.Close()

		rec, err := embedding.NewFaceRecognizer(workerModels)
		if err != nil {
			return err
		}
		defer rec.Close()

		log := Log.With(zap.String("component", "worker"), zap.Int("pid", os.Getpid()))
		cfg := recognition.Config{Scale: workerScale, Tolerance: workerTolerance}
		if err := worker.Serve(cmd.Context(), os.Stdin, out, rec, cfg, log); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerModels, "models", "models", "Directory containing the dlib model files")
	workerCmd.Flags().Float64Var(&workerScale, "scale", recognition.DefaultScale, "Frame downscale factor before detection")
	workerCmd.Flags().Float64Var(&workerTolerance, "tolerance", recognition.DefaultTolerance, "Maximum embedding distance for a match")
	rootCmd.AddCommand(workerCmd)
}
