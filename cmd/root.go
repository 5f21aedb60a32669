package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/attendant/internal/config"
	"github.com/andresmejia3/attendant/internal/logger"
	"github.com/andresmejia3/attendant/internal/pipeline"
	"github.com/andresmejia3/attendant/internal/store"
	"github.com/andresmejia3/attendant/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// registry is the guest store every subcommand works against.
type registry interface {
	pipeline.Registry
	Get(ctx context.Context, name string) (types.RegisteredFace, bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Rename(ctx context.Context, oldName, newName string) (bool, error)
	Reset(ctx context.Context) error
	Close()
}

// skipDB marks commands that never touch the registry.
const skipDB = "skip-db"

var (
	// DB is the registry shared by subcommands
	DB registry
	// Cfg is the resolved configuration
	Cfg *config.Config
	// Log is the process logger
	Log *zap.Logger

	configPath string
	dbURL      string
	useMemory  bool
	logLevel   string
	logFormat  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "attendant",
	Short:   "Live face recognition and guest enrollment",
	Version: Version,
	// Errors are reported through utils.ShowError.
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		Cfg = cfg

		Log, err = logger.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		if cmd.Annotations[skipDB] == "true" {
			return nil
		}
		return openRegistry(cmd.Context(), cfg)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("memory") {
		cfg.Memory = useMemory
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
}

func openRegistry(ctx context.Context, cfg *config.Config) error {
	if cfg.Memory {
		Log.Warn("using in-memory registry; enrollments are lost on exit")
		DB = store.NewMemory()
		return nil
	}
	pg, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = pg
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML configuration file")
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/attendant)")
	pf.BoolVar(&useMemory, "memory", false, "Keep the registry in memory instead of PostgreSQL")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "Log format (console or json)")
}
