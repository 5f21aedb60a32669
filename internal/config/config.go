// Package config layers defaults, an optional YAML file, .env and the process
// environment into one Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/andresmejia3/attendant/internal/bounded"
	"github.com/andresmejia3/attendant/internal/dedupe"
	"github.com/andresmejia3/attendant/internal/pipeline"
	"github.com/andresmejia3/attendant/internal/recognition"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Camera backends.
const (
	BackendGoCV   = "gocv"
	BackendFFmpeg = "ffmpeg"
)

// Worker modes.
const (
	WorkerInProcess  = "inprocess"
	WorkerSubprocess = "subprocess"
)

const defaultDatabaseURL = "postgres://localhost:5432/attendant"

type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	// Memory keeps the registry in process instead of PostgreSQL.
	Memory bool `yaml:"memory" env:"ATTENDANT_MEMORY"`

	CameraBackend     string `yaml:"camera_backend"      env:"ATTENDANT_CAMERA_BACKEND"`
	CameraDevice      int    `yaml:"camera_device"       env:"ATTENDANT_CAMERA_DEVICE"`
	CameraInput       string `yaml:"camera_input"        env:"ATTENDANT_CAMERA_INPUT"`
	CameraInputFormat string `yaml:"camera_input_format" env:"ATTENDANT_CAMERA_INPUT_FORMAT"`
	CameraWidth       int    `yaml:"camera_width"        env:"ATTENDANT_CAMERA_WIDTH"`
	CameraHeight      int    `yaml:"camera_height"       env:"ATTENDANT_CAMERA_HEIGHT"`
	FPS               int    `yaml:"fps"                 env:"ATTENDANT_FPS"`

	ModelsDir string `yaml:"models_dir" env:"ATTENDANT_MODELS_DIR"`

	Scale           float64       `yaml:"scale"            env:"ATTENDANT_SCALE"`
	Tolerance       float64       `yaml:"tolerance"        env:"ATTENDANT_TOLERANCE"`
	DedupeThreshold float64       `yaml:"dedupe_threshold" env:"ATTENDANT_DEDUPE_THRESHOLD"`
	StrictEnroll    bool          `yaml:"strict_enroll"    env:"ATTENDANT_STRICT_ENROLL"`
	FrameCapacity   int           `yaml:"frame_capacity"   env:"ATTENDANT_FRAME_CAPACITY"`
	ResultCapacity  int           `yaml:"result_capacity"  env:"ATTENDANT_RESULT_CAPACITY"`
	FramePolicy     string        `yaml:"frame_policy"     env:"ATTENDANT_FRAME_POLICY"`
	ResultPolicy    string        `yaml:"result_policy"    env:"ATTENDANT_RESULT_POLICY"`
	Grace           time.Duration `yaml:"grace"            env:"ATTENDANT_GRACE"`
	WorkerMode      string        `yaml:"worker_mode"      env:"ATTENDANT_WORKER_MODE"`

	LogLevel     string `yaml:"log_level"     env:"LOG_LEVEL"`
	LogFormat    string `yaml:"log_format"    env:"LOG_FORMAT"`
	MetricsPort  int    `yaml:"metrics_port"  env:"METRICS_PORT"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// MQTTBroker enables arrival announcements when set, e.g. tcp://localhost:1883.
	MQTTBroker string `yaml:"mqtt_broker" env:"ATTENDANT_MQTT_BROKER"`
	MQTTTopic  string `yaml:"mqtt_topic"  env:"ATTENDANT_MQTT_TOPIC"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CameraBackend:   BackendGoCV,
		FPS:             30,
		ModelsDir:       "models",
		Scale:           recognition.DefaultScale,
		Tolerance:       recognition.DefaultTolerance,
		DedupeThreshold: dedupe.DefaultThreshold,
		StrictEnroll:    true,
		FrameCapacity:   bounded.DefaultCapacity,
		ResultCapacity:  bounded.DefaultCapacity,
		FramePolicy:     bounded.DropNew.String(),
		ResultPolicy:    bounded.DropNew.String(),
		Grace:           pipeline.DefaultGrace,
		WorkerMode:      WorkerInProcess,
		LogLevel:        "info",
		LogFormat:       "console",
		MQTTTopic:       "attendant/arrivals",
	}
}

// Load applies, in order: defaults, the YAML file at path (if non-empty),
// variables from ./.env, and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.resolveDatabaseURL()
	return cfg, nil
}

// resolveDatabaseURL falls back to the POSTGRES_* variables, then a local default.
func (c *Config) resolveDatabaseURL() {
	if c.DatabaseURL != "" {
		return
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		c.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
		return
	}
	c.DatabaseURL = defaultDatabaseURL
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Scale > 0 && c.Scale <= 1, "scale must be in (0, 1], got %v", c.Scale)
	check(c.Tolerance > 0, "tolerance must be positive, got %v", c.Tolerance)
	check(c.DedupeThreshold > 0 && c.DedupeThreshold <= 1, "dedupe_threshold must be in (0, 1], got %v", c.DedupeThreshold)
	check(c.FrameCapacity >= 1, "frame_capacity must be at least 1, got %d", c.FrameCapacity)
	check(c.ResultCapacity >= 1, "result_capacity must be at least 1, got %d", c.ResultCapacity)
	check(c.FPS > 0, "fps must be positive, got %d", c.FPS)
	check(c.Grace > 0, "grace must be positive, got %s", c.Grace)
	check(validPolicy(c.FramePolicy), "frame_policy must be drop-new or drop-oldest, got %q", c.FramePolicy)
	check(validPolicy(c.ResultPolicy), "result_policy must be drop-new or drop-oldest, got %q", c.ResultPolicy)
	check(c.CameraBackend == BackendGoCV || c.CameraBackend == BackendFFmpeg,
		"camera_backend must be %s or %s, got %q", BackendGoCV, BackendFFmpeg, c.CameraBackend)
	check(c.CameraBackend != BackendFFmpeg || c.CameraInput != "", "camera_input is required for the ffmpeg backend")
	check(c.WorkerMode == WorkerInProcess || c.WorkerMode == WorkerSubprocess,
		"worker_mode must be %s or %s, got %q", WorkerInProcess, WorkerSubprocess, c.WorkerMode)
	check(c.MQTTBroker == "" || c.MQTTTopic != "", "mqtt_topic is required when mqtt_broker is set")
	check(c.MetricsPort >= 0 && c.MetricsPort <= 65535, "metrics_port out of range: %d", c.MetricsPort)

	return errors.Join(errs...)
}

func validPolicy(s string) bool {
	return s == bounded.DropNew.String() || s == bounded.DropOldest.String()
}

// Pipeline converts the settings into a pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.FrameCapacity = c.FrameCapacity
	pc.ResultCapacity = c.ResultCapacity
	pc.FramePolicy = bounded.ParsePolicy(c.FramePolicy)
	pc.ResultPolicy = bounded.ParsePolicy(c.ResultPolicy)
	pc.Grace = c.Grace
	pc.DedupeThreshold = c.DedupeThreshold
	pc.StrictEnroll = c.StrictEnroll
	pc.Camera.FPS = c.FPS
	pc.Recognition = recognition.Config{Scale: c.Scale, Tolerance: c.Tolerance}
	return pc
}
