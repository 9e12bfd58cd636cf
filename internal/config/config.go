package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable consulted when no -config flag is
// given.
const EnvPath = "ECSRT_CONFIG"

type Config struct {
	Engine    EngineConfig    `toml:"engine" yaml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler" yaml:"scheduler"`
	Storage   StorageConfig   `toml:"storage" yaml:"storage"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
}

type EngineConfig struct {
	Debug     bool   `toml:"debug" yaml:"debug"`           // panic on lifecycle misuse instead of entering the error state
	FrameRate int    `toml:"frame_rate" yaml:"frame_rate"` // frames per second for Loop
	MaxFrames uint64 `toml:"max_frames" yaml:"max_frames"` // 0 = until cancelled
}

type SchedulerConfig struct {
	LockOSThread     bool          `toml:"lock_os_thread" yaml:"lock_os_thread"`
	DetachedInterval time.Duration `toml:"detached_interval" yaml:"detached_interval"`
}

type StorageConfig struct {
	InitialCapacity int `toml:"initial_capacity" yaml:"initial_capacity"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
}

// FrameInterval is the Loop period derived from FrameRate.
func (c EngineConfig) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FrameRate)
}

// Load reads path over the defaults. Files ending in .yaml or .yml are YAML,
// everything else TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve picks the config path: the flag value if set, else EnvPath. An
// empty result means run on defaults.
func Resolve(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv(EnvPath)
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

var (
	ErrFrameRate = errors.New("engine.frame_rate must be positive")
	ErrCapacity  = errors.New("storage.initial_capacity must not be negative")
	ErrInterval  = errors.New("scheduler.detached_interval must not be negative")
	ErrFormat    = errors.New(`logging.format must be "json" or "console"`)
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Engine.FrameRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: got %d", ErrFrameRate, c.Engine.FrameRate))
	}
	if c.Storage.InitialCapacity < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: got %d", ErrCapacity, c.Storage.InitialCapacity))
	}
	if c.Scheduler.DetachedInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: got %s", ErrInterval, c.Scheduler.DetachedInterval))
	}
	var level zapcore.Level
	if lerr := level.UnmarshalText([]byte(c.Logging.Level)); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("logging.level: %w", lerr))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		err = multierr.Append(err, fmt.Errorf("%w: got %q", ErrFormat, c.Logging.Format))
	}
	return err
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			FrameRate: 60,
		},
		Scheduler: SchedulerConfig{
			LockOSThread: true,
		},
		Storage: StorageConfig{
			InitialCapacity: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
