package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "PARTSTOCK"

	// envConfigFile names an optional YAML/JSON/TOML file read before the
	// environment. Environment variables always win.
	envConfigFile = "PARTSTOCK_CONFIG"

	keyListenAddr        = "listen_addr"
	keyDBPath            = "db_path"
	keyLogLevel          = "log_level"
	keyWorkers           = "workers"
	keyTaskRetention     = "task_retention"
	keySweepInterval     = "sweep_interval"
	keyDrainPollInterval = "drain_poll_interval"
	keyShutdownTimeout   = "shutdown_timeout"
	keyRelayURL          = "relay_url"
	keyRelayTimeout      = "relay_timeout"

	defaultListenAddr        = ":8080"
	defaultDBPath            = "partstock.db"
	defaultLogLevel          = "info"
	defaultWorkers           = 4
	defaultTaskRetention     = time.Hour
	defaultSweepInterval     = time.Minute
	defaultDrainPollInterval = 100 * time.Millisecond
	defaultShutdownTimeout   = 10 * time.Second
	defaultRelayTimeout      = 5 * time.Second
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Workers is the fixed size of the task worker pool.
	Workers int
	// TaskRetention is how long a finished task stays queryable.
	TaskRetention     time.Duration
	SweepInterval     time.Duration
	DrainPollInterval time.Duration
	ShutdownTimeout   time.Duration

	// RelayURL is the external relay's internal send endpoint. When empty,
	// events are served by the in-process hub.
	RelayURL     string
	RelayTimeout time.Duration
}

// Load reads configuration from an optional config file and PARTSTOCK_*
// environment variables, falling back to defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyListenAddr, defaultListenAddr)
	v.SetDefault(keyDBPath, defaultDBPath)
	v.SetDefault(keyLogLevel, defaultLogLevel)
	v.SetDefault(keyWorkers, defaultWorkers)
	v.SetDefault(keyTaskRetention, defaultTaskRetention)
	v.SetDefault(keySweepInterval, defaultSweepInterval)
	v.SetDefault(keyDrainPollInterval, defaultDrainPollInterval)
	v.SetDefault(keyShutdownTimeout, defaultShutdownTimeout)
	v.SetDefault(keyRelayURL, "")
	v.SetDefault(keyRelayTimeout, defaultRelayTimeout)

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		ListenAddr:        v.GetString(keyListenAddr),
		DBPath:            v.GetString(keyDBPath),
		LogLevel:          parseLogLevel(v.GetString(keyLogLevel)),
		Workers:           v.GetInt(keyWorkers),
		TaskRetention:     v.GetDuration(keyTaskRetention),
		SweepInterval:     v.GetDuration(keySweepInterval),
		DrainPollInterval: v.GetDuration(keyDrainPollInterval),
		ShutdownTimeout:   v.GetDuration(keyShutdownTimeout),
		RelayURL:          v.GetString(keyRelayURL),
		RelayTimeout:      v.GetDuration(keyRelayTimeout),
	}

	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", keyWorkers, cfg.Workers)
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %s", keyShutdownTimeout, cfg.ShutdownTimeout)
	}

	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
