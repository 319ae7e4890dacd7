package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

// PathEnv names the environment variable holding the optional YAML file path
const PathEnv = "CUETIMER_CONFIG"

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Timer struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		RoomTTL           time.Duration `yaml:"room_ttl"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
		DefaultDurationMs int64         `yaml:"default_duration_ms"`
	} `yaml:"timer"`

	Events struct {
		NATSURL       string `yaml:"nats_url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`

	Audit struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"audit"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in configuration
func Default() Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.AllowedOrigins = []string{"*"}
	c.Timer.HeartbeatInterval = 250 * time.Millisecond
	c.Timer.RoomTTL = 6 * time.Hour
	c.Timer.SweepInterval = 10 * time.Minute
	c.Timer.DefaultDurationMs = countdown.DefaultDurationMs
	c.Events.StreamName = "TIMER_EVENTS"
	c.Events.SubjectPrefix = "timer.events"
	c.Log.Level = "info"
	return c
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HEARTBEAT_INTERVAL", &c.Timer.HeartbeatInterval},
		{"ROOM_TTL", &c.Timer.RoomTTL},
		{"SWEEP_INTERVAL", &c.Timer.SweepInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if v := os.Getenv("DEFAULT_DURATION_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid DEFAULT_DURATION_MS: %w", err)
		}
		c.Timer.DefaultDurationMs = n
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUDIT_ENABLED: %w", err)
		}
		c.Audit.Enabled = b
	}
	return nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Timer.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.Timer.RoomTTL <= 0 {
		errs = append(errs, errors.New("room ttl must be positive"))
	}
	if c.Timer.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}
	if _, err := countdown.ValidateDuration(float64(c.Timer.DefaultDurationMs)); err != nil {
		errs = append(errs, fmt.Errorf("default duration: %w", err))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// LogLevel returns the configured zerolog level
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
