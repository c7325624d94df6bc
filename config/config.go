/*
Package config assembles server configuration from defaults, a config
file, REGEN_* environment variables and command-line flags.

PRECEDENCE (lowest to highest):
  1. Default()
  2. Config file (.toml via go-toml, anything else as YAML)
  3. Environment variables (REGEN_*)
  4. Flags the user actually set

  Flags are bound straight onto the Config, so steps 2 and 3 skip every
  field whose flag name appears in the changed set.

FILE FORMAT (YAML shown, TOML uses the same keys):
  server:
    host: 0.0.0.0
    port: 8080
    allowed_origins: ["http://localhost:5173"]
    shutdown_timeout: 30s
  db:
    path: regen.db
  log:
    level: info
    format: console
  checkpoint:
    interval: 30s

ENVIRONMENT:
  REGEN_HOST, REGEN_PORT, REGEN_DB, REGEN_LOG_LEVEL, REGEN_LOG_FORMAT,
  REGEN_CHECKPOINT_INTERVAL, REGEN_ALLOWED_ORIGINS (comma separated),
  REGEN_SHUTDOWN_TIMEOUT
*/
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Flag names shared by the command line and the precedence checks.
const (
	FlagHost               = "host"
	FlagPort               = "port"
	FlagDB                 = "db"
	FlagLogLevel           = "log-level"
	FlagLogFormat          = "log-format"
	FlagCheckpointInterval = "checkpoint-interval"
	FlagAllowedOrigins     = "allowed-origins"
	FlagShutdownTimeout    = "shutdown-timeout"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds everything cmd/server needs to start.
type Config struct {
	Host               string
	Port               int
	DBPath             string
	LogLevel           string
	LogFormat          string
	CheckpointInterval time.Duration
	AllowedOrigins     []string
	ShutdownTimeout    time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		DBPath:             "regen.db",
		LogLevel:           "info",
		LogFormat:          "console",
		CheckpointInterval: 30 * time.Second,
		AllowedOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		ShutdownTimeout:    30 * time.Second,
	}
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db path is required", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log format %q (want console or json)", ErrInvalidConfig, c.LogFormat)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("%w: checkpoint interval must not be negative", ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Load applies the config file at path (skipped when path is empty) and then
// the environment onto cfg, leaving fields whose flags were changed alone.
func Load(cfg *Config, path string, changed map[string]bool) error {
	if path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return err
		}
		if err := ApplyFile(cfg, fc, changed); err != nil {
			return err
		}
	}
	return ApplyEnv(cfg, changed)
}

// =============================================================================
// FILE
// =============================================================================

// FileConfig mirrors Config with string durations so both YAML and TOML stay
// human friendly.
type FileConfig struct {
	Server struct {
		Host            string   `yaml:"host" toml:"host"`
		Port            int      `yaml:"port" toml:"port"`
		AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins"`
		ShutdownTimeout string   `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	} `yaml:"server" toml:"server"`
	DB struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"db" toml:"db"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
	Checkpoint struct {
		Interval string `yaml:"interval" toml:"interval"`
	} `yaml:"checkpoint" toml:"checkpoint"`
}

// LoadFile reads a config file, choosing the decoder by extension.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &fc)
	} else {
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// ApplyFile copies every non-empty file value whose flag was not changed.
func ApplyFile(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString(FlagHost, fc.Server.Host, &cfg.Host)
	s.setInt(FlagPort, fc.Server.Port, &cfg.Port)
	s.setStrings(FlagAllowedOrigins, fc.Server.AllowedOrigins, &cfg.AllowedOrigins)
	s.setString(FlagDB, fc.DB.Path, &cfg.DBPath)
	s.setString(FlagLogLevel, fc.Log.Level, &cfg.LogLevel)
	s.setString(FlagLogFormat, fc.Log.Format, &cfg.LogFormat)

	if err := s.setDuration(FlagCheckpointInterval, fc.Checkpoint.Interval, &cfg.CheckpointInterval); err != nil {
		return err
	}
	return s.setDuration(FlagShutdownTimeout, fc.Server.ShutdownTimeout, &cfg.ShutdownTimeout)
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnv applies REGEN_* variables whose flag was not changed.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString(FlagHost, os.Getenv("REGEN_HOST"), &cfg.Host)
	s.setString(FlagDB, os.Getenv("REGEN_DB"), &cfg.DBPath)
	s.setString(FlagLogLevel, os.Getenv("REGEN_LOG_LEVEL"), &cfg.LogLevel)
	s.setString(FlagLogFormat, os.Getenv("REGEN_LOG_FORMAT"), &cfg.LogFormat)

	if origins := os.Getenv("REGEN_ALLOWED_ORIGINS"); origins != "" {
		s.setStrings(FlagAllowedOrigins, splitList(origins), &cfg.AllowedOrigins)
	}
	if err := s.setIntFromString(FlagPort, os.Getenv("REGEN_PORT"), &cfg.Port); err != nil {
		return err
	}
	if err := s.setDuration(FlagCheckpointInterval, os.Getenv("REGEN_CHECKPOINT_INTERVAL"), &cfg.CheckpointInterval); err != nil {
		return err
	}
	return s.setDuration(FlagShutdownTimeout, os.Getenv("REGEN_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// SETTER - skips fields owned by a changed flag
// =============================================================================

type setter struct {
	changed map[string]bool
}

func newSetter(changed map[string]bool) *setter {
	return &setter{changed: changed}
}

func (s *setter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *setter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *setter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
