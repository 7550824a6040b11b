package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Addr              string `toml:"addr"`
	DBPath            string `toml:"db_path"`
	Store             string `toml:"store"`
	LogLevel          string `toml:"log_level"`
	LogFormat         string `toml:"log_format"`
	AuditEnabled      bool   `toml:"audit_enabled"`
	DefaultReopenDays int    `toml:"default_reopen_days"`
	EventBuffer       int    `toml:"event_buffer"`
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		DBPath:            "./taskcore.db",
		Store:             StoreSQLite,
		LogLevel:          "info",
		LogFormat:         "json",
		AuditEnabled:      true,
		DefaultReopenDays: 30,
		EventBuffer:       100,
	}
}

// Load layers defaults, the optional TOML file at path, an optional .env
// file and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"TASKCORE_ADDR":       &c.Addr,
		"TASKCORE_DB_PATH":    &c.DBPath,
		"TASKCORE_STORE":      &c.Store,
		"TASKCORE_LOG_LEVEL":  &c.LogLevel,
		"TASKCORE_LOG_FORMAT": &c.LogFormat,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("AUDIT_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUDIT_ENABLED: %w", err)
		}
		c.AuditEnabled = b
	}
	if v, ok := lookup("TASKCORE_REOPEN_DAYS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASKCORE_REOPEN_DAYS: %w", err)
		}
		c.DefaultReopenDays = n
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("db_path is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want sqlite or memory)", c.Store)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unknown log format %q (want json or text)", c.LogFormat)
	}
	if c.DefaultReopenDays < 1 {
		return fmt.Errorf("default_reopen_days must be at least 1, got %d", c.DefaultReopenDays)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func NewLogger(c Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
