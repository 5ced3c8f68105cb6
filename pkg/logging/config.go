// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "QUATSTREAM_LOG_LEVEL"
	EnvLogTimestamp = "QUATSTREAM_LOG_TIMESTAMP"
	EnvLogNoColor   = "QUATSTREAM_LOG_NOCOLOR"
	EnvLogJSON      = "QUATSTREAM_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
}

var (
	configureOnce sync.Once
	configured    zerolog.Logger
)

// Configure installs the logger for profile as log.Logger. Only the first
// call has an effect; later calls return the logger already installed.
func Configure(profile Profile, out io.Writer) zerolog.Logger {
	configureOnce.Do(func() {
		configured = FromEnv(profile, out)
		log.Logger = configured
	})
	return configured
}

// FromEnv builds a logger for profile with env overrides applied, without
// touching the global logger. Writes to out are serialised.
func FromEnv(profile Profile, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	cfg := DefaultConfig(profile)
	ApplyEnv(&cfg, os.Getenv)
	return New(cfg, zerolog.SyncWriter(out)).With().Str("app", "quatstream").Logger()
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// New builds a logger writing to out. A nil out means stderr.
func New(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		cw := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
		if !cfg.Timestamp {
			cw.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = cw
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// ApplyEnv overrides cfg from the QUATSTREAM_LOG_* variables. Unparseable
// values are ignored.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if lvl, ok := parseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(getenv(EnvLogJSON)); ok {
		cfg.JSON = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
