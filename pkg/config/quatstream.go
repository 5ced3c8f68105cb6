package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const DefaultConfigPath = "quatstream.toml"

const (
	SourceMock   = "mock"
	SourceSerial = "serial"
	SourceStatic = "static"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Stream     StreamConfig    `toml:"stream"`
	Scheduler  SchedulerConfig `toml:"scheduler"`
	Source     SourceConfig    `toml:"source"`
	Listen     ListenConfig    `toml:"listen"`
	Foxglove   FoxgloveConfig  `toml:"foxglove"`
	Metrics    MetricsConfig   `toml:"metrics"`
	configPath string          `toml:"-"`
}

type StreamConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"`
	DialTimeout            string `toml:"dial_timeout"`
	WriteTimeout           string `toml:"write_timeout"`
	DisconnectOnWriteError *bool  `toml:"disconnect_on_write_error,omitempty"`
	Ordered                bool   `toml:"ordered"`
}

type SchedulerConfig struct {
	TickInterval string `toml:"tick_interval"`
}

type SourceConfig struct {
	Kind       string  `toml:"kind"`
	SerialPort string  `toml:"serial_port,omitempty"`
	BaudRate   int     `toml:"baud_rate"`
	RateHz     float64 `toml:"rate_hz"`
}

type ListenConfig struct {
	Addr        string `toml:"addr"`
	ReadTimeout string `toml:"read_timeout"`
	Buf         int    `toml:"buf"`
	Log         string `toml:"log,omitempty"`
}

type FoxgloveConfig struct {
	Enabled     bool   `toml:"enabled"`
	WSAddr      string `toml:"ws_addr"`
	Topic       string `toml:"topic"`
	ParentFrame string `toml:"parent_frame"`
	FrameID     string `toml:"frame_id"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

func Default() Config {
	dropOnError := true
	return Config{
		Stream: StreamConfig{
			Host:                   "127.0.0.1",
			Port:                   3002,
			DialTimeout:            "5s",
			WriteTimeout:           "2s",
			DisconnectOnWriteError: &dropOnError,
		},
		Scheduler: SchedulerConfig{
			TickInterval: "16ms",
		},
		Source: SourceConfig{
			Kind:     SourceMock,
			BaudRate: 115200,
			RateHz:   60,
		},
		Listen: ListenConfig{
			Addr:        "0.0.0.0:3002",
			ReadTimeout: "0s",
			Buf:         256,
		},
		Foxglove: FoxgloveConfig{
			WSAddr:      "127.0.0.1:8765",
			Topic:       "quatstream/reading",
			ParentFrame: "world",
			FrameID:     "imu",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to Default when the file does not
// exist. The boolean reports whether the file was found.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize()
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.configPath = path
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.configPath = path
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	if cfg.Stream.Port < 1 || cfg.Stream.Port > 65535 {
		return fmt.Errorf("%w: stream.port out of range: %d", ErrInvalid, cfg.Stream.Port)
	}
	switch cfg.Source.Kind {
	case SourceMock, SourceStatic:
	case SourceSerial:
		if cfg.Source.SerialPort == "" {
			return fmt.Errorf("%w: source.serial_port is required for serial sources", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown source.kind %q", ErrInvalid, cfg.Source.Kind)
	}
	if cfg.Source.RateHz < 0 {
		return fmt.Errorf("%w: source.rate_hz must not be negative", ErrInvalid)
	}

	durations := []struct {
		name  string
		value string
	}{
		{"stream.dial_timeout", cfg.Stream.DialTimeout},
		{"stream.write_timeout", cfg.Stream.WriteTimeout},
		{"scheduler.tick_interval", cfg.Scheduler.TickInterval},
		{"listen.read_timeout", cfg.Listen.ReadTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalid, d.name)
		}
	}
	return nil
}

func (cfg *Config) normalize() {
	def := Default()

	cfg.Stream.Host = strings.TrimSpace(cfg.Stream.Host)
	if cfg.Stream.Host == "" {
		cfg.Stream.Host = def.Stream.Host
	}
	if cfg.Stream.Port == 0 {
		cfg.Stream.Port = def.Stream.Port
	}
	if cfg.Stream.DialTimeout == "" {
		cfg.Stream.DialTimeout = def.Stream.DialTimeout
	}
	if cfg.Stream.WriteTimeout == "" {
		cfg.Stream.WriteTimeout = def.Stream.WriteTimeout
	}
	if cfg.Stream.DisconnectOnWriteError == nil {
		cfg.Stream.DisconnectOnWriteError = def.Stream.DisconnectOnWriteError
	}

	if cfg.Scheduler.TickInterval == "" {
		cfg.Scheduler.TickInterval = "0s"
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = def.Source.Kind
	}
	if cfg.Source.BaudRate <= 0 {
		cfg.Source.BaudRate = def.Source.BaudRate
	}
	if cfg.Source.RateHz == 0 {
		cfg.Source.RateHz = def.Source.RateHz
	}

	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = def.Listen.Addr
	}
	if cfg.Listen.ReadTimeout == "" {
		cfg.Listen.ReadTimeout = def.Listen.ReadTimeout
	}
	if cfg.Listen.Buf <= 0 {
		cfg.Listen.Buf = def.Listen.Buf
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.Topic == "" {
		cfg.Foxglove.Topic = def.Foxglove.Topic
	}
	if cfg.Foxglove.ParentFrame == "" {
		cfg.Foxglove.ParentFrame = def.Foxglove.ParentFrame
	}
	if cfg.Foxglove.FrameID == "" {
		cfg.Foxglove.FrameID = def.Foxglove.FrameID
	}

	if cfg.configPath == "" {
		cfg.configPath = DefaultConfigPath
	}
}

// The duration accessors assume Validate has passed and return zero otherwise.

func (s StreamConfig) DialTimeoutDuration() time.Duration {
	return mustDuration(s.DialTimeout)
}

func (s StreamConfig) WriteTimeoutDuration() time.Duration {
	return mustDuration(s.WriteTimeout)
}

func (s StreamConfig) DropOnWriteError() bool {
	return s.DisconnectOnWriteError == nil || *s.DisconnectOnWriteError
}

func (s SchedulerConfig) Interval() time.Duration {
	return mustDuration(s.TickInterval)
}

func (l ListenConfig) ReadTimeoutDuration() time.Duration {
	return mustDuration(l.ReadTimeout)
}

func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
