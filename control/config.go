// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Server configuration: YAML schema, defaults and validation.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-wsengine/api"
)

// Config is the complete server configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	Path     string `yaml:"path"`
	LogLevel string `yaml:"log_level"`

	Limits      LimitsConfig      `yaml:"limits"`
	Compression CompressionConfig `yaml:"compression"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	TCP         TCPConfig         `yaml:"tcp"`
	Capture     CaptureConfig     `yaml:"capture"`
	Announce    AnnounceConfig    `yaml:"announce"`
}

// LimitsConfig bounds memory per connection.
type LimitsConfig struct {
	MaxFramePayload    int64 `yaml:"max_frame_payload"`
	MaxMessageSize     int64 `yaml:"max_message_size"`
	ReadBufferSize     int   `yaml:"read_buffer_size"`
	FragmentSize       int   `yaml:"fragment_size"`
	WriteHighWatermark int   `yaml:"write_high_watermark"`
}

// CompressionConfig controls permessage-deflate.
type CompressionConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
	Level     int  `yaml:"level"`
}

// LivenessConfig is the ping policy. A zero interval disables pings.
type LivenessConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
}

// TimeoutsConfig holds I/O deadlines.
type TimeoutsConfig struct {
	Handshake time.Duration `yaml:"handshake"`
	Write     time.Duration `yaml:"write"`
	Shutdown  time.Duration `yaml:"shutdown"`
}

// TCPConfig tunes accepted sockets.
type TCPConfig struct {
	NoDelay    bool `yaml:"no_delay"`
	ReusePort  bool `yaml:"reuse_port"`
	SendBuffer int  `yaml:"send_buffer"`
	RecvBuffer int  `yaml:"recv_buffer"`
}

// CaptureConfig enables the SQLite frame recorder.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AnnounceConfig enables mDNS/DNS-SD announcement.
type AnnounceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		Path:     "/ws",
		LogLevel: "info",
		Limits: LimitsConfig{
			MaxFramePayload:    1 << 20,
			MaxMessageSize:     16 << 20,
			ReadBufferSize:     4096,
			WriteHighWatermark: 1 << 20,
		},
		Compression: CompressionConfig{
			Threshold: 512,
			Level:     1,
		},
		Liveness: LivenessConfig{
			PingInterval: 30 * time.Second,
			PongTimeout:  10 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Handshake: 10 * time.Second,
			Write:     10 * time.Second,
			Shutdown:  5 * time.Second,
		},
		TCP: TCPConfig{NoDelay: true},
		Capture: CaptureConfig{
			Path: "frames.db",
		},
		Announce: AnnounceConfig{
			Instance: "hioload-wsd",
			Service:  "_hioload-ws._tcp",
			Domain:   "local.",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes on top of DefaultConfig and validates the
// result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, api.WrapError(api.ErrCodeInvalidArgument, field+": "+fmt.Sprintf(format, args...), api.ErrInvalidArgument))
	}

	if c.Listen == "" {
		bad("listen", "must not be empty")
	}
	if c.Path == "" || c.Path[0] != '/' {
		bad("path", "must start with '/', got %q", c.Path)
	}
	if c.Limits.MaxFramePayload < 0 {
		bad("limits.max_frame_payload", "must not be negative")
	}
	if c.Limits.MaxMessageSize < 0 {
		bad("limits.max_message_size", "must not be negative")
	}
	if c.Limits.MaxMessageSize > 0 && c.Limits.MaxFramePayload > c.Limits.MaxMessageSize {
		bad("limits.max_frame_payload", "exceeds max_message_size")
	}
	if c.Limits.ReadBufferSize < 256 {
		bad("limits.read_buffer_size", "must be at least 256, got %d", c.Limits.ReadBufferSize)
	}
	if c.Limits.FragmentSize < 0 {
		bad("limits.fragment_size", "must not be negative")
	}
	if c.Limits.WriteHighWatermark <= 0 {
		bad("limits.write_high_watermark", "must be positive")
	}
	if c.Compression.Level < -2 || c.Compression.Level > 9 {
		bad("compression.level", "must be within -2..9, got %d", c.Compression.Level)
	}
	if c.Liveness.PingInterval < 0 || c.Liveness.PongTimeout < 0 {
		bad("liveness", "durations must not be negative")
	}
	if c.Liveness.PingInterval > 0 && c.Liveness.PongTimeout == 0 {
		bad("liveness.pong_timeout", "required when ping_interval is set")
	}
	if c.Capture.Enabled && c.Capture.Path == "" {
		bad("capture.path", "required when capture is enabled")
	}
	if c.Announce.Enabled && c.Announce.Service == "" {
		bad("announce.service", "required when announce is enabled")
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
