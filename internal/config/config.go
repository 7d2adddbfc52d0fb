package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultSerialBaud = 115200
	DefaultHTTPHost   = "127.0.0.1"
	DefaultHTTPPort   = 8865
	DefaultTarget     = "/dev/ttyUSB0"

	MinSerialBaud = 9600
	MaxSerialBaud = 921600
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig holds the persisted transport target. Target keeps the
// user-supplied grammar form; it is parsed on load and on every update.
type ConnectionConfig struct {
	Target     string `json:"target"`
	SerialBaud int    `json:"serial_baud"`
}

// HTTPConfig holds the JSON API listen address.
type HTTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// AppConfig is the root persisted gateway configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Target:     DefaultTarget,
			SerialBaud: DefaultSerialBaud,
		},
		HTTP: HTTPConfig{
			Host: DefaultHTTPHost,
			Port: DefaultHTTPPort,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved at startup and points to the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if strings.TrimSpace(c.Connection.Target) == "" {
		c.Connection.Target = DefaultTarget
	}
	c.Connection.SerialBaud = ClampBaud(c.Connection.SerialBaud)
	if strings.TrimSpace(c.HTTP.Host) == "" {
		c.HTTP.Host = DefaultHTTPHost
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ClampBaud bounds a baud rate to the supported range, substituting the
// default for non-positive values.
func ClampBaud(baud int) int {
	if baud <= 0 {
		return DefaultSerialBaud
	}
	if baud < MinSerialBaud {
		return MinSerialBaud
	}
	if baud > MaxSerialBaud {
		return MaxSerialBaud
	}

	return baud
}

func (c AppConfig) Validate() error {
	if _, err := ParseTarget(c.Connection.Target, c.Connection.SerialBaud); err != nil {
		return fmt.Errorf("connection target: %w", err)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
