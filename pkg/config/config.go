// Package config loads the application configuration from a YAML file and
// constructs the shared logger.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	// Address is the instrument's BLE address. Required for monitoring.
	Address string `yaml:"address"`

	// DiskSeries pins the reagent disk series ("203", "204", "303") or
	// "auto" for detection from the observed parameter ids.
	DiskSeries string `yaml:"disk_series" default:"auto"`

	LogLevel string `yaml:"log_level" default:"info"`

	// Delays are plain seconds so the YAML stays trivial.
	ConnectTimeoutSeconds  int `yaml:"connect_timeout_seconds" default:"10"`
	DisconnectDelaySeconds int `yaml:"disconnect_delay_seconds" default:"10"`
	ReconnectDelaySeconds  int `yaml:"reconnect_delay_seconds" default:"300"`

	// MetricsListen enables the Prometheus endpoint when set, e.g.
	// ":9184". Empty disables metrics.
	MetricsListen string `yaml:"metrics_listen"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional Home Assistant bridge. An empty
// Broker disables the bridge.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id" default:"spintouch"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix" default:"spintouch"`
	DiscoveryPrefix string `yaml:"discovery_prefix" default:"homeassistant"`
	DeviceName      string `yaml:"device_name" default:"SpinTouch"`
}

// Default returns the configuration with all defaults applied and no file
// loaded.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML config file. Defaults are applied first, so the file
// only needs the keys it overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ConnectTimeout returns the dial timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DisconnectDelay returns the post-read linger as a duration.
func (c *Config) DisconnectDelay() time.Duration {
	return time.Duration(c.DisconnectDelaySeconds) * time.Second
}

// ReconnectDelay returns the cooldown window as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySeconds) * time.Second
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
