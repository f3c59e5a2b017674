// Package config provides configuration management for the laddeld daemon.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including the auth directory,
// polling intervals, proxy configuration, and the local API listen address.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the corresponding YAML keys are absent.
const (
	DefaultAPIAddr          = "127.0.0.1:8321"
	DefaultIdleInterval     = 300
	DefaultChargingInterval = 60
	DefaultRequestTimeout   = 30
	DefaultHistoryPages     = 1
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// AuthDir is the directory where the token auth file is stored.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// APIAddr is the listen address of the local status/control HTTP API.
	// An empty string disables the API server.
	APIAddr string `yaml:"api-addr" json:"api-addr"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile routes log output to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir overrides the directory used for rotating log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// IdleIntervalSeconds is the coordinator poll interval while no charging
	// session is active.
	IdleIntervalSeconds int `yaml:"idle-interval-seconds" json:"idle-interval-seconds"`

	// ChargingIntervalSeconds is the coordinator poll interval while a
	// charging session is actively transferring energy.
	ChargingIntervalSeconds int `yaml:"charging-interval-seconds" json:"charging-interval-seconds"`

	// RequestTimeoutSeconds bounds every outbound HTTP request.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// HistoryPages is how many pages of session history each cycle fetches.
	HistoryPages int `yaml:"history-pages" json:"history-pages"`

	// Notification configures the optional push-notification token sync that
	// runs once at daemon startup.
	Notification NotificationConfig `yaml:"notification" json:"notification"`
}

// NotificationConfig holds the FCM token registration settings.
type NotificationConfig struct {
	// FCMToken is the Firebase Cloud Messaging token to register with the
	// Laddel backend. Empty disables the sync.
	FCMToken string `yaml:"fcm-token" json:"fcm-token"`

	// InstallationID identifies this installation to the backend. When empty
	// a random one is generated at startup.
	InstallationID string `yaml:"installation-id" json:"installation-id"`
}

// LoadConfig reads the YAML file at configFile and returns the parsed
// configuration with defaults applied. A missing file is not an error; the
// defaults are returned so the daemon can run with a bare auth file.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s failed: %w", configFile, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", configFile, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AuthDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.AuthDir = filepath.Join(home, ".laddel")
		} else {
			c.AuthDir = ".laddel"
		}
	}
	if c.APIAddr == "" {
		c.APIAddr = DefaultAPIAddr
	}
	if c.IdleIntervalSeconds <= 0 {
		c.IdleIntervalSeconds = DefaultIdleInterval
	}
	if c.ChargingIntervalSeconds <= 0 {
		c.ChargingIntervalSeconds = DefaultChargingInterval
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if c.HistoryPages <= 0 {
		c.HistoryPages = DefaultHistoryPages
	}
}

// IdleInterval returns the idle poll interval as a duration.
func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalSeconds) * time.Second
}

// ChargingInterval returns the active-charging poll interval as a duration.
func (c *Config) ChargingInterval() time.Duration {
	return time.Duration(c.ChargingIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
