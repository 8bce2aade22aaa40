// Package config provides YAML-based configuration loading for ridechat.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level ridechat configuration, loaded from ridechat.yaml.
type Config struct {
	LocalUserID int64           `yaml:"local_user_id"`
	API         APIConfig       `yaml:"api"`
	Realtime    RealtimeConfig  `yaml:"realtime"`
	Send        SendConfig      `yaml:"send"`
	Store       StoreConfig     `yaml:"store"`
	Retention   RetentionConfig `yaml:"retention"`
	Projector   ProjectorConfig `yaml:"projector"`
	Notify      NotifyConfig    `yaml:"notify"`
	Log         LogConfig       `yaml:"log"`
}

// APIConfig points at the booking REST backend.
type APIConfig struct {
	BaseURL      string `yaml:"base_url"`
	SessionToken string `yaml:"session_token"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

// RealtimeConfig holds websocket channel settings.
type RealtimeConfig struct {
	URL                  string `yaml:"url"`
	JoinTimeoutSec       int    `yaml:"join_timeout_sec"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ConfirmTimeoutSec    int    `yaml:"confirm_timeout_sec"`
}

// SendConfig controls outbound message acknowledgement.
type SendConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
}

// StoreConfig selects the local transcript database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	DSN    string `yaml:"dsn"`
}

// RetentionConfig schedules pruning of old transcripts.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	Days    int    `yaml:"days"`
}

// ProjectorConfig controls the local HTTP projector.
type ProjectorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// NotifyConfig controls desktop notifications for incoming peer messages.
type NotifyConfig struct {
	Command string `yaml:"command"` // e.g. notify-send "Booking {{.BookingID}}" "{{.Body}}"
}

// LogConfig selects the logger mode.
type LogConfig struct {
	Mode     string `yaml:"mode"` // "development" (default) or "production"
	File     string `yaml:"file"` // log to this file instead of stderr
	HashSalt string `yaml:"hash_salt"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 15
	}
	if c.Realtime.JoinTimeoutSec == 0 {
		c.Realtime.JoinTimeoutSec = 10
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = 10
	}
	if c.Realtime.ConfirmTimeoutSec == 0 {
		c.Realtime.ConfirmTimeoutSec = 10
	}
	if c.Send.TimeoutSec == 0 {
		c.Send.TimeoutSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "ridechat.db"
	}
	if c.Retention.Cron == "" {
		c.Retention.Cron = "0 3 * * *"
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
	if c.Projector.Port == 0 {
		c.Projector.Port = 8088
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.LocalUserID <= 0 {
		errs = append(errs, "local_user_id is required")
	}
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}
	if c.Realtime.URL == "" {
		errs = append(errs, "realtime.url is required")
	} else if u, err := url.Parse(c.Realtime.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Sprintf("realtime.url %q must be a ws(s) URL", c.Realtime.URL))
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		errs = append(errs, "realtime.max_reconnect_attempts must not be negative")
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}
	if c.Retention.Enabled {
		if _, err := cron.ParseStandard(c.Retention.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("retention.cron %q is invalid: %v", c.Retention.Cron, err))
		}
		if c.Retention.Days < 0 {
			errs = append(errs, "retention.days must not be negative")
		}
	}
	if c.Projector.Port < 0 || c.Projector.Port > 65535 {
		errs = append(errs, fmt.Sprintf("projector.port %d is out of range", c.Projector.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendTimeout returns the acknowledgement timeout for outbound messages.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Send.TimeoutSec) * time.Second
}

// JoinTimeout returns the acknowledgement timeout for the join handshake.
func (c *Config) JoinTimeout() time.Duration {
	return time.Duration(c.Realtime.JoinTimeoutSec) * time.Second
}

// ConfirmTimeout bounds each best-effort receipt confirmation.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Realtime.ConfirmTimeoutSec) * time.Second
}

// APITimeout bounds each REST request.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}
