// Package config loads the vcdiagramd configuration.
//
// Settings are layered: built-in defaults, then an optional TOML file, then
// environment variables. The model variables (AI_MODEL, CUSTOM_BASE_URL,
// CUSTOM_API_KEY and AI_MODELS) are the ones the browser app reads.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server       ServerConfig  `toml:"server"`
	Session      SessionConfig `toml:"session"`
	History      HistoryConfig `toml:"history"`
	Log          LogConfig     `toml:"log"`
	DefaultModel string        `toml:"default_model"`
	Models       []Model       `toml:"models"`
}

type ServerConfig struct {
	Addr                string `toml:"addr"`
	APIKey              string `toml:"api_key"` // bearer token required on /api when set
	LongPollSecs        int    `toml:"long_poll_secs"`
	QueueSize           int    `toml:"queue_size"` // surface events buffered per session
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`
}

type SessionConfig struct {
	ExportTimeoutSecs int `toml:"export_timeout_secs"`
}

type HistoryConfig struct {
	Path string `toml:"path"` // sqlite file; empty keeps history in memory only
}

type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Model is an OpenAI-compatible endpoint the browser app may talk to.
type Model struct {
	ID      string `toml:"id" json:"id"`
	Name    string `toml:"name" json:"name"`
	BaseURL string `toml:"base_url" json:"baseURL"`
	APIKey  string `toml:"api_key" json:"apiKey"`
}

// PublicModel is a Model without its credentials.
type PublicModel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseURL"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                "127.0.0.1:8787",
			LongPollSecs:        25,
			QueueSize:           64,
			ShutdownTimeoutSecs: 10,
		},
		Session: SessionConfig{ExportTimeoutSecs: 10},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys the file leaves out keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides applies environment variables on top of the file values.
// AI_MODELS replaces the model list; otherwise AI_MODEL, CUSTOM_BASE_URL and
// CUSTOM_API_KEY describe a single model.
func (c *Config) ApplyEnvOverrides() error {
	if addr := os.Getenv("VCDIAGRAM_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if key := os.Getenv("VCDIAGRAM_API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if secs := os.Getenv("VCDIAGRAM_EXPORT_TIMEOUT_SECS"); secs != "" {
		n, err := strconv.Atoi(secs)
		if err != nil {
			return fmt.Errorf("VCDIAGRAM_EXPORT_TIMEOUT_SECS: %w", err)
		}
		c.Session.ExportTimeoutSecs = n
	}
	if path, ok := os.LookupEnv("VCDIAGRAM_HISTORY_PATH"); ok {
		c.History.Path = path
	}
	if level := os.Getenv("VCDIAGRAM_LOG_LEVEL"); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if format := os.Getenv("VCDIAGRAM_LOG_FORMAT"); format != "" {
		c.Log.Format = strings.ToLower(format)
	}

	if raw := os.Getenv("AI_MODELS"); raw != "" {
		var models []Model
		if err := json.Unmarshal([]byte(raw), &models); err != nil {
			return fmt.Errorf(`AI_MODELS must be a JSON list like [{"id":"gpt-4","name":"GPT-4","baseURL":"http://localhost:1234/v1","apiKey":"sk-xxx"}]: %w`, err)
		}
		c.Models = models
	} else if id := os.Getenv("AI_MODEL"); id != "" {
		c.Models = []Model{{
			ID:      id,
			Name:    id,
			BaseURL: os.Getenv("CUSTOM_BASE_URL"),
			APIKey:  os.Getenv("CUSTOM_API_KEY"),
		}}
		c.DefaultModel = id
	}
	if c.DefaultModel == "" && len(c.Models) > 0 {
		c.DefaultModel = c.Models[0].ID
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "must not be empty"})
	}
	if c.Server.LongPollSecs < 1 || c.Server.LongPollSecs > 120 {
		errs = append(errs, ValidationError{Field: "server.long_poll_secs", Message: fmt.Sprintf("%d is outside 1..120", c.Server.LongPollSecs)})
	}
	if c.Server.QueueSize < 1 {
		errs = append(errs, ValidationError{Field: "server.queue_size", Message: "must be positive"})
	}
	if c.Server.ShutdownTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "server.shutdown_timeout_secs", Message: "must not be negative"})
	}
	if c.Session.ExportTimeoutSecs < 1 || c.Session.ExportTimeoutSecs > 300 {
		errs = append(errs, ValidationError{Field: "session.export_timeout_secs", Message: fmt.Sprintf("%d is outside 1..300", c.Session.ExportTimeoutSecs)})
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, ValidationError{Field: "log.format", Message: fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format)})
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" || m.Name == "" || m.BaseURL == "" || m.APIKey == "" {
			errs = append(errs, ValidationError{Field: field, Message: "every model needs id, name, baseURL and apiKey"})
		}
		if m.ID != "" && seen[m.ID] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate model id '%s'", m.ID)})
		}
		seen[m.ID] = true
	}
	if c.DefaultModel != "" && len(c.Models) > 0 && !seen[c.DefaultModel] {
		errs = append(errs, ValidationError{Field: "default_model", Message: fmt.Sprintf("'%s' is not a configured model", c.DefaultModel)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Warnings lists settings that are valid but likely to cause trouble. Model
// endpoints and keys end up inside generated XML, where &<>" break parsing.
func (c *Config) Warnings() []string {
	var warns []string
	for _, m := range c.Models {
		if strings.ContainsAny(m.BaseURL+m.APIKey, `&<>"`) {
			warns = append(warns, fmt.Sprintf("model %q: baseURL or apiKey contains one of &<>\" and may break XML parsing", m.ID))
		}
	}
	return warns
}

// PublicModels lists the configured models without API keys.
func (c *Config) PublicModels() []PublicModel {
	out := make([]PublicModel, len(c.Models))
	for i, m := range c.Models {
		out[i] = PublicModel{ID: m.ID, Name: m.Name, BaseURL: m.BaseURL}
	}
	return out
}

func (c *Config) ExportTimeout() time.Duration {
	return time.Duration(c.Session.ExportTimeoutSecs) * time.Second
}

func (c *Config) LongPoll() time.Duration {
	return time.Duration(c.Server.LongPollSecs) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}

// LogLevel returns the configured slog level, info if it does not parse.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return level, errors.New("must not be empty")
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid level '%s', must be one of: debug, info, warn, error", s)
	}
	return level, nil
}
