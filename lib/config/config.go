// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/runwatch/lib/report"
)

// Environment variables consulted by [Load] and [Config.ApplyEnvironment].
const (
	// ConfigPathEnv names the configuration file.
	ConfigPathEnv = "RUNWATCH_CONFIG"

	TokenEnv      = "RUNWATCH_MATRIX_TOKEN"
	RoomEnv       = "RUNWATCH_MATRIX_ROOM"
	HomeserverEnv = "RUNWATCH_HOMESERVER"
)

// Config is the complete runwatch configuration.
type Config struct {
	// Matrix configures the chat transport.
	Matrix MatrixConfig `yaml:"matrix"`

	// Settings tunes the watcher.
	Settings Settings `yaml:"settings"`

	// WorkDir is the directory the command runs in and whose files
	// can be downloaded. Empty means the current directory.
	WorkDir string `yaml:"work_dir"`
}

// MatrixConfig identifies the homeserver account and room.
type MatrixConfig struct {
	// Homeserver is the client-server API base URL.
	Homeserver string `yaml:"homeserver"`

	// UserID is the account runwatch posts as. Optional: when empty it
	// is discovered with /account/whoami.
	UserID string `yaml:"user_id"`

	// AccessToken authenticates the account. TokenFile is read when
	// AccessToken is empty.
	AccessToken string `yaml:"access_token"`
	TokenFile   string `yaml:"token_file"`

	// Room is the room ID reports are posted to.
	Room string `yaml:"room"`

	// AllowedSenders restricts who may issue commands. Empty allows
	// every member of the room.
	AllowedSenders []string `yaml:"allowed_senders"`
}

// Settings tunes reporting and process handling.
type Settings struct {
	// UpdateInterval is the period between report edits.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// LogLines is the log ring capacity.
	LogLines int `yaml:"log_lines"`

	// ReportBudget caps the rendered report in bytes.
	ReportBudget int `yaml:"report_budget"`

	// StopTimeout is how long to wait for the child after SIGTERM
	// during shutdown.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// ExitOnCompletion stops runwatch as soon as the child exits.
	ExitOnCompletion bool `yaml:"exit_on_completion"`

	// FilesLimit is how many files the file listing shows.
	FilesLimit int `yaml:"files_limit"`

	// CompressThreshold is the file size above which downloads are
	// zstd-compressed. Negative disables compression.
	CompressThreshold int64 `yaml:"compress_threshold"`
}

// Default returns the default configuration. The Matrix section is
// empty and must come from the file, the environment, or flags.
func Default() *Config {
	return &Config{
		Settings: Settings{
			UpdateInterval:    5 * time.Second,
			LogLines:          50,
			ReportBudget:      report.DefaultBudget,
			StopTimeout:       10 * time.Second,
			FilesLimit:        5,
			CompressThreshold: 1 << 20,
		},
	}
}

// Load loads the file named by RUNWATCH_CONFIG, or only defaults and
// environment fallbacks when the variable is unset.
func Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from path. The format is chosen by
// extension: .json and .jsonc are JSON with comments, anything else is
// YAML. Values from the file win over environment fallbacks.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a YAML subset, so the yaml tags serve both formats.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) finish() error {
	c.ApplyEnvironment()
	c.expandVariables()
	return c.resolveToken()
}

// ApplyEnvironment fills Matrix fields the file left empty from
// RUNWATCH_MATRIX_TOKEN, RUNWATCH_MATRIX_ROOM and RUNWATCH_HOMESERVER.
func (c *Config) ApplyEnvironment() {
	fill := func(field *string, name string) {
		if *field == "" {
			*field = os.Getenv(name)
		}
	}
	if c.Matrix.TokenFile == "" {
		fill(&c.Matrix.AccessToken, TokenEnv)
	}
	fill(&c.Matrix.Room, RoomEnv)
	fill(&c.Matrix.Homeserver, HomeserverEnv)
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.WorkDir = expandVars(c.WorkDir, vars)
	c.Matrix.TokenFile = expandVars(c.Matrix.TokenFile, vars)
}

func (c *Config) resolveToken() error {
	if c.Matrix.AccessToken != "" || c.Matrix.TokenFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Matrix.TokenFile)
	if err != nil {
		return fmt.Errorf("config: reading matrix.token_file: %w", err)
	}
	c.Matrix.AccessToken = strings.TrimSpace(string(data))
	return nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.Homeserver == "" {
		errs = append(errs, fmt.Errorf("matrix.homeserver is required (or set %s)", HomeserverEnv))
	} else if !strings.HasPrefix(c.Matrix.Homeserver, "http://") && !strings.HasPrefix(c.Matrix.Homeserver, "https://") {
		errs = append(errs, fmt.Errorf("matrix.homeserver must be an http(s) URL, got %q", c.Matrix.Homeserver))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, fmt.Errorf("matrix.access_token or matrix.token_file is required (or set %s)", TokenEnv))
	}
	if c.Matrix.Room == "" {
		errs = append(errs, fmt.Errorf("matrix.room is required (or set %s)", RoomEnv))
	}

	if c.Settings.UpdateInterval < time.Second {
		errs = append(errs, fmt.Errorf("settings.update_interval must be at least 1s, got %s", c.Settings.UpdateInterval))
	}
	if c.Settings.LogLines < 1 {
		errs = append(errs, fmt.Errorf("settings.log_lines must be at least 1, got %d", c.Settings.LogLines))
	}
	if c.Settings.ReportBudget < report.MinBudget {
		errs = append(errs, fmt.Errorf("settings.report_budget must be at least %d, got %d", report.MinBudget, c.Settings.ReportBudget))
	}
	if c.Settings.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("settings.stop_timeout must not be negative, got %s", c.Settings.StopTimeout))
	}
	if c.Settings.FilesLimit < 1 {
		errs = append(errs, fmt.Errorf("settings.files_limit must be at least 1, got %d", c.Settings.FilesLimit))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SenderAllowed reports whether a Matrix user may issue commands.
func (c *MatrixConfig) SenderAllowed(userID string) bool {
	if len(c.AllowedSenders) == 0 {
		return true
	}
	for _, allowed := range c.AllowedSenders {
		if allowed == userID {
			return true
		}
	}
	return false
}
