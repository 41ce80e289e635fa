// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/runwatch/lib/report"
)

// clearEnvironment unsets every variable Load consults so tests do not
// inherit the developer's shell.
func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{ConfigPathEnv, TokenEnv, RoomEnv, HomeserverEnv} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Settings.UpdateInterval != 5*time.Second {
		t.Errorf("expected update_interval=5s, got %s", cfg.Settings.UpdateInterval)
	}
	if cfg.Settings.LogLines != 50 {
		t.Errorf("expected log_lines=50, got %d", cfg.Settings.LogLines)
	}
	if cfg.Settings.ReportBudget != report.DefaultBudget {
		t.Errorf("expected report_budget=%d, got %d", report.DefaultBudget, cfg.Settings.ReportBudget)
	}
	if cfg.Settings.StopTimeout != 10*time.Second {
		t.Errorf("expected stop_timeout=10s, got %s", cfg.Settings.StopTimeout)
	}
	if cfg.Settings.ExitOnCompletion {
		t.Error("expected exit_on_completion=false")
	}
	if cfg.Settings.FilesLimit != 5 || cfg.Settings.CompressThreshold != 1<<20 {
		t.Errorf("unexpected file settings: %+v", cfg.Settings)
	}
}

func TestLoadFileYAML(t *testing.T) {
	clearEnvironment(t)
	t.Setenv("RUNWATCH_TEST_DATA", "/data/experiments")
	path := writeConfig(t, "runwatch.yaml", `
matrix:
  homeserver: https://matrix.example.org
  user_id: "@runwatch:example.org"
  access_token: syt_secret
  room: "!abc:example.org"
  allowed_senders: ["@me:example.org"]
settings:
  update_interval: 15s
  log_lines: 80
  report_budget: 8000
  stop_timeout: 3s
  exit_on_completion: true
work_dir: ${RUNWATCH_TEST_DATA}/run1
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Matrix.Homeserver != "https://matrix.example.org" || cfg.Matrix.Room != "!abc:example.org" {
		t.Errorf("unexpected matrix section: %+v", cfg.Matrix)
	}
	if cfg.Matrix.AccessToken != "syt_secret" {
		t.Errorf("access_token = %q", cfg.Matrix.AccessToken)
	}
	if cfg.Settings.UpdateInterval != 15*time.Second || cfg.Settings.StopTimeout != 3*time.Second {
		t.Errorf("durations not parsed: %+v", cfg.Settings)
	}
	if cfg.Settings.LogLines != 80 || cfg.Settings.ReportBudget != 8000 || !cfg.Settings.ExitOnCompletion {
		t.Errorf("settings not parsed: %+v", cfg.Settings)
	}
	// Unset fields keep their defaults.
	if cfg.Settings.FilesLimit != 5 {
		t.Errorf("files_limit = %d, want default 5", cfg.Settings.FilesLimit)
	}
	if cfg.WorkDir != "/data/experiments/run1" {
		t.Errorf("work_dir = %q, want expanded path", cfg.WorkDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "runwatch.jsonc", `{
  // Comments and trailing commas are accepted.
  "matrix": {
    "homeserver": "https://hs.example",
    "access_token": "tok",
    "room": "!room:hs.example",
  },
  "settings": {"update_interval": "2s", "log_lines": 10},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Matrix.Homeserver != "https://hs.example" || cfg.Matrix.AccessToken != "tok" {
		t.Errorf("unexpected matrix section: %+v", cfg.Matrix)
	}
	if cfg.Settings.UpdateInterval != 2*time.Second || cfg.Settings.LogLines != 10 {
		t.Errorf("unexpected settings: %+v", cfg.Settings)
	}
}

func TestLoadFileTokenFile(t *testing.T) {
	clearEnvironment(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.WriteFile(filepath.Join(home, "token"), []byte("syt_from_file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(TokenEnv, "syt_from_env")
	path := writeConfig(t, "runwatch.yml", `
matrix:
  token_file: ${HOME}/token
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Matrix.AccessToken != "syt_from_file" {
		t.Errorf("access_token = %q, want token file contents", cfg.Matrix.AccessToken)
	}
}

func TestLoadFileMissingTokenFile(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "runwatch.yaml", "matrix:\n  token_file: /nonexistent/token\n")
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "token_file") {
		t.Fatalf("LoadFile() = %v, want token_file error", err)
	}
}

func TestEnvironmentFallback(t *testing.T) {
	clearEnvironment(t)
	t.Setenv(TokenEnv, "env-token")
	t.Setenv(RoomEnv, "!env:example.org")
	t.Setenv(HomeserverEnv, "https://env.example.org")

	path := writeConfig(t, "runwatch.yaml", "matrix:\n  room: \"!file:example.org\"\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if cfg.Matrix.Room != "!file:example.org" {
		t.Errorf("room = %q, file must win over environment", cfg.Matrix.Room)
	}
	if cfg.Matrix.AccessToken != "env-token" || cfg.Matrix.Homeserver != "https://env.example.org" {
		t.Errorf("environment fallback not applied: %+v", cfg.Matrix)
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	clearEnvironment(t)
	t.Setenv(TokenEnv, "env-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Matrix.AccessToken != "env-token" {
		t.Errorf("access_token = %q", cfg.Matrix.AccessToken)
	}
	if cfg.Settings.LogLines != 50 {
		t.Errorf("defaults not applied: %+v", cfg.Settings)
	}
}

func TestLoadFromConfigEnv(t *testing.T) {
	clearEnvironment(t)
	path := writeConfig(t, "runwatch.yaml", "settings:\n  log_lines: 7\n")
	t.Setenv(ConfigPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Settings.LogLines != 7 {
		t.Errorf("log_lines = %d, want 7", cfg.Settings.LogLines)
	}
}

func TestLoadFileErrors(t *testing.T) {
	clearEnvironment(t)
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := writeConfig(t, "bad.yaml", "settings: [unterminated\n")
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
	badDuration := writeConfig(t, "duration.yaml", "settings:\n  update_interval: soon\n")
	if _, err := LoadFile(badDuration); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.Matrix = MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		AccessToken: "token",
		Room:        "!room:example.org",
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing credentials",
			mutate:  func(c *Config) { c.Matrix = MatrixConfig{} },
			wantErr: []string{"matrix.homeserver", "matrix.access_token", "matrix.room"},
		},
		{
			name:    "homeserver without scheme",
			mutate:  func(c *Config) { c.Matrix.Homeserver = "matrix.example.org" },
			wantErr: []string{"http(s) URL"},
		},
		{
			name:    "interval too short",
			mutate:  func(c *Config) { c.Settings.UpdateInterval = 500 * time.Millisecond },
			wantErr: []string{"update_interval"},
		},
		{
			name:    "no log lines",
			mutate:  func(c *Config) { c.Settings.LogLines = 0 },
			wantErr: []string{"log_lines"},
		},
		{
			name:    "budget too small",
			mutate:  func(c *Config) { c.Settings.ReportBudget = report.MinBudget - 1 },
			wantErr: []string{"report_budget"},
		},
		{
			name:    "negative stop timeout",
			mutate:  func(c *Config) { c.Settings.StopTimeout = -time.Second },
			wantErr: []string{"stop_timeout"},
		},
		{
			name:    "zero files limit",
			mutate:  func(c *Config) { c.Settings.FilesLimit = 0 },
			wantErr: []string{"files_limit"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			if len(test.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range test.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestSenderAllowed(t *testing.T) {
	open := MatrixConfig{}
	if !open.SenderAllowed("@anyone:example.org") {
		t.Error("empty allow list should admit everyone")
	}
	restricted := MatrixConfig{AllowedSenders: []string{"@me:example.org"}}
	if !restricted.SenderAllowed("@me:example.org") {
		t.Error("listed sender rejected")
	}
	if restricted.SenderAllowed("@stranger:example.org") {
		t.Error("unlisted sender admitted")
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("RUNWATCH_TEST_SET", "value")
	t.Setenv("RUNWATCH_TEST_EMPTY", "")
	vars := map[string]string{"HOME": "/home/test"}
	tests := []struct {
		input string
		want  string
	}{
		{"${HOME}/runs", "/home/test/runs"},
		{"${RUNWATCH_TEST_SET}", "value"},
		{"${RUNWATCH_TEST_EMPTY:-fallback}", "fallback"},
		{"plain/path", "plain/path"},
		{"${RUNWATCH_TEST_EMPTY}", ""},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}
