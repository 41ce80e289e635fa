// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/runwatch/lib/config"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantCommand []string
		wantErr     bool
	}{
		{
			name:    "no arguments",
			args:    nil,
			wantErr: true,
		},
		{
			name:    "only separator",
			args:    []string{"--"},
			wantErr: true,
		},
		{
			name:        "command without separator",
			args:        []string{"python", "train.py", "--epochs", "3"},
			wantCommand: []string{"python", "train.py", "--epochs", "3"},
		},
		{
			name:        "flags then command",
			args:        []string{"--interval", "2s", "make", "-j8"},
			wantCommand: []string{"make", "-j8"},
		},
		{
			name:        "command starting with dash",
			args:        []string{"--", "--version"},
			wantCommand: []string{"--version"},
		},
		{
			name: "test mode needs no command",
			args: []string{"--test"},
		},
		{
			name: "version needs no command",
			args: []string{"--version"},
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus", "true"},
			wantErr: true,
		},
		{
			name:    "zero lines",
			args:    []string{"--lines", "0", "true"},
			wantErr: true,
		},
		{
			name:    "empty workdir",
			args:    []string{"--workdir=", "true"},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts, err := parseArgs(test.args)
			if test.wantErr {
				if err == nil {
					t.Fatalf("parseArgs(%q) succeeded", test.args)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs(%q): %v", test.args, err)
			}
			if !slices.Equal(opts.command, test.wantCommand) {
				t.Errorf("command = %q, want %q", opts.command, test.wantCommand)
			}
		})
	}
}

func TestParseArgsHelp(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h", "make"}} {
		if _, err := parseArgs(args); !errors.Is(err, pflag.ErrHelp) {
			t.Errorf("parseArgs(%q) error = %v, want ErrHelp", args, err)
		}
	}
}

func TestApplyFlagsOverridesOnlyGivenFlags(t *testing.T) {
	opts, err := parseArgs([]string{"--room", "!cli:example.org", "--interval", "2s", "--exit-on-completion", "true"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	cfg := config.Default()
	cfg.Matrix.Homeserver = "https://file.example.org"
	cfg.Matrix.Room = "!file:example.org"
	cfg.Settings.LogLines = 80

	applyFlags(cfg, opts)

	if cfg.Matrix.Room != "!cli:example.org" {
		t.Errorf("room = %q, want the flag value", cfg.Matrix.Room)
	}
	if cfg.Settings.UpdateInterval != 2*time.Second {
		t.Errorf("interval = %v, want 2s", cfg.Settings.UpdateInterval)
	}
	if !cfg.Settings.ExitOnCompletion {
		t.Error("exit-on-completion not applied")
	}
	if cfg.Matrix.Homeserver != "https://file.example.org" {
		t.Errorf("homeserver = %q, want the file value", cfg.Matrix.Homeserver)
	}
	if cfg.Settings.LogLines != 80 {
		t.Errorf("log lines = %d, want the file value", cfg.Settings.LogLines)
	}
}

func clearEnvironment(t *testing.T) {
	t.Helper()
	for _, name := range []string{config.ConfigPathEnv, config.TokenEnv, config.RoomEnv, config.HomeserverEnv} {
		t.Setenv(name, "")
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	clearEnvironment(t)
	t.Setenv(config.HomeserverEnv, "https://env.example.org")
	t.Setenv(config.RoomEnv, "!env:example.org")

	path := filepath.Join(t.TempDir(), "runwatch.yaml")
	content := `
matrix:
  access_token: file-token
  room: "!file:example.org"
settings:
  log_lines: 80
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	opts, err := parseArgs([]string{"--config", path, "--lines", "20", "true"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Matrix.Homeserver != "https://env.example.org" {
		t.Errorf("homeserver = %q, want the environment value", cfg.Matrix.Homeserver)
	}
	if cfg.Matrix.Room != "!file:example.org" {
		t.Errorf("room = %q, want the file value over the environment", cfg.Matrix.Room)
	}
	if cfg.Settings.LogLines != 20 {
		t.Errorf("log lines = %d, want the flag value", cfg.Settings.LogLines)
	}
	if cfg.Settings.UpdateInterval != 5*time.Second {
		t.Errorf("interval = %v, want the default", cfg.Settings.UpdateInterval)
	}
}

func TestLoadConfigReportsEveryProblem(t *testing.T) {
	clearEnvironment(t)
	opts, err := parseArgs([]string{"--interval", "100ms", "true"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	_, err = loadConfig(opts)
	if err == nil {
		t.Fatal("loadConfig succeeded without a homeserver")
	}
	for _, want := range []string{"matrix.homeserver", "matrix.room", "update_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "INFO"} {
		if _, err := newLogger(level); err != nil {
			t.Errorf("newLogger(%q): %v", level, err)
		}
	}
	if _, err := newLogger("chatty"); err == nil {
		t.Error("newLogger accepted an invalid level")
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	var err error = &exitError{code: 143}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 143 {
		t.Errorf("exitError does not carry its code: %v", err)
	}
}
