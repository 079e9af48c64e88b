package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.PacingInterval != defaultPacingInterval {
		t.Fatalf("pacing_interval = %s, want %s", cfg.PacingInterval, defaultPacingInterval)
	}
	if cfg.PacingMaxInterval != defaultPacingInterval {
		t.Fatalf("pacing_max_interval = %s, want %s", cfg.PacingMaxInterval, defaultPacingInterval)
	}
	if cfg.PacingMultiplier != defaultPacingMultiplier {
		t.Fatalf("pacing_multiplier = %v, want %v", cfg.PacingMultiplier, defaultPacingMultiplier)
	}
	if cfg.PacingJitter != 0 {
		t.Fatalf("pacing_jitter = %v, want 0", cfg.PacingJitter)
	}
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Fatalf("request_timeout = %s, want %s", cfg.RequestTimeout, defaultRequestTimeout)
	}
	if cfg.UnknownPhaseLimit != defaultUnknownPhaseLimit {
		t.Fatalf("unknown_phase_limit = %d, want %d", cfg.UnknownPhaseLimit, defaultUnknownPhaseLimit)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("log_level = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.UniformExitCode {
		t.Fatal("uniform_exit_code = true, want false")
	}
	if cfg.Player.Account != defaultAccount {
		t.Fatalf("player.account = %q, want %q", cfg.Player.Account, defaultAccount)
	}
}

func TestLoadOverlayProjectOverHome(t *testing.T) {
	home, work := isolate(t)

	writeFile(t, filepath.Join(home, dirName, "config.toml"), `
pacing_interval = "1s"
pacing_max_interval = "8s"
unknown_phase_limit = 9
log_level = "DEBUG"

[player]
first_name = "Ada"
last_name = "Lovelace"
account = "alovelace"
	`)

	writeFile(t, filepath.Join(work, dirName, "config.toml"), `
pacing_multiplier = 2.0
pacing_jitter = 0.1
request_timeout = "3s"
uniform_exit_code = true
half_map_seed = 42

[player]
account = "project-account"
	`)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.PacingInterval != time.Second {
		t.Fatalf("pacing_interval = %s, want 1s", cfg.PacingInterval)
	}
	if cfg.PacingMaxInterval != 8*time.Second {
		t.Fatalf("pacing_max_interval = %s, want 8s", cfg.PacingMaxInterval)
	}
	if cfg.PacingMultiplier != 2.0 {
		t.Fatalf("pacing_multiplier = %v, want 2", cfg.PacingMultiplier)
	}
	if cfg.PacingJitter != 0.1 {
		t.Fatalf("pacing_jitter = %v, want 0.1", cfg.PacingJitter)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("request_timeout = %s, want 3s", cfg.RequestTimeout)
	}
	if cfg.UnknownPhaseLimit != 9 {
		t.Fatalf("unknown_phase_limit = %d, want 9", cfg.UnknownPhaseLimit)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
	if !cfg.UniformExitCode {
		t.Fatal("uniform_exit_code = false, want true")
	}
	if cfg.HalfMapSeed != 42 {
		t.Fatalf("half_map_seed = %d, want 42", cfg.HalfMapSeed)
	}
	if cfg.Player.FirstName != "Ada" || cfg.Player.LastName != "Lovelace" {
		t.Fatalf("player name = %q %q, want Ada Lovelace", cfg.Player.FirstName, cfg.Player.LastName)
	}
	if cfg.Player.Account != "project-account" {
		t.Fatalf("player.account = %q, want project-account", cfg.Player.Account)
	}
}

func TestLoadEnvironmentOverridesFiles(t *testing.T) {
	_, work := isolate(t)

	writeFile(t, filepath.Join(work, dirName, "config.toml"), `
pacing_interval = "2s"
unknown_phase_limit = 3
	`)
	t.Setenv("GAMECLIENT_PACING_INTERVAL", "250ms")
	t.Setenv("GAMECLIENT_PLAYER_ACCOUNT", "env-account")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.PacingInterval != 250*time.Millisecond {
		t.Fatalf("pacing_interval = %s, want 250ms", cfg.PacingInterval)
	}
	if cfg.UnknownPhaseLimit != 3 {
		t.Fatalf("unknown_phase_limit = %d, want 3", cfg.UnknownPhaseLimit)
	}
	if cfg.Player.Account != "env-account" {
		t.Fatalf("player.account = %q, want env-account", cfg.Player.Account)
	}
}

func TestLoadDotEnvDoesNotOverrideProcessEnvironment(t *testing.T) {
	_, work := isolate(t)

	writeFile(t, filepath.Join(work, ".env"), strings.Join([]string{
		"GAMECLIENT_OTEL_ENDPOINT=http://collector:4318",
		"GAMECLIENT_LOG_LEVEL=error",
	}, "\n"))
	t.Setenv("GAMECLIENT_LOG_LEVEL", "warn")
	// Registered so the value loaded from .env is removed after the test.
	t.Setenv("GAMECLIENT_OTEL_ENDPOINT", "")
	if err := os.Unsetenv("GAMECLIENT_OTEL_ENDPOINT"); err != nil {
		t.Fatalf("unset endpoint: %v", err)
	}

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.OTELEndpoint != "http://collector:4318" {
		t.Fatalf("otel_endpoint = %q, want value from .env", cfg.OTELEndpoint)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log_level = %q, want process value warn", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "bad duration", content: `pacing_interval = "soon"`, want: "pacing_interval"},
		{name: "zero interval", content: `pacing_interval = "0s"`, want: "pacing_interval"},
		{name: "shrinking multiplier", content: `pacing_multiplier = 0.5`, want: "pacing_multiplier"},
		{name: "full jitter", content: `pacing_jitter = 1.0`, want: "pacing_jitter"},
		{name: "negative seed", content: `half_map_seed = -1`, want: "half_map_seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, work := isolate(t)
			writeFile(t, filepath.Join(work, dirName, "config.toml"), tt.content)

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadStopsWhenContextDone(t *testing.T) {
	isolate(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg, err := Load(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if cfg != nil {
		t.Fatalf("config = %+v, want nil", cfg)
	}
}

func TestValidateRaisesMaxIntervalToInterval(t *testing.T) {
	cfg := defaults()
	cfg.PacingInterval = time.Second
	cfg.PacingMaxInterval = 10 * time.Millisecond

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.PacingMaxInterval != time.Second {
		t.Fatalf("pacing_max_interval = %s, want 1s", cfg.PacingMaxInterval)
	}
}

func isolate(t *testing.T) (string, string) {
	t.Helper()

	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		if chdirErr := os.Chdir(cwd); chdirErr != nil {
			t.Fatalf("restore cwd: %v", chdirErr)
		}
	})
	if err := os.Chdir(work); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return home, work
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
