package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("KESTREL_TEST_KEY", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	content := `
listen:
  port: 9090
anthropic:
  api_key: ${KESTREL_TEST_KEY}
models:
  default: qwen3:8b
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen.Port != 9090 {
		t.Errorf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("Anthropic.APIKey = %q, want env-expanded value", cfg.Anthropic.APIKey)
	}
}

func TestLoadKeepsDefaultsForOmittedSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.MaxSteps != 8 {
		t.Errorf("Loop.MaxSteps = %d, want default 8", cfg.Loop.MaxSteps)
	}
	if cfg.Retrieval.DefaultLimit != 10 {
		t.Errorf("Retrieval.DefaultLimit = %d, want default 10", cfg.Retrieval.DefaultLimit)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("FindConfig() with missing explicit path should error")
	}
}

func TestDurationHelpers(t *testing.T) {
	var tc ToolsConfig
	if got := tc.ToolTimeout(); got != 30*time.Second {
		t.Errorf("zero ToolTimeout() = %v, want 30s", got)
	}
	tc.TimeoutSec = 5
	if got := tc.ToolTimeout(); got != 5*time.Second {
		t.Errorf("ToolTimeout() = %v, want 5s", got)
	}

	var cc CacheConfig
	if got := cc.TTL(); got != 5*time.Minute {
		t.Errorf("zero TTL() = %v, want 5m", got)
	}
	if got := cc.SweepInterval(); got != time.Minute {
		t.Errorf("zero SweepInterval() = %v, want 1m", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
