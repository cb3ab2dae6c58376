package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Attention.QueueCapacity != 1000 {
		t.Errorf("queue capacity default %d", cfg.Attention.QueueCapacity)
	}
	if cfg.Decision.DelegationThreshold != 0.7 || cfg.Decision.ReflectionThreshold != 0.3 {
		t.Errorf("threshold defaults: %+v", cfg.Decision)
	}
	if cfg.Context.ScratchTokens >= cfg.Context.BudgetTokens {
		t.Error("scratch reserve must be smaller than the budget")
	}
	if len(cfg.Scheduler.BaseIntervals) != 6 {
		t.Errorf("expected an interval per mode, got %d", len(cfg.Scheduler.BaseIntervals))
	}
	if cfg.State.StaleCheckpointN <= 0 || cfg.State.StaleCheckpointAge <= 0 {
		t.Errorf("both staleness bounds need defaults: %+v", cfg.State)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("VIGIL_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Attention.QueueCapacity != 1000 {
		t.Errorf("defaults not applied: %+v", cfg.Attention)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"attention": {"queueCapacity": 50, "debounceWindow": 5000000000},
		"reasoning": {"model": "from-file"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIGIL_CONFIG", path)
	t.Setenv("VIGIL_REASONING_MODEL", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Attention.QueueCapacity != 50 {
		t.Errorf("file value lost: %d", cfg.Attention.QueueCapacity)
	}
	if cfg.Attention.DebounceWindow != 5*time.Second {
		t.Errorf("duration not parsed: %v", cfg.Attention.DebounceWindow)
	}
	if cfg.Reasoning.Model != "from-env" {
		t.Errorf("env should override file, got %q", cfg.Reasoning.Model)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIGIL_CONFIG", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	t.Setenv("VIGIL_CONFIG", path)

	want := DefaultConfig()
	want.Reasoning.Model = "saved-model"
	if err := Save(want); err != nil {
		t.Fatal(err)
	}

	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Reasoning.Model != "saved-model" {
		t.Errorf("round trip lost model: %q", got.Reasoning.Model)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := ExpandHome("~/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x") {
		t.Errorf("got %q", got)
	}
	plain, _ := ExpandHome("/tmp/y")
	if plain != "/tmp/y" {
		t.Errorf("absolute path mangled: %q", plain)
	}
}
