package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Runner.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", cfg.Runner.MaxConcurrent)
	}
	if cfg.Runner.Policy != "fail-fast" {
		t.Errorf("expected fail-fast policy, got %s", cfg.Runner.Policy)
	}
	if cfg.Runner.StepTimeout != 2*time.Minute {
		t.Errorf("expected step_timeout 2m, got %v", cfg.Runner.StepTimeout)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/webextract.db" {
		t.Errorf("expected store path data/webextract.db, got %s", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	// Point config to a non-existent file so we use defaults
	t.Setenv("WEBEXTRACT_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("WEBEXTRACT_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("WEBEXTRACT_TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("WEBEXTRACT_WEB_PORT", "9090")
	t.Setenv("WEBEXTRACT_MAX_CONCURRENT", "12")
	t.Setenv("WEBEXTRACT_VAULT_PASSPHRASE", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Telegram.ChatID != -1001 {
		t.Errorf("expected chat id -1001, got %d", cfg.Telegram.ChatID)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Runner.MaxConcurrent != 12 {
		t.Errorf("expected max_concurrent 12, got %d", cfg.Runner.MaxConcurrent)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("expected vault passphrase from env, got %s", cfg.Vault.Passphrase)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(".env", []byte("WEBEXTRACT_STORE_PATH=/tmp/from-dotenv.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEBEXTRACT_CONFIG", filepath.Join(dir, "missing.yaml"))
	// Registered so the variable set by godotenv is restored afterwards.
	t.Setenv("WEBEXTRACT_STORE_PATH", "")
	os.Unsetenv("WEBEXTRACT_STORE_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Path != "/tmp/from-dotenv.db" {
		t.Errorf("expected store path from .env, got %s", cfg.Store.Path)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "webextract.yaml")

	yaml := `
runner:
  max_concurrent: 8
  policy: continue-on-error
  step_timeout: 45s
web:
  port: 3000
  enabled: false
telegram:
  token: yaml-token
  chat_id: 42
pipelines:
  news:
    agents:
      - type: extract
        url: https://example.com/news
        headers:
          Authorization: Bearer ${NEWS_TOKEN}
      - type: organize
        format: csv
schedules:
  hourly-news:
    pipeline: news
    schedule: "0 * * * *"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WEBEXTRACT_CONFIG", cfgPath)
	t.Setenv("WEBEXTRACT_TELEGRAM_TOKEN", "")
	t.Setenv("NEWS_TOKEN", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "yaml-token" || cfg.Telegram.ChatID != 42 {
		t.Errorf("unexpected telegram config: %+v", cfg.Telegram)
	}
	if cfg.Runner.MaxConcurrent != 8 || cfg.Runner.StepTimeout != 45*time.Second {
		t.Errorf("unexpected runner config: %+v", cfg.Runner)
	}
	if cfg.Runner.SweepInterval != time.Minute {
		t.Errorf("expected default sweep interval kept, got %v", cfg.Runner.SweepInterval)
	}
	if cfg.Web.Port != 3000 || cfg.Web.Enabled {
		t.Errorf("unexpected web config: %+v", cfg.Web)
	}
	news := cfg.Pipelines["news"]
	if len(news.Agents) != 2 || news.Agents[0].Headers["Authorization"] != "Bearer abc" {
		t.Errorf("expected env expanded into pipeline headers, got %+v", news.Agents)
	}
	if cfg.Schedules["hourly-news"].Pipeline != "news" {
		t.Errorf("unexpected schedules: %+v", cfg.Schedules)
	}

	d := cfg.PipelineDefaults()
	if d.Policy != orchestrator.ContinueOnError || d.Timeout != 45*time.Second {
		t.Errorf("unexpected pipeline defaults: %+v", d)
	}
	if d.Fetch.Retry.MaxRetries != 2 || d.Fetch.Client == nil {
		t.Errorf("expected fetch defaults, got %+v", d.Fetch)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"bad policy", func(c *Config) { c.Runner.Policy = "yolo" }, "runner.policy"},
		{"bad cancel mode", func(c *Config) { c.Runner.CancelMode = "kill" }, "runner.cancel_mode"},
		{"zero max finished", func(c *Config) { c.Runner.MaxFinished = 0 }, "runner.max_finished"},
		{"empty pipeline", func(c *Config) { c.Pipelines = map[string]pipeline.Spec{"x": {}} }, "pipelines.x"},
		{"unknown schedule pipeline", func(c *Config) {
			c.Schedules = map[string]ScheduleConfig{"s": {Pipeline: "missing", Schedule: "@hourly"}}
		}, "schedules.s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.edit(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("expected error for %s, got %v", tt.want, err)
			}
		})
	}

	cfg := defaults()
	cfg.Runner.MaxFinished = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected -1 max_finished to be valid, got %v", err)
	}

	cfg = defaults()
	cfg.Pipelines = map[string]pipeline.Spec{"x": {}}
	if err := cfg.Validate(); !errors.Is(err, orchestrator.ErrPipelineEmpty) {
		t.Errorf("expected ErrPipelineEmpty, got %v", err)
	}
}

func TestHelpers(t *testing.T) {
	tg := TelegramConfig{NotifyOn: []string{"failed"}}
	if !tg.Notify("failed") || tg.Notify("completed") {
		t.Error("unexpected notify result")
	}
	if got := (LogConfig{Level: "debug"}).SlogLevel(); got != slog.LevelDebug {
		t.Errorf("expected debug, got %v", got)
	}
	if got := (LogConfig{Level: "loud"}).SlogLevel(); got != slog.LevelInfo {
		t.Errorf("expected info fallback, got %v", got)
	}
}
