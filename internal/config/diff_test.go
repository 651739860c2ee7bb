package config

import (
	"testing"
	"time"

	"github.com/mtzanidakis/webextract/internal/pipeline"
)

func extractSpec(url string) pipeline.Spec {
	return pipeline.Spec{Agents: []pipeline.StepSpec{{Type: "extract", URL: url}}}
}

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Pipelines: map[string]pipeline.Spec{"news": extractSpec("https://example.com")},
		Schedules: map[string]ScheduleConfig{"hourly": {Pipeline: "news", Schedule: "0 * * * *"}},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
}

func TestDiff_Pipelines(t *testing.T) {
	old := &Config{Pipelines: map[string]pipeline.Spec{
		"news":  extractSpec("https://example.com/news"),
		"blogs": extractSpec("https://example.com/blog"),
	}}
	new := &Config{Pipelines: map[string]pipeline.Spec{
		"news":  extractSpec("https://example.com/latest"),
		"shops": extractSpec("https://example.com/shop"),
	}}
	d := Diff(old, new)
	if len(d.PipelinesAdded) != 1 || d.PipelinesAdded[0] != "shops" {
		t.Errorf("expected shops added, got %v", d.PipelinesAdded)
	}
	if len(d.PipelinesRemoved) != 1 || d.PipelinesRemoved[0] != "blogs" {
		t.Errorf("expected blogs removed, got %v", d.PipelinesRemoved)
	}
	if len(d.PipelinesChanged) != 1 || d.PipelinesChanged[0] != "news" {
		t.Errorf("expected news changed, got %v", d.PipelinesChanged)
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}
}

func TestDiff_SchedulesAndScheduler(t *testing.T) {
	old := &Config{
		Schedules: map[string]ScheduleConfig{"hourly": {Pipeline: "news", Schedule: "0 * * * *"}},
		Scheduler: SchedulerConfig{PollInterval: 30 * time.Second},
	}
	new := &Config{
		Schedules: map[string]ScheduleConfig{"hourly": {Pipeline: "news", Schedule: "*/5 * * * *"}},
		Scheduler: SchedulerConfig{PollInterval: 10 * time.Second},
	}
	d := Diff(old, new)
	if !d.SchedulesChanged {
		t.Error("expected schedules changed")
	}
	if !d.SchedulerChanged || d.NewScheduler.PollInterval != 10*time.Second {
		t.Errorf("expected scheduler poll interval 10s, got %+v", d.NewScheduler)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Telegram: TelegramConfig{Token: "a"},
		Web:      WebConfig{Port: 8080},
		Vault:    VaultConfig{Passphrase: "one"},
		Runner:   RunnerConfig{MaxConcurrent: 4},
	}
	new := &Config{
		Telegram: TelegramConfig{Token: "b"},
		Web:      WebConfig{Port: 9090},
		Vault:    VaultConfig{Passphrase: "two"},
		Runner:   RunnerConfig{MaxConcurrent: 8},
	}
	d := Diff(old, new)
	if d.HasChanges() {
		t.Error("non-reloadable fields must not count as changes")
	}
	want := map[string]bool{"telegram.token": true, "web.port": true, "vault.passphrase": true, "runner": true}
	if len(d.NonReloadable) != len(want) {
		t.Fatalf("expected %d non-reloadable fields, got %v", len(want), d.NonReloadable)
	}
	for _, f := range d.NonReloadable {
		if !want[f] {
			t.Errorf("unexpected non-reloadable field %s", f)
		}
	}
}

func TestDiff_TelegramNotify(t *testing.T) {
	old := &Config{Telegram: TelegramConfig{ChatID: 1, NotifyOn: []string{"failed"}}}
	new := &Config{Telegram: TelegramConfig{ChatID: 1, NotifyOn: []string{"failed", "completed"}}}
	d := Diff(old, new)
	if !d.TelegramNotifyChanged || !d.HasChanges() {
		t.Error("expected telegram notify change")
	}
}
