package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	PipelinesAdded   []string
	PipelinesRemoved []string
	PipelinesChanged []string

	SchedulesChanged bool

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	TelegramNotifyChanged bool

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return len(d.PipelinesAdded) > 0 ||
		len(d.PipelinesRemoved) > 0 ||
		len(d.PipelinesChanged) > 0 ||
		d.SchedulesChanged ||
		d.SchedulerChanged ||
		d.TelegramNotifyChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	for name := range new.Pipelines {
		if _, ok := old.Pipelines[name]; !ok {
			d.PipelinesAdded = append(d.PipelinesAdded, name)
		}
	}
	for name := range old.Pipelines {
		if _, ok := new.Pipelines[name]; !ok {
			d.PipelinesRemoved = append(d.PipelinesRemoved, name)
		}
	}
	for name, newSpec := range new.Pipelines {
		if oldSpec, ok := old.Pipelines[name]; ok && !reflect.DeepEqual(oldSpec, newSpec) {
			d.PipelinesChanged = append(d.PipelinesChanged, name)
		}
	}
	slices.Sort(d.PipelinesAdded)
	slices.Sort(d.PipelinesRemoved)
	slices.Sort(d.PipelinesChanged)

	if !reflect.DeepEqual(old.Schedules, new.Schedules) {
		d.SchedulesChanged = true
	}

	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}

	if old.Telegram.ChatID != new.Telegram.ChatID || !slices.Equal(old.Telegram.NotifyOn, new.Telegram.NotifyOn) {
		d.TelegramNotifyChanged = true
	}

	// Non-reloadable warnings
	if old.Telegram.Token != new.Telegram.Token {
		d.NonReloadable = append(d.NonReloadable, "telegram.token")
	}
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port || old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}
	if !reflect.DeepEqual(old.Runner, new.Runner) {
		d.NonReloadable = append(d.NonReloadable, "runner")
	}
	if !reflect.DeepEqual(old.Agent, new.Agent) {
		d.NonReloadable = append(d.NonReloadable, "agent")
	}

	return d
}
