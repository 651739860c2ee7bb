// Package scheduler submits named pipelines on their configured schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/schedule"
	"github.com/mtzanidakis/webextract/internal/store"
)

// Schedule statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Store is the schedule persistence the scheduler needs. *store.Store
// satisfies it.
type Store interface {
	SaveSchedule(sc *store.Schedule) error
	GetSchedule(id string) (*store.Schedule, error)
	GetDueSchedules(now time.Time) ([]store.Schedule, error)
	UpdateScheduleRun(id, runID, lastStatus, lastError string, nextRunAt *time.Time) error
	UpdateScheduleStatus(id, status string) error
	DeleteSchedulesNotIn(ids []string) error
}

// Submitter starts runs. *runner.Runner satisfies it.
type Submitter interface {
	SubmitSpec(spec pipeline.Spec, d pipeline.Defaults) (string, error)
}

type Publisher interface {
	Publish(topic string, data []byte) error
}

type Scheduler struct {
	store    Store
	runner   Submitter
	catalog  *pipeline.Catalog
	defaults func() pipeline.Defaults
	pub      Publisher
	now      func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s Store, r Submitter, catalog *pipeline.Catalog, defaults func() pipeline.Defaults, pub Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       r,
		catalog:      catalog,
		defaults:     defaults,
		pub:          pub,
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig updates the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

// Sync makes the stored schedules match the configured ones. Next run times
// are kept for schedules whose expression did not change.
func (s *Scheduler) Sync(schedules map[string]config.ScheduleConfig) error {
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	slices.Sort(names)

	now := s.now()
	for _, name := range names {
		sc := schedules[name]
		canonical, err := schedule.Normalize(sc.Schedule)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}

		existing, err := s.store.GetSchedule(name)
		if err != nil {
			return err
		}

		rec := &store.Schedule{
			ID:       name,
			Name:     name,
			Pipeline: sc.Pipeline,
			Schedule: canonical,
			Status:   StatusActive,
		}
		if existing != nil && existing.Schedule == canonical {
			rec.NextRunAt = existing.NextRunAt
			if existing.Status == StatusCompleted {
				rec.Status = StatusCompleted
			}
		} else {
			rec.NextRunAt = schedule.NextRun(canonical, now)
		}
		if sc.Paused {
			rec.Status = StatusPaused
		}

		if err := s.store.SaveSchedule(rec); err != nil {
			return err
		}
	}

	if err := s.store.DeleteSchedulesNotIn(names); err != nil {
		return fmt.Errorf("prune schedules: %w", err)
	}
	slog.Info("schedules synced", "count", len(names))
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll fires every schedule that is due and returns how many fired.
func (s *Scheduler) Poll() int {
	now := s.now()
	due, err := s.store.GetDueSchedules(now)
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return 0
	}

	for _, sc := range due {
		s.fire(sc, now)
	}
	return len(due)
}

func (s *Scheduler) fire(sc store.Schedule, now time.Time) {
	slog.Info("firing schedule", "id", sc.ID, "pipeline", sc.Pipeline)

	var runID, lastStatus, lastError string
	spec, ok := s.catalog.Get(sc.Pipeline)
	if !ok {
		lastStatus, lastError = "error", fmt.Sprintf("unknown pipeline %q", sc.Pipeline)
	} else if id, err := s.runner.SubmitSpec(spec, s.defaults()); err != nil {
		lastStatus, lastError = "error", err.Error()
	} else {
		runID, lastStatus = id, "submitted"
	}
	if lastError != "" {
		slog.Error("scheduled run failed to start", "id", sc.ID, "error", lastError)
	}

	next := schedule.NextRun(sc.Schedule, now)
	if err := s.store.UpdateScheduleRun(sc.ID, runID, lastStatus, lastError, next); err != nil {
		slog.Error("failed to update schedule run", "id", sc.ID, "error", err)
	}

	s.publishFired(sc, runID, lastStatus)

	// One-shot schedules have no next run
	if next == nil {
		slog.Info("no next run, marking schedule as completed", "id", sc.ID)
		if err := s.store.UpdateScheduleStatus(sc.ID, StatusCompleted); err != nil {
			slog.Error("failed to complete schedule", "id", sc.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishFired(sc store.Schedule, runID, status string) {
	if s.pub == nil {
		return
	}

	event := map[string]any{
		"type":        "schedule_fired",
		"schedule_id": sc.ID,
		"timestamp":   s.now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"pipeline": sc.Pipeline,
			"run_id":   runID,
			"status":   status,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.pub.Publish(natsbus.TopicEventsSchedule(sc.ID), data); err != nil {
		slog.Warn("publish schedule event failed", "id", sc.ID, "error", err)
	}
}
