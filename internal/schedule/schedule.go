// Package schedule parses the schedule strings used by recurring pipelines
// and computes their next fire time.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule kinds.
const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

// Schedule is the canonical form stored alongside a schedule. It serializes
// to JSON.
type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

// Parse accepts a canonical JSON schedule, "every <duration>",
// "at <RFC3339 time>" or a cron expression (including @hourly style macros).
func Parse(raw string) (*Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty schedule")
	}

	var s Schedule
	switch {
	case strings.HasPrefix(raw, "{"):
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("parse schedule: %w", err)
		}
	case strings.HasPrefix(raw, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(raw, "every ")))
		if err != nil {
			return nil, fmt.Errorf("parse interval: %w", err)
		}
		s = Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
	case strings.HasPrefix(raw, "at "):
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(raw, "at ")))
		if err != nil {
			return nil, fmt.Errorf("parse time: %w", err)
		}
		s = Schedule{Kind: KindOnce, AtMs: t.UnixMilli()}
	default:
		s = Schedule{Kind: KindCron, CronExpr: raw}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return errors.New("interval must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return errors.New("at time must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// String returns the canonical JSON form.
func (s *Schedule) String() string {
	data, _ := json.Marshal(s)
	return string(data)
}

// Next returns the first fire time strictly after ref. A one-shot schedule
// whose time has passed has no next run.
func (s *Schedule) Next(ref time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindCron:
		next, err := gronx.NextTickAfter(s.CronExpr, ref, false)
		if err != nil {
			return time.Time{}, false
		}
		return next, true
	case KindInterval:
		return ref.Add(time.Duration(s.IntervalMs) * time.Millisecond), true
	case KindOnce:
		at := time.UnixMilli(s.AtMs)
		if at.After(ref) {
			return at, true
		}
	}
	return time.Time{}, false
}

// Describe returns a short human-readable form.
func (s *Schedule) Describe() string {
	switch s.Kind {
	case KindCron:
		return s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			if h := int(d.Hours()); h > 1 {
				return fmt.Sprintf("Every %d hours", h)
			}
			return "Every hour"
		case d >= time.Minute && d%time.Minute == 0:
			if m := int(d.Minutes()); m > 1 {
				return fmt.Sprintf("Every %d minutes", m)
			}
			return "Every minute"
		default:
			return "Every " + d.String()
		}
	case KindOnce:
		return "Once at " + time.UnixMilli(s.AtMs).UTC().Format("Jan 2 15:04 MST")
	}
	return s.Kind
}

// Normalize parses raw and returns its canonical JSON form.
func Normalize(raw string) (string, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

// NextRun parses a stored schedule and returns its next fire time after ref,
// or nil when it will not fire again.
func NextRun(raw string, ref time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	next, ok := s.Next(ref)
	if !ok {
		return nil
	}
	return &next
}
