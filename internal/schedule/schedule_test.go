package schedule

import (
	"strings"
	"testing"
	"time"
)

var ref = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Schedule
	}{
		{"0 9 * * *", Schedule{Kind: KindCron, CronExpr: "0 9 * * *"}},
		{"  @hourly ", Schedule{Kind: KindCron, CronExpr: "@hourly"}},
		{"every 15m", Schedule{Kind: KindInterval, IntervalMs: 900000}},
		{"at 2026-03-10T12:00:00Z", Schedule{Kind: KindOnce, AtMs: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli()}},
		{`{"kind":"interval","interval_ms":60000}`, Schedule{Kind: KindInterval, IntervalMs: 60000}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if *got != tt.want {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{
		"",
		"not a cron",
		"every soon",
		"every -5m",
		"at tomorrow",
		`{"kind":"weekly"}`,
		`{"kind":"cron","cron_expr":"bad"}`,
		`{"kind":`,
	} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestNext(t *testing.T) {
	cron, _ := Parse("0 9 * * *")
	next, ok := cron.Next(ref)
	if !ok || !next.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("cron next = %v, %v", next, ok)
	}

	every, _ := Parse("every 1m")
	if next, ok := every.Next(ref); !ok || next.Sub(ref) != time.Minute {
		t.Errorf("interval next = %v, %v", next, ok)
	}

	once, _ := Parse("at 2026-03-10T12:00:00Z")
	if _, ok := once.Next(ref); !ok {
		t.Error("expected one-shot schedule to fire in the future")
	}
	if _, ok := once.Next(ref.Add(24 * time.Hour)); ok {
		t.Error("expected no next run for a past one-shot schedule")
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	canonical, err := Normalize("*/5 * * * *")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if canonical != `{"kind":"cron","cron_expr":"*/5 * * * *"}` {
		t.Errorf("unexpected canonical form %s", canonical)
	}
	again, err := Normalize(canonical)
	if err != nil || again != canonical {
		t.Errorf("expected canonical form to be stable, got %s (%v)", again, err)
	}

	if NextRun(canonical, ref) == nil {
		t.Error("expected next run")
	}
	if NextRun("garbage", ref) != nil {
		t.Error("expected nil next run for an invalid schedule")
	}
}

func TestDescribe(t *testing.T) {
	tests := map[string]string{
		"every 1h":                "Every hour",
		"every 2h":                "Every 2 hours",
		"every 1m":                "Every minute",
		"every 30m":               "Every 30 minutes",
		"every 45s":               "Every 45s",
		"@daily":                  "@daily",
		"at 2026-03-10T12:00:00Z": "Once at Mar 10 12:00 UTC",
	}
	for raw, want := range tests {
		s, err := Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got := s.Describe(); !strings.EqualFold(got, want) {
			t.Errorf("Describe(%q) = %q, want %q", raw, got, want)
		}
	}
}
