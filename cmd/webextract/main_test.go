package main

import (
	"testing"
	"time"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/runner"
)

func TestEvictionPolicy(t *testing.T) {
	now := time.Now()
	finished := []runner.FinishedRun{
		{ID: "a", EndedAt: now.Add(-2 * time.Hour)},
		{ID: "b", EndedAt: now.Add(-time.Minute)},
		{ID: "c", EndedAt: now},
	}

	got := evictionPolicy(config.RunnerConfig{MaxFinished: 2, FinishedTTL: time.Hour}).Evict(finished, now)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("expected [a], got %v", got)
	}

	got = evictionPolicy(config.RunnerConfig{MaxFinished: -1}).Evict(finished, now)
	if len(got) != 0 {
		t.Errorf("expected nothing evicted, got %v", got)
	}
}

func TestConfigHolder(t *testing.T) {
	first := &config.Config{}
	h := newConfigHolder(first)
	if h.get() != first {
		t.Fatal("expected initial config")
	}
	next := &config.Config{}
	h.set(next)
	if h.get() != next {
		t.Error("expected swapped config")
	}
}
