package runner

import "time"

// FinishedRun identifies a terminal run for eviction decisions.
type FinishedRun struct {
	ID      string
	EndedAt time.Time
}

// EvictionPolicy picks which terminal runs to forget. finished is ordered
// oldest first.
type EvictionPolicy interface {
	Evict(finished []FinishedRun, now time.Time) []string
}

type EvictionFunc func(finished []FinishedRun, now time.Time) []string

func (f EvictionFunc) Evict(finished []FinishedRun, now time.Time) []string {
	return f(finished, now)
}

// KeepAll never evicts.
var KeepAll EvictionPolicy = EvictionFunc(func([]FinishedRun, time.Time) []string { return nil })

// MaxFinished keeps at most n terminal runs, evicting the oldest first.
func MaxFinished(n int) EvictionPolicy {
	return EvictionFunc(func(finished []FinishedRun, _ time.Time) []string {
		if n < 0 || len(finished) <= n {
			return nil
		}
		over := finished[:len(finished)-n]
		ids := make([]string, len(over))
		for i, r := range over {
			ids[i] = r.ID
		}
		return ids
	})
}

// FinishedTTL evicts terminal runs that ended more than ttl ago.
func FinishedTTL(ttl time.Duration) EvictionPolicy {
	return EvictionFunc(func(finished []FinishedRun, now time.Time) []string {
		var ids []string
		for _, r := range finished {
			if now.Sub(r.EndedAt) > ttl {
				ids = append(ids, r.ID)
			}
		}
		return ids
	})
}

// Chain evicts the union of what every policy selects.
func Chain(policies ...EvictionPolicy) EvictionPolicy {
	return EvictionFunc(func(finished []FinishedRun, now time.Time) []string {
		seen := make(map[string]struct{})
		var ids []string
		for _, p := range policies {
			for _, id := range p.Evict(finished, now) {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return ids
	})
}
