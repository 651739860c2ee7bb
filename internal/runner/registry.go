package runner

import (
	"sync"
	"time"

	"github.com/mtzanidakis/webextract/internal/orchestrator"
)

// entry is one live run. Its mutex serializes the runner's own updates of the
// run (persisting, finishing); the orchestrator guards its internal state.
type entry struct {
	orch     *orchestrator.Orchestrator
	owner    *orchestrator.Sealed
	pipeline []byte

	mu       sync.Mutex
	finished bool
}

// registry maps run ids to live entries. Its lock only guards the map.
type registry struct {
	entries map[string]*entry
	mu      sync.RWMutex
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) Set(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

func (r *registry) Get(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *registry) All() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// finishedIndex tracks terminal runs, oldest first, for eviction. It also
// covers runs recovered from the store that never entered the registry.
type finishedIndex struct {
	runs []FinishedRun
	ids  map[string]struct{}
	mu   sync.Mutex
}

func newFinishedIndex() *finishedIndex {
	return &finishedIndex{ids: make(map[string]struct{})}
}

func (f *finishedIndex) Add(id string, endedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[id]; ok {
		return
	}
	f.ids[id] = struct{}{}
	// Keep the slice sorted by end time; recovered runs may arrive out of order.
	i := len(f.runs)
	for i > 0 && f.runs[i-1].EndedAt.After(endedAt) {
		i--
	}
	f.runs = append(f.runs, FinishedRun{})
	copy(f.runs[i+1:], f.runs[i:])
	f.runs[i] = FinishedRun{ID: id, EndedAt: endedAt}
}

func (f *finishedIndex) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ids[id]
	return ok
}

func (f *finishedIndex) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ids[id]; !ok {
		return
	}
	delete(f.ids, id)
	for i, r := range f.runs {
		if r.ID == id {
			f.runs = append(f.runs[:i], f.runs[i+1:]...)
			break
		}
	}
}

func (f *finishedIndex) List() []FinishedRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FinishedRun, len(f.runs))
	copy(out, f.runs)
	return out
}

func (f *finishedIndex) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}
