// Package runner accepts orchestrators for asynchronous execution, tracks
// their runs and evicts finished ones.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/store"
)

var (
	ErrNotFound        = errors.New("run not found")
	ErrClosed          = errors.New("runner is closed")
	ErrAlreadyFinished = errors.New("run already finished")
)

// Store persists run state. *store.Store satisfies it.
type Store interface {
	SaveRun(r *store.Run) error
	GetRun(id string) (*store.Run, error)
	ListRuns(statuses ...string) ([]store.Run, error)
	DeleteRun(id string) error
}

// Publisher emits run events. *natsbus.Client satisfies it.
type Publisher interface {
	Publish(topic string, data []byte) error
}

type Runner struct {
	store    Store
	pub      Publisher
	eviction EvictionPolicy
	workers  int

	registry *registry
	finished *finishedIndex
	queue    *runQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	evictMu sync.Mutex

	listenersMu sync.RWMutex
	onFinish    []func(orchestrator.Snapshot)
}

type Option func(*Runner)

func WithStore(s Store) Option {
	return func(r *Runner) { r.store = s }
}

func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.pub = p }
}

func WithEviction(p EvictionPolicy) Option {
	return func(r *Runner) {
		if p != nil {
			r.eviction = p
		}
	}
}

// WithWorkers bounds how many runs execute at the same time.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// New creates a runner and starts its workers.
func New(opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		eviction: KeepAll,
		workers:  4,
		registry: newRegistry(),
		finished: newFinishedIndex(),
		queue:    newRunQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(r.workers)
	for range r.workers {
		go r.work()
	}
	return r
}

type submitOptions struct {
	pipeline []byte
}

type SubmitOption func(*submitOptions)

// WithPipeline records the descriptor the orchestrator was built from, so the
// run can be inspected and retried later.
func WithPipeline(data []byte) SubmitOption {
	return func(o *submitOptions) { o.pipeline = data }
}

// OnFinish registers a listener called after every run reaches a terminal
// status and has been persisted.
func (r *Runner) OnFinish(fn func(orchestrator.Snapshot)) {
	r.listenersMu.Lock()
	r.onFinish = append(r.onFinish, fn)
	r.listenersMu.Unlock()
}

// Submit registers the orchestrator's run and queues it. It returns the run
// id without waiting for any agent. An empty or already used orchestrator is
// rejected and no run is created.
func (r *Runner) Submit(o *orchestrator.Orchestrator, opts ...SubmitOption) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", ErrClosed
	}
	owner, err := o.Seal()
	if err != nil {
		return "", err
	}

	var so submitOptions
	for _, opt := range opts {
		opt(&so)
	}
	id := o.ID()
	e := &entry{orch: o, owner: owner, pipeline: so.pipeline}

	if err := r.save(o.Snapshot(), e.pipeline); err != nil {
		return "", fmt.Errorf("persist run: %w", err)
	}

	o.OnStart(func(orchestrator.Snapshot) {
		r.persist(e)
		r.publishEvent(id, "run_started", map[string]any{"name": o.Name()})
	})
	o.OnStep(func(res orchestrator.AgentResult) {
		r.persist(e)
		r.publishEvent(id, "agent_completed", map[string]any{
			"agent":      res.Agent,
			"capability": res.Capability,
			"outcome":    res.Outcome,
			"error_kind": res.ErrorKind,
		})
	})

	r.registry.Set(id, e)
	r.publishEvent(id, "run_submitted", map[string]any{
		"name":   o.Name(),
		"agents": o.Len(),
		"policy": o.Policy(),
	})
	r.queue.Enqueue(e)

	slog.Info("run submitted", "run", id, "name", o.Name(), "agents", o.Len())
	return id, nil
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		e, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		r.execute(e)
	}
}

func (r *Runner) execute(e *entry) {
	snap, err := e.owner.Execute(r.ctx)
	if err != nil && !snap.Status.Terminal() {
		slog.Error("run failed to start", "run", snap.ID, "status", snap.Status, "error", err)
		return
	}
	r.finish(e)
}

// persist writes the entry's current state unless it already finished.
func (r *Runner) persist(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return
	}
	if err := r.save(e.orch.Snapshot(), e.pipeline); err != nil {
		slog.Error("persist run failed", "run", e.orch.ID(), "error", err)
	}
}

func (r *Runner) finish(e *entry) {
	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.finished = true
	snap := e.orch.Snapshot()
	if err := r.save(snap, e.pipeline); err != nil {
		slog.Error("persist finished run failed", "run", snap.ID, "error", err)
	}
	e.mu.Unlock()

	endedAt := time.Now().UTC()
	if snap.EndedAt != nil {
		endedAt = *snap.EndedAt
	}
	r.finished.Add(snap.ID, endedAt)

	r.publishEvent(snap.ID, "run_finished", map[string]any{
		"name":      snap.Name,
		"status":    snap.Status,
		"reason":    snap.Reason,
		"succeeded": snap.Succeeded(),
		"failed":    snap.Failed(),
		"skipped":   snap.Skipped(),
	})

	r.Evict()

	r.listenersMu.RLock()
	listeners := slices.Clone(r.onFinish)
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// Get returns the current snapshot of a run, falling back to the store for
// finished runs that are still tracked.
func (r *Runner) Get(id string) (orchestrator.Snapshot, error) {
	if e := r.registry.Get(id); e != nil {
		return e.orch.Snapshot(), nil
	}
	if r.store == nil || !r.finished.Has(id) {
		return orchestrator.Snapshot{}, ErrNotFound
	}
	rec, err := r.store.GetRun(id)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	if rec == nil {
		return orchestrator.Snapshot{}, ErrNotFound
	}
	return fromRecord(rec)
}

// Pipeline returns the descriptor a run was submitted with, if one was given.
func (r *Runner) Pipeline(id string) ([]byte, error) {
	if e := r.registry.Get(id); e != nil {
		return e.pipeline, nil
	}
	if r.store == nil || !r.finished.Has(id) {
		return nil, ErrNotFound
	}
	rec, err := r.store.GetRun(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec.Pipeline, nil
}

// List returns every tracked run, newest first.
func (r *Runner) List() ([]orchestrator.Snapshot, error) {
	live := r.registry.All()
	out := make([]orchestrator.Snapshot, 0, len(live))
	seen := make(map[string]struct{}, len(live))
	for _, e := range live {
		snap := e.orch.Snapshot()
		seen[snap.ID] = struct{}{}
		out = append(out, snap)
	}

	if r.store != nil {
		for _, f := range r.finished.List() {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			rec, err := r.store.GetRun(f.ID)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				continue
			}
			snap, err := fromRecord(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}
	}

	slices.SortFunc(out, func(a, b orchestrator.Snapshot) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Cancel cancels a pending or running run.
func (r *Runner) Cancel(id string) error {
	e := r.registry.Get(id)
	if e == nil {
		if r.finished.Has(id) {
			return ErrAlreadyFinished
		}
		return ErrNotFound
	}
	if !e.orch.Cancel() {
		return ErrAlreadyFinished
	}
	if e.orch.Snapshot().Status.Terminal() {
		r.finish(e)
	}
	slog.Info("run cancelled", "run", id)
	return nil
}

type Stats struct {
	Workers  int                         `json:"workers"`
	Queued   int                         `json:"queued"`
	Live     int                         `json:"live"`
	Finished int                         `json:"finished"`
	ByStatus map[orchestrator.Status]int `json:"by_status"`
}

func (r *Runner) Stats() Stats {
	live := r.registry.All()
	s := Stats{
		Workers:  r.workers,
		Queued:   r.queue.Len(),
		Live:     len(live),
		Finished: r.finished.Len(),
		ByStatus: make(map[orchestrator.Status]int),
	}
	for _, e := range live {
		s.ByStatus[e.orch.Snapshot().Status]++
	}
	return s
}

// Evict applies the eviction policy to finished runs and returns how many
// were removed.
func (r *Runner) Evict() int {
	r.evictMu.Lock()
	defer r.evictMu.Unlock()

	ids := r.eviction.Evict(r.finished.List(), time.Now())
	for _, id := range ids {
		r.registry.Remove(id)
		r.finished.Remove(id)
		if r.store != nil {
			if err := r.store.DeleteRun(id); err != nil {
				slog.Error("delete evicted run failed", "run", id, "error", err)
			}
		}
		r.publishEvent(id, "run_evicted", nil)
	}
	if len(ids) > 0 {
		slog.Debug("runs evicted", "count", len(ids))
	}
	return len(ids)
}

// StartJanitor evaluates the eviction policy every interval until ctx is done.
func (r *Runner) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// Recover finalizes runs a previous process left pending or running as failed
// with reason interrupted, and indexes every persisted terminal run. Call it
// before accepting submissions.
func (r *Runner) Recover() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	runs, err := r.store.ListRuns()
	if err != nil {
		return 0, fmt.Errorf("recover runs: %w", err)
	}

	interrupted := 0
	for i := range runs {
		rec := &runs[i]
		if r.registry.Get(rec.ID) != nil {
			continue
		}
		if !orchestrator.Status(rec.Status).Terminal() {
			now := time.Now().UTC()
			rec.Status = string(orchestrator.StatusFailed)
			rec.Reason = orchestrator.ReasonInterrupted
			rec.EndedAt = &now
			if err := r.store.SaveRun(rec); err != nil {
				return interrupted, fmt.Errorf("finalize interrupted run: %w", err)
			}
			interrupted++
			slog.Warn("run interrupted by restart", "run", rec.ID, "name", rec.Name)
		}
		ended := rec.CreatedAt
		if rec.EndedAt != nil {
			ended = *rec.EndedAt
		}
		r.finished.Add(rec.ID, ended)
	}

	r.Evict()
	return interrupted, nil
}

// Close stops accepting runs, cancels queued and running ones and waits for
// the workers to return.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	for _, e := range r.queue.Close() {
		e.orch.Cancel()
		r.finish(e)
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) save(snap orchestrator.Snapshot, pipeline []byte) error {
	if r.store == nil {
		return nil
	}
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return r.store.SaveRun(&store.Run{
		ID:        snap.ID,
		Name:      snap.Name,
		Status:    string(snap.Status),
		Reason:    snap.Reason,
		Policy:    string(snap.Policy),
		Pipeline:  pipeline,
		Results:   results,
		CreatedAt: snap.CreatedAt,
		StartedAt: snap.StartedAt,
		EndedAt:   snap.EndedAt,
	})
}

func fromRecord(rec *store.Run) (orchestrator.Snapshot, error) {
	snap := orchestrator.Snapshot{
		ID:        rec.ID,
		Name:      rec.Name,
		Status:    orchestrator.Status(rec.Status),
		Reason:    rec.Reason,
		Policy:    orchestrator.FailurePolicy(rec.Policy),
		CreatedAt: rec.CreatedAt,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
	if len(rec.Results) > 0 {
		if err := json.Unmarshal(rec.Results, &snap.Results); err != nil {
			return snap, fmt.Errorf("decode results of run %s: %w", rec.ID, err)
		}
	}
	if snap.Results == nil {
		snap.Results = []orchestrator.AgentResult{}
	}
	return snap, nil
}

func (r *Runner) publishEvent(runID, eventType string, data map[string]any) {
	if r.pub == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"run_id":    runID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := r.pub.Publish(natsbus.TopicEventsRun(runID), payload); err != nil {
		slog.Warn("publish run event failed", "run", runID, "type", eventType, "error", err)
	}
}
