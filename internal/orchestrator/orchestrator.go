// Package orchestrator executes one pipeline of agents as a single run and
// tracks its lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/webextract/internal/agent"
)

// Orchestrator owns one pipeline and the run executing it. It is single use:
// once a run has started no agent can be added and it cannot be started again.
type Orchestrator struct {
	id         string
	name       string
	policy     FailurePolicy
	cancelMode CancelMode
	timeout    time.Duration
	input      agent.Payload
	pipeline   *Pipeline

	mu        sync.Mutex
	sealed    bool
	status    Status
	reason    string
	results   []AgentResult
	cancelled bool
	abort     context.CancelFunc
	createdAt time.Time
	startedAt *time.Time
	endedAt   *time.Time
	onStart   []func(Snapshot)
	onStep    []func(AgentResult)
	onFinish  []func(Snapshot)

	done     chan struct{}
	doneOnce sync.Once
}

type Option func(*Orchestrator)

func WithName(name string) Option {
	return func(o *Orchestrator) { o.name = name }
}

func WithPolicy(p FailurePolicy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

func WithCancelMode(m CancelMode) Option {
	return func(o *Orchestrator) {
		if m != "" {
			o.cancelMode = m
		}
	}
}

// WithDefaultTimeout bounds every step that has no timeout of its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithInput sets the run input handed to the first step and to independent
// steps.
func WithInput(p agent.Payload) Option {
	return func(o *Orchestrator) { o.input = p }
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:         uuid.New().String(),
		policy:     FailFast,
		cancelMode: CancelFinish,
		status:     StatusPending,
		createdAt:  time.Now().UTC(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	in := agent.ShapeNone
	if o.input != nil {
		in = o.input.Shape()
	}
	o.pipeline = newPipeline(in)
	return o
}

func (o *Orchestrator) ID() string            { return o.id }
func (o *Orchestrator) Name() string          { return o.name }
func (o *Orchestrator) Policy() FailurePolicy { return o.policy }

// Len returns the number of registered steps.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pipeline.Len()
}

// AddAgent appends a step. Shape mismatches are rejected here so they can
// never surface while the run executes.
func (o *Orchestrator) AddAgent(a agent.Agent, opts ...StepOption) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sealed || o.status != StatusPending {
		return ErrPipelineLocked
	}
	step := Step{Agent: a}
	for _, opt := range opts {
		opt(&step)
	}
	return o.pipeline.append(step)
}

// Seal locks the pipeline against further changes and hands its execution to
// the caller: Run and Execute refuse a sealed orchestrator, only the returned
// Sealed can start it. It fails the same way Run does for an empty or already
// used orchestrator.
func (o *Orchestrator) Seal() (*Sealed, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeline.Len() == 0 {
		return nil, ErrPipelineEmpty
	}
	if o.sealed || o.status != StatusPending {
		return nil, ErrPipelineLocked
	}
	o.sealed = true
	return &Sealed{o: o}, nil
}

// Sealed is the exclusive right to execute a sealed orchestrator.
type Sealed struct {
	o *Orchestrator
}

// Execute runs the pipeline on the calling goroutine. It fails with
// ErrPipelineLocked if the run was cancelled before it started.
func (s *Sealed) Execute(ctx context.Context) (Snapshot, error) {
	if err := s.o.start(true); err != nil {
		return s.o.Snapshot(), err
	}
	s.o.execute(ctx)
	return s.o.Snapshot(), nil
}

// OnStart registers a listener called once the run is running, before its
// first step is dispatched.
func (o *Orchestrator) OnStart(fn func(Snapshot)) {
	o.mu.Lock()
	o.onStart = append(o.onStart, fn)
	o.mu.Unlock()
}

// OnStep registers a listener called after every step result is recorded.
func (o *Orchestrator) OnStep(fn func(AgentResult)) {
	o.mu.Lock()
	o.onStep = append(o.onStep, fn)
	o.mu.Unlock()
}

// OnFinish registers a listener called once the run reaches a terminal status.
func (o *Orchestrator) OnFinish(fn func(Snapshot)) {
	o.mu.Lock()
	o.onFinish = append(o.onFinish, fn)
	o.mu.Unlock()
}

// Handle tracks a run started with Run.
type Handle struct {
	o *Orchestrator
}

func (h *Handle) ID() string            { return h.o.id }
func (h *Handle) Done() <-chan struct{} { return h.o.done }
func (h *Handle) Snapshot() Snapshot    { return h.o.Snapshot() }

// Wait blocks until the run is terminal and returns its final snapshot.
func (h *Handle) Wait() Snapshot {
	<-h.o.done
	return h.o.Snapshot()
}

// Done is closed once the run reaches a terminal status.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run starts the pipeline in its own goroutine and returns immediately.
func (o *Orchestrator) Run(ctx context.Context) (*Handle, error) {
	if err := o.start(false); err != nil {
		return nil, err
	}
	go o.execute(ctx)
	return &Handle{o: o}, nil
}

// Execute runs the pipeline on the calling goroutine and returns the final
// snapshot.
func (o *Orchestrator) Execute(ctx context.Context) (Snapshot, error) {
	if err := o.start(false); err != nil {
		return o.Snapshot(), err
	}
	o.execute(ctx)
	return o.Snapshot(), nil
}

func (o *Orchestrator) start(owner bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeline.Len() == 0 {
		return ErrPipelineEmpty
	}
	if o.status != StatusPending || (o.sealed && !owner) {
		return ErrPipelineLocked
	}
	now := time.Now().UTC()
	o.sealed = true
	o.status = StatusRunning
	o.startedAt = &now
	return nil
}

// Cancel stops the run. A pending run fails immediately with every step
// skipped. A running run stops before the next step is dispatched; the step
// in flight either completes or, with CancelAbandon, has its context
// cancelled. A cancel that arrives while the last step is in flight under
// CancelFinish leaves nothing to skip, so the run ends as if it had not been
// cancelled. Cancel returns false if the run already finished.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	switch {
	case o.status.Terminal():
		o.mu.Unlock()
		return false
	case o.status == StatusRunning:
		o.cancelled = true
		if o.cancelMode == CancelAbandon && o.abort != nil {
			o.abort()
		}
		o.mu.Unlock()
		return true
	}

	o.cancelled = true
	o.sealed = true
	for _, st := range o.pipeline.steps {
		o.results = append(o.results, skipped(st, ReasonCancelled))
	}
	o.finishLocked(StatusFailed, ReasonCancelled)
	snap := o.snapshotLocked()
	listeners := o.onFinish
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	o.doneOnce.Do(func() { close(o.done) })
	return true
}

func (o *Orchestrator) execute(ctx context.Context) {
	steps := o.pipeline.Steps()
	slog.Info("run started", "run", o.id, "name", o.name, "agents", len(steps), "policy", o.policy)

	o.mu.Lock()
	started := o.snapshotLocked()
	onStart := o.onStart
	o.mu.Unlock()
	for _, fn := range onStart {
		fn(started)
	}

	var (
		prev      = o.input
		failed    bool
		abandoned bool
		succeeded int
		halt      string
	)

	for i, st := range steps {
		o.mu.Lock()
		switch {
		case o.cancelled || ctx.Err() != nil:
			o.cancelled = true
			halt = ReasonCancelled
		case failed && o.policy == FailFast:
			halt = ReasonAgentFailed
		}
		if halt != "" {
			for _, rest := range steps[i:] {
				o.results = append(o.results, skipped(rest, halt))
			}
			o.mu.Unlock()
			break
		}

		timeout := st.Timeout
		if timeout == 0 {
			timeout = o.timeout
		}
		var (
			stepCtx context.Context
			cancel  context.CancelFunc
		)
		if timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			stepCtx, cancel = context.WithCancel(ctx)
		}
		o.abort = cancel
		o.mu.Unlock()

		in := prev
		if st.Independent {
			in = o.input
		}

		startedAt := time.Now().UTC()
		out, err := invoke(stepCtx, st.Agent, in)
		endedAt := time.Now().UTC()
		cancel()

		res := AgentResult{
			Agent:      st.Agent.Name(),
			Capability: st.Agent.Capability(),
			StartedAt:  &startedAt,
			EndedAt:    &endedAt,
		}
		if err != nil {
			res.Outcome = OutcomeFailure
			res.ErrorKind = agent.KindOf(err)
			res.Detail = err.Error()
			failed = true
			abandoned = res.ErrorKind == agent.KindCancelled
			prev = nil
			slog.Warn("agent failed", "run", o.id, "agent", res.Agent, "kind", res.ErrorKind, "error", err)
		} else {
			res.Outcome = OutcomeSuccess
			if out != nil {
				res.Output = out
			}
			succeeded++
			abandoned = false
			prev = out
		}

		o.mu.Lock()
		o.abort = nil
		o.results = append(o.results, res)
		listeners := o.onStep
		o.mu.Unlock()

		for _, fn := range listeners {
			fn(res)
		}
	}

	o.mu.Lock()
	switch {
	case halt == ReasonCancelled, abandoned && (o.cancelled || ctx.Err() != nil):
		o.finishLocked(StatusFailed, ReasonCancelled)
	case !failed:
		o.finishLocked(StatusCompleted, "")
	case o.policy == FailFast:
		o.finishLocked(StatusFailed, ReasonAgentFailed)
	case succeeded > 0:
		o.finishLocked(StatusPartiallyFailed, ReasonAgentFailed)
	default:
		o.finishLocked(StatusFailed, ReasonAllFailed)
	}
	snap := o.snapshotLocked()
	listeners := o.onFinish
	o.mu.Unlock()

	slog.Info("run finished", "run", o.id, "status", snap.Status, "reason", snap.Reason,
		"succeeded", snap.Succeeded(), "failed", snap.Failed(), "skipped", snap.Skipped())

	for _, fn := range listeners {
		fn(snap)
	}
	o.doneOnce.Do(func() { close(o.done) })
}

// invoke runs one agent, converting panics, timeouts and cancellation into
// agent errors. An abandoned agent goroutine is left to finish on its own.
func invoke(ctx context.Context, a agent.Agent, in agent.Payload) (agent.Payload, error) {
	type result struct {
		out agent.Payload
		err error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: &agent.Error{
					Kind:    agent.KindInternal,
					Agent:   a.Name(),
					Message: fmt.Sprintf("panic: %v", r),
				}}
			}
		}()
		out, err := a.Execute(ctx, in)
		ch <- result{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.out != nil && a.Output() != agent.ShapeNone && r.out.Shape() != a.Output() {
			return nil, &agent.Error{
				Kind:    agent.KindInternal,
				Agent:   a.Name(),
				Message: fmt.Sprintf("produced %s, declared %s", r.out.Shape(), a.Output()),
			}
		}
		return r.out, r.err
	case <-ctx.Done():
		kind := agent.KindOf(ctx.Err())
		return nil, &agent.Error{Kind: kind, Agent: a.Name(), Message: string(kind), Err: ctx.Err()}
	}
}

func skipped(st Step, detail string) AgentResult {
	return AgentResult{
		Agent:      st.Agent.Name(),
		Capability: st.Agent.Capability(),
		Outcome:    OutcomeSkipped,
		Detail:     detail,
	}
}

func (o *Orchestrator) finishLocked(status Status, reason string) {
	now := time.Now().UTC()
	o.status = status
	o.reason = reason
	o.endedAt = &now
}

// Snapshot returns a copy of the run state. It is safe to call while the run
// executes; once terminal, every call returns the same contents.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	results := make([]AgentResult, len(o.results))
	for i, r := range o.results {
		r.StartedAt = copyTime(r.StartedAt)
		r.EndedAt = copyTime(r.EndedAt)
		results[i] = r
	}
	return Snapshot{
		ID:        o.id,
		Name:      o.name,
		Status:    o.status,
		Reason:    o.reason,
		Policy:    o.policy,
		Results:   results,
		CreatedAt: o.createdAt,
		StartedAt: copyTime(o.startedAt),
		EndedAt:   copyTime(o.endedAt),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
