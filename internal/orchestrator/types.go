package orchestrator

import (
	"time"

	"github.com/mtzanidakis/webextract/internal/agent"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyFailed, StatusFailed:
		return true
	}
	return false
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// FailurePolicy decides whether one failing agent halts the run.
type FailurePolicy string

const (
	FailFast        FailurePolicy = "fail-fast"
	ContinueOnError FailurePolicy = "continue-on-error"
)

// CancelMode decides what happens to the agent in flight when a run is
// cancelled.
type CancelMode string

const (
	// CancelFinish lets the in-flight agent complete and skips the rest.
	CancelFinish CancelMode = "finish"
	// CancelAbandon cancels the in-flight agent's context and records it as
	// cancelled.
	CancelAbandon CancelMode = "abandon"
)

// Reasons recorded on failed runs.
const (
	ReasonCancelled   = "cancelled"
	ReasonAgentFailed = "agent_failed"
	ReasonAllFailed   = "all_agents_failed"
	ReasonInterrupted = "interrupted"
)

// AgentResult is the recorded outcome of one pipeline step.
type AgentResult struct {
	Agent      string           `json:"agent"`
	Capability agent.Capability `json:"capability"`
	Outcome    Outcome          `json:"outcome"`
	Detail     string           `json:"detail,omitempty"`
	ErrorKind  agent.Kind       `json:"error_kind,omitempty"`
	Output     any              `json:"output,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
}

// Snapshot is a point-in-time copy of a run's state.
type Snapshot struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Status    Status        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Policy    FailurePolicy `json:"policy"`
	Results   []AgentResult `json:"results"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

func (s Snapshot) Succeeded() int { return s.count(OutcomeSuccess) }
func (s Snapshot) Failed() int    { return s.count(OutcomeFailure) }
func (s Snapshot) Skipped() int   { return s.count(OutcomeSkipped) }

func (s Snapshot) count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
