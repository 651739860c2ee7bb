package pipeline

import (
	"fmt"
	"time"

	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
)

// Defaults fill in what a spec leaves unset.
type Defaults struct {
	Policy     orchestrator.FailurePolicy
	CancelMode orchestrator.CancelMode
	Timeout    time.Duration
	Fetch      agent.FetchOptions
}

// Build validates spec and returns a fresh orchestrator with one agent per
// step. Shape mismatches surface here as orchestrator.ErrIncompatible.
func Build(spec Spec, d Defaults, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	if err := Validate(spec); err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if spec.Timeout != "" {
		timeout, _ = time.ParseDuration(spec.Timeout)
	}
	policy := d.Policy
	if spec.Policy != "" {
		policy = orchestrator.FailurePolicy(spec.Policy)
	}
	cancelMode := d.CancelMode
	if spec.CancelMode != "" {
		cancelMode = orchestrator.CancelMode(spec.CancelMode)
	}

	o := orchestrator.New(append([]orchestrator.Option{
		orchestrator.WithName(spec.Name),
		orchestrator.WithPolicy(policy),
		orchestrator.WithCancelMode(cancelMode),
		orchestrator.WithDefaultTimeout(timeout),
	}, opts...)...)

	for i, step := range spec.Agents {
		var sopts []orchestrator.StepOption
		if step.Independent {
			sopts = append(sopts, orchestrator.Independent())
		}
		if step.Timeout != "" {
			st, _ := time.ParseDuration(step.Timeout)
			sopts = append(sopts, orchestrator.WithTimeout(st))
		}
		if err := o.AddAgent(NewAgent(step, d.Fetch), sopts...); err != nil {
			return nil, fmt.Errorf("agents[%d]: %w", i, err)
		}
	}
	return o, nil
}

// NewAgent constructs the agent a step describes. The step type must already
// be validated.
func NewAgent(step StepSpec, fetch agent.FetchOptions) agent.Agent {
	switch agent.Capability(step.Type) {
	case agent.CapabilityFilter:
		return agent.NewFilter(step.Name, step.ExcludeKeywords)
	case agent.CapabilityOrganize:
		return agent.NewOrganizer(step.Name, step.Format)
	default:
		return agent.NewExtractor(step.Name, step.URL, step.ExtractType, step.Headers, fetch)
	}
}
