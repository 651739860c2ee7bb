package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/mtzanidakis/webextract/internal/agent"
)

var (
	ErrPipelineEmpty  = errors.New("pipeline is empty")
	ErrPipelineLocked = errors.New("pipeline is locked")
	ErrIncompatible   = errors.New("incompatible agent shapes")
)

// Step is one agent registered in a pipeline.
type Step struct {
	Agent agent.Agent
	// Independent steps receive the run input instead of the previous output.
	Independent bool
	// Timeout bounds one invocation; zero falls back to the pipeline default.
	Timeout time.Duration
}

type StepOption func(*Step)

func Independent() StepOption {
	return func(s *Step) { s.Independent = true }
}

func WithTimeout(d time.Duration) StepOption {
	return func(s *Step) { s.Timeout = d }
}

// Pipeline is the ordered list of steps of one run.
type Pipeline struct {
	input Shape
	steps []Step
}

// Shape aliases agent.Shape so callers of this package rarely need both imports.
type Shape = agent.Shape

func newPipeline(input Shape) *Pipeline {
	if input == "" {
		input = agent.ShapeNone
	}
	return &Pipeline{input: input}
}

// append validates step against the current tail and adds it.
func (p *Pipeline) append(s Step) error {
	if s.Agent == nil {
		return errors.New("nil agent")
	}
	if err := p.check(len(p.steps), s); err != nil {
		return err
	}
	p.steps = append(p.steps, s)
	return nil
}

// check validates that step s can sit at position i.
func (p *Pipeline) check(i int, s Step) error {
	upstream, from := p.input, "run input"
	if i > 0 && !s.Independent {
		prev := p.steps[i-1].Agent
		upstream, from = prev.Output(), fmt.Sprintf("agent %q", prev.Name())
	}
	if !s.Agent.Input().Accepts(upstream) {
		return fmt.Errorf("%w: agent %q (%s) expects %s, %s produces %s",
			ErrIncompatible, s.Agent.Name(), s.Agent.Capability(), s.Agent.Input(), from, upstream)
	}
	return nil
}

// Validate re-checks the whole pipeline.
func (p *Pipeline) Validate() error {
	if len(p.steps) == 0 {
		return ErrPipelineEmpty
	}
	for i, s := range p.steps {
		if err := p.check(i, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) Len() int { return len(p.steps) }

// Steps returns a copy of the registered steps.
func (p *Pipeline) Steps() []Step {
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}
