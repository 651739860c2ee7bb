// Package agent defines the units of work executed by an orchestrator run and
// the closed set of capabilities the service ships with.
package agent

import "context"

// Capability tags what an agent does. It is used in logs, events and when
// building agents from pipeline descriptors.
type Capability string

const (
	CapabilityExtract  Capability = "extract"
	CapabilityFilter   Capability = "filter"
	CapabilityOrganize Capability = "organize"
)

// Shape names the kind of payload an agent consumes or produces.
type Shape string

const (
	// ShapeNone marks an agent that ignores its input. It is compatible with
	// any upstream output.
	ShapeNone       Shape = "none"
	ShapeExtraction Shape = "extraction"
	ShapeDocument   Shape = "document"
)

// Accepts reports whether an agent declaring input shape s can consume a
// payload of shape out.
func (s Shape) Accepts(out Shape) bool {
	return s == ShapeNone || s == out
}

// Payload is the value passed between agents. A nil Payload means no input.
type Payload interface {
	Shape() Shape
}

// Agent is a single unit of work. Execute must not touch orchestrator state;
// it returns its output and the orchestrator records it.
type Agent interface {
	Name() string
	Capability() Capability
	Input() Shape
	Output() Shape
	Execute(ctx context.Context, in Payload) (Payload, error)
}

// Extraction is the output of an extract agent.
type Extraction struct {
	URL         string   `json:"url"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Items       []string `json:"items"`
	StatusCode  int      `json:"status_code,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
}

func (*Extraction) Shape() Shape { return ShapeExtraction }

// Document is the output of an organize agent.
type Document struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

func (*Document) Shape() Shape { return ShapeDocument }

// base carries the identity shared by every concrete agent.
type base struct {
	name string
	cap  Capability
}

func (b base) Name() string {
	if b.name == "" {
		return string(b.cap)
	}
	return b.name
}

func (b base) Capability() Capability { return b.cap }
