package agent

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// Output formats understood by the organize agent.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Organizer turns an extraction into a structured document.
type Organizer struct {
	base
	format string
}

var _ Agent = (*Organizer)(nil)

func NewOrganizer(name, format string) *Organizer {
	if format == "" {
		format = FormatJSON
	}
	return &Organizer{base: base{name: name, cap: CapabilityOrganize}, format: format}
}

func (o *Organizer) Input() Shape  { return ShapeExtraction }
func (o *Organizer) Output() Shape { return ShapeDocument }

func (o *Organizer) Execute(_ context.Context, in Payload) (Payload, error) {
	ex, ok := in.(*Extraction)
	if !ok || ex == nil {
		return nil, InvalidInput(o.Name(), "expected extraction input")
	}

	switch o.format {
	case FormatJSON:
		data, err := json.Marshal(map[string]any{
			"url":   ex.URL,
			"kind":  ex.Kind,
			"title": ex.Title,
			"count": len(ex.Items),
			"items": ex.Items,
		})
		if err != nil {
			return nil, &Error{Kind: KindInternal, Agent: o.Name(), Message: "marshal document", Err: err}
		}
		return &Document{Format: FormatJSON, Content: string(data)}, nil

	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"index", "kind", "value"})
		for i, item := range ex.Items {
			_ = w.Write([]string{strconv.Itoa(i), ex.Kind, item})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, &Error{Kind: KindInternal, Agent: o.Name(), Message: "write csv", Err: err}
		}
		return &Document{Format: FormatCSV, Content: buf.String()}, nil

	default:
		return nil, Unsupported(o.Name(), fmt.Sprintf("unknown format %q", o.format))
	}
}
