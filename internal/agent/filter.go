package agent

import (
	"context"
	"strings"
)

// Filter drops extracted items containing any of its keywords.
type Filter struct {
	base
	keywords []string
}

var _ Agent = (*Filter)(nil)

func NewFilter(name string, excludeKeywords []string) *Filter {
	kw := make([]string, 0, len(excludeKeywords))
	for _, k := range excludeKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Filter{base: base{name: name, cap: CapabilityFilter}, keywords: kw}
}

func (f *Filter) Input() Shape  { return ShapeExtraction }
func (f *Filter) Output() Shape { return ShapeExtraction }

func (f *Filter) Execute(_ context.Context, in Payload) (Payload, error) {
	ex, ok := in.(*Extraction)
	if !ok || ex == nil {
		return nil, InvalidInput(f.Name(), "expected extraction input")
	}

	out := *ex
	out.Items = make([]string, 0, len(ex.Items))
	for _, item := range ex.Items {
		if !f.excluded(item) {
			out.Items = append(out.Items, item)
		}
	}
	return &out, nil
}

func (f *Filter) excluded(item string) bool {
	lower := strings.ToLower(item)
	for _, k := range f.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
