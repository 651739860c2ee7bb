package pipeline

import (
	"slices"
	"sync"
)

// Catalog holds the named pipelines from configuration. It is swapped as a
// whole on reload.
type Catalog struct {
	specs map[string]Spec
	mu    sync.RWMutex
}

func NewCatalog(specs map[string]Spec) *Catalog {
	c := &Catalog{}
	c.Replace(specs)
	return c
}

// Get returns the named spec with Name defaulted to its catalog key.
func (c *Catalog) Get(name string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[name]
	if ok && s.Name == "" {
		s.Name = name
	}
	return s, ok
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Catalog) Replace(specs map[string]Spec) {
	m := make(map[string]Spec, len(specs))
	for k, v := range specs {
		m[k] = v
	}
	c.mu.Lock()
	c.specs = m
	c.mu.Unlock()
}
