// Package pipeline turns declarative pipeline descriptors into orchestrators
// and keeps the catalog of named pipelines loaded from configuration.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec describes one pipeline. It is what HTTP callers post, what wxctl reads
// from a file and what the configuration file lists under pipelines.
type Spec struct {
	Name       string     `yaml:"name,omitempty" json:"name,omitempty" validate:"max=128"`
	Policy     string     `yaml:"policy,omitempty" json:"policy,omitempty" validate:"omitempty,oneof=fail-fast continue-on-error"`
	CancelMode string     `yaml:"cancel_mode,omitempty" json:"cancel_mode,omitempty" validate:"omitempty,oneof=finish abandon"`
	Timeout    string     `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
	Agents     []StepSpec `yaml:"agents" json:"agents" validate:"dive"`
}

// StepSpec describes one agent of a pipeline. Which fields apply depends on
// Type.
type StepSpec struct {
	Type        string `yaml:"type" json:"type" validate:"required,oneof=extract filter organize"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty" validate:"max=64"`
	Independent bool   `yaml:"independent,omitempty" json:"independent,omitempty"`
	Timeout     string `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`

	// extract
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	ExtractType string            `yaml:"extract_type,omitempty" json:"extract_type,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty" validate:"dive,keys,required,endkeys"`

	// filter
	ExcludeKeywords []string `yaml:"exclude_keywords,omitempty" json:"exclude_keywords,omitempty"`

	// organize
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// Parse decodes a YAML (or JSON) pipeline descriptor.
func Parse(data []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Spec{}, fmt.Errorf("parse pipeline: %w", err)
	}
	return s, nil
}

func LoadFile(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read pipeline: %w", err)
	}
	return Parse(data)
}
