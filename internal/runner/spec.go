package runner

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mtzanidakis/webextract/internal/pipeline"
)

var ErrNoPipeline = errors.New("run has no stored pipeline")

// SubmitSpec builds spec with the given defaults and submits the result,
// recording spec as the run's pipeline.
func (r *Runner) SubmitSpec(spec pipeline.Spec, d pipeline.Defaults) (string, error) {
	o, err := pipeline.Build(spec, d)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal pipeline: %w", err)
	}
	return r.Submit(o, WithPipeline(data))
}

// Retry resubmits the pipeline a previous run was started with. The new run
// gets its own id; the old one is left untouched.
func (r *Runner) Retry(id string, d pipeline.Defaults) (string, error) {
	data, err := r.Pipeline(id)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrNoPipeline
	}
	var spec pipeline.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return "", fmt.Errorf("decode pipeline: %w", err)
	}
	return r.SubmitSpec(spec, d)
}
