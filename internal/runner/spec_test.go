package runner

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
)

func TestSubmitSpecAndRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><head><title>Hi</title></head><body><p>Hello</p></body></html>")
	}))
	defer srv.Close()

	r := New(WithStore(newMemStore()))
	defer r.Close()
	wait := waitFinished(r)

	spec := pipeline.Spec{Name: "hello", Agents: []pipeline.StepSpec{
		{Type: "extract", URL: srv.URL},
		{Type: "organize", Format: "json"},
	}}
	d := pipeline.Defaults{Fetch: agent.FetchOptions{Client: srv.Client()}}

	id, err := r.SubmitSpec(spec, d)
	if err != nil {
		t.Fatalf("submit spec: %v", err)
	}
	first := wait(t, id)
	if first.Status != orchestrator.StatusCompleted || first.Name != "hello" {
		t.Fatalf("expected completed run named hello, got %s %q", first.Status, first.Name)
	}

	retryID, err := r.Retry(id, d)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retryID == id {
		t.Fatal("retry must create a new run")
	}
	second := wait(t, retryID)
	if second.Status != orchestrator.StatusCompleted || len(second.Results) != 2 {
		t.Errorf("unexpected retried run: %+v", second)
	}
}

func TestSubmitSpecRejectsIncompatible(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.SubmitSpec(pipeline.Spec{Agents: []pipeline.StepSpec{{Type: "organize", Format: "csv"}}}, pipeline.Defaults{})
	if !errors.Is(err, orchestrator.ErrIncompatible) {
		t.Fatalf("expected ErrIncompatible, got %v", err)
	}
	if len(r.registry.All()) != 0 {
		t.Error("rejected spec must not create a run")
	}
}

func TestRetryWithoutPipeline(t *testing.T) {
	r := New()
	defer r.Close()
	wait := waitFinished(r)

	id, err := r.Submit(newOrch(t, emitting("a")))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	wait(t, id)

	if _, err := r.Retry(id, pipeline.Defaults{}); !errors.Is(err, ErrNoPipeline) {
		t.Errorf("expected ErrNoPipeline, got %v", err)
	}
	if _, err := r.Retry("missing", pipeline.Defaults{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
