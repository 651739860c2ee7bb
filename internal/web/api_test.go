package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/runner"
	"github.com/mtzanidakis/webextract/internal/store"
)

type fakeSchedules []store.Schedule

func (f fakeSchedules) ListSchedules() ([]store.Schedule, error) { return f, nil }

type testEnv struct {
	handler http.Handler
	runner  *runner.Runner
	page    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Test</title></head><body><p>Alpha</p><p>Beta</p><img src="/a.png"></body></html>`))
	}))
	t.Cleanup(page.Close)

	r := runner.New()
	t.Cleanup(r.Close)

	catalog := pipeline.NewCatalog(map[string]pipeline.Spec{
		"page": {Agents: []pipeline.StepSpec{{Type: "extract", URL: page.URL}}},
	})
	defaults := func() pipeline.Defaults {
		return pipeline.Defaults{
			Timeout: 5 * time.Second,
			Fetch:   agent.FetchOptions{Client: page.Client()},
		}
	}
	sched := fakeSchedules{{ID: "hourly", Name: "hourly", Pipeline: "page", Schedule: "@hourly", Status: "active"}}
	s := NewServer(r, sched, catalog, defaults, nil, config.WebConfig{AllowOrigin: "*"}, "test")
	return &testEnv{handler: s.Handler(), runner: r, page: page}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) waitRun(t *testing.T, id string) orchestrator.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := e.do(t, http.MethodGet, "/api/runs/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get run: %d %s", rec.Code, rec.Body.String())
		}
		snap := decode[orchestrator.Snapshot](t, rec)
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return orchestrator.Snapshot{}
}

func TestSubmitAndGetRun(t *testing.T) {
	e := newTestEnv(t)

	spec := pipeline.Spec{Name: "web", Agents: []pipeline.StepSpec{
		{Type: "extract", URL: e.page.URL},
		{Type: "organize", Format: "csv"},
	}}
	rec := e.do(t, http.MethodPost, "/api/runs", spec)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["run_id"]
	if id == "" || rec.Header().Get("Location") != "/api/runs/"+id {
		t.Fatalf("unexpected submit response: %s %v", rec.Body.String(), rec.Header())
	}

	snap := e.waitRun(t, id)
	if snap.Status != orchestrator.StatusCompleted || len(snap.Results) != 2 {
		t.Fatalf("expected completed run with 2 results, got %+v", snap)
	}

	rec = e.do(t, http.MethodGet, "/api/runs", nil)
	runs := decode[[]orchestrator.Snapshot](t, rec)
	if len(runs) != 1 || runs[0].ID != id {
		t.Errorf("unexpected runs list: %s", rec.Body.String())
	}
}

func TestSubmitErrors(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"malformed json", "{", "invalid request body"},
		{"unknown field", `{"agents":[],"bogus":1}`, "invalid request body"},
		{"empty pipeline", pipeline.Spec{}, "pipeline is empty"},
		{"incompatible shapes", pipeline.Spec{Agents: []pipeline.StepSpec{{Type: "organize"}}}, "incompatible"},
		{"invalid step", `{"agents":[{"type":"render"}]}`, "agents[0].type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/runs", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("expected body to mention %q, got %s", tt.want, rec.Body.String())
			}
		})
	}
	if got := len(e.runner.Stats().ByStatus); got != 0 {
		t.Errorf("rejected submissions must not create runs, got %d statuses", got)
	}
}

func TestRunNotFound(t *testing.T) {
	e := newTestEnv(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/runs/nope"},
		{http.MethodPost, "/api/runs/nope/cancel"},
		{http.MethodPost, "/api/runs/nope/retry"},
	} {
		if rec := e.do(t, tc.method, tc.path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestCancelFinishedAndRetry(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/pipelines/page/runs", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]string](t, rec)["run_id"]
	first := e.waitRun(t, id)
	if first.Name != "page" {
		t.Errorf("expected run named after pipeline, got %q", first.Name)
	}

	if rec := e.do(t, http.MethodPost, "/api/runs/"+id+"/cancel", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a finished run, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/runs/"+id+"/retry", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on retry, got %d: %s", rec.Code, rec.Body.String())
	}
	retryID := decode[map[string]string](t, rec)["run_id"]
	if retryID == id {
		t.Fatal("retry must produce a new run")
	}
	if snap := e.waitRun(t, retryID); snap.Status != orchestrator.StatusCompleted {
		t.Errorf("expected retried run completed, got %s", snap.Status)
	}

	if rec := e.do(t, http.MethodPost, "/api/pipelines/unknown/runs", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown pipeline, got %d", rec.Code)
	}
}

func TestExtractEndpoint(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/extract", map[string]string{"url": e.page.URL, "extract_type": "images"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Success bool             `json:"success"`
		Output  agent.Extraction `json:"output"`
	}](t, rec)
	if !resp.Success || len(resp.Output.Items) != 1 || !strings.HasSuffix(resp.Output.Items[0], "/a.png") {
		t.Errorf("unexpected extract response: %s", rec.Body.String())
	}

	tests := []struct {
		name string
		body map[string]string
		kind string
	}{
		{"empty url", map[string]string{"url": ""}, "invalid_input"},
		{"bad scheme", map[string]string{"url": "ftp://example.com"}, "invalid_input"},
		{"unknown type", map[string]string{"url": e.page.URL, "extract_type": "video"}, "unsupported_operation"},
		{"remote 404", map[string]string{"url": e.page.URL + "/missing"}, "resource_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/extract", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			resp := decode[agentResponse](t, rec)
			if resp.Success || resp.Kind != tt.kind || resp.Error == "" {
				t.Errorf("expected %s failure, got %+v", tt.kind, resp)
			}
		})
	}
}

func TestOrganizeEndpoint(t *testing.T) {
	e := newTestEnv(t)

	body := map[string]any{
		"data":   agent.Extraction{URL: "https://example.com", Kind: "text", Items: []string{"a", "b"}},
		"format": "csv",
	}
	rec := e.do(t, http.MethodPost, "/api/organize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Success bool           `json:"success"`
		Output  agent.Document `json:"output"`
	}](t, rec)
	if !resp.Success || resp.Output.Content != "index,kind,value\n0,text,a\n1,text,b\n" {
		t.Errorf("unexpected organize response: %s", rec.Body.String())
	}

	body["format"] = "xml"
	rec = e.do(t, http.MethodPost, "/api/organize", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestOrganizeAcceptsText(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/organize", map[string]any{"data": "some text", "format": "csv"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[struct {
		Success bool           `json:"success"`
		Output  agent.Document `json:"output"`
	}](t, rec)
	if !resp.Success || resp.Output.Content != "index,kind,value\n0,text,some text\n" {
		t.Errorf("unexpected organize response: %s", rec.Body.String())
	}

	for _, data := range []any{42, []string{"a"}, nil} {
		rec := e.do(t, http.MethodPost, "/api/organize", map[string]any{"data": data, "format": "csv"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for data %v, got %d", data, rec.Code)
		}
	}
}

func TestSystemEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || decode[map[string]string](t, rec)["status"] != "healthy" {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/", nil)
	if !strings.Contains(rec.Body.String(), "Welcome") {
		t.Errorf("unexpected welcome: %s", rec.Body.String())
	}
	if rec := e.do(t, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/status", nil)
	status := decode[map[string]any](t, rec)
	if status["status"] != "ok" || status["version"] != "test" || status["pipelines"] != float64(1) {
		t.Errorf("unexpected status: %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/pipelines", nil)
	specs := decode[[]pipeline.Spec](t, rec)
	if len(specs) != 1 || specs[0].Name != "page" {
		t.Errorf("unexpected pipelines: %s", rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/schedules", nil)
	if schedules := decode[[]store.Schedule](t, rec); len(schedules) != 1 || schedules[0].ID != "hourly" {
		t.Errorf("unexpected schedules: %s", rec.Body.String())
	}
	if views := decode[[]map[string]any](t, rec); len(views) != 1 || views[0]["description"] != "@hourly" {
		t.Errorf("expected schedule description, got %s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodOptions, "/api/runs", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header: %v", rec.Header())
	}
}
