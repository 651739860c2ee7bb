package ipc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/runner"
)

type fixture struct {
	client *natsbus.Client
	runner *runner.Runner
	page   *httptest.Server
}

func setup(t *testing.T) *fixture {
	t.Helper()
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body><p>hello ipc</p></body></html>")
	}))
	t.Cleanup(page.Close)

	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	t.Cleanup(bus.Close)

	r := runner.New()
	t.Cleanup(r.Close)

	h := New(r, func() pipeline.Defaults {
		return pipeline.Defaults{Fetch: agent.FetchOptions{Client: page.Client()}}
	})
	if err := h.Start(bus); err != nil {
		t.Fatalf("start ipc: %v", err)
	}
	t.Cleanup(h.Close)

	client, err := natsbus.NewClientFromURL(bus.ClientURL())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(client.Close)
	return &fixture{client: client, runner: r, page: page}
}

func (f *fixture) send(t *testing.T, typ string, payload any) Response {
	t.Helper()
	cmd := Command{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		cmd.Payload = data
	}
	var resp Response
	if err := f.client.RequestJSON(natsbus.TopicIPC, cmd, &resp, 2*time.Second); err != nil {
		t.Fatalf("request %s: %v", typ, err)
	}
	return resp
}

func TestSubmitStatusList(t *testing.T) {
	f := setup(t)

	spec := pipeline.Spec{Name: "ipc", Agents: []pipeline.StepSpec{{Type: "extract", URL: f.page.URL}}}
	resp := f.send(t, CmdSubmitRun, map[string]any{"spec": spec})
	if !resp.OK || resp.ID == "" {
		t.Fatalf("submit failed: %+v", resp)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status Response
	for time.Now().Before(deadline) {
		status = f.send(t, CmdRunStatus, map[string]string{"id": resp.ID})
		if status.Run != nil && status.Run.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status.Run == nil || status.Run.Status != orchestrator.StatusCompleted {
		t.Fatalf("expected completed run, got %+v", status)
	}

	list := f.send(t, CmdListRuns, nil)
	if !list.OK || len(list.Runs) != 1 || list.Runs[0].ID != resp.ID {
		t.Errorf("unexpected list: %+v", list)
	}
}

func TestErrors(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name    string
		typ     string
		payload any
		want    string
	}{
		{"unknown command", "reboot", nil, "unknown command: reboot"},
		{"status without id", CmdRunStatus, map[string]string{}, "id is required"},
		{"status of unknown run", CmdRunStatus, map[string]string{"id": "nope"}, runner.ErrNotFound.Error()},
		{"cancel unknown run", CmdCancelRun, map[string]string{"id": "nope"}, runner.ErrNotFound.Error()},
		{"empty pipeline", CmdSubmitRun, map[string]any{"spec": pipeline.Spec{}}, orchestrator.ErrPipelineEmpty.Error()},
		{"invalid step type", CmdSubmitRun, map[string]any{"spec": map[string]any{"agents": []any{map[string]string{"type": "render"}}}}, "agents[0].type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.send(t, tt.typ, tt.payload)
			if resp.OK || !strings.Contains(resp.Error, tt.want) {
				t.Errorf("expected error containing %q, got %+v", tt.want, resp)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	f := setup(t)
	msg, err := f.client.Request(natsbus.TopicIPC, []byte("{"), 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "invalid command" {
		t.Errorf("expected invalid command, got %+v", resp)
	}
}
