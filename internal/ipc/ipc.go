// Package ipc answers request/reply commands sent over NATS by wxctl and
// other local tools.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/webextract/internal/natsbus"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
	"github.com/mtzanidakis/webextract/internal/pipeline"
	"github.com/mtzanidakis/webextract/internal/runner"
	"github.com/nats-io/nats.go"
)

// Command types.
const (
	CmdSubmitRun = "submit_run"
	CmdRunStatus = "run_status"
	CmdCancelRun = "cancel_run"
	CmdListRuns  = "list_runs"
)

type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	OK    bool                    `json:"ok,omitempty"`
	Error string                  `json:"error,omitempty"`
	ID    string                  `json:"id,omitempty"`
	Run   *orchestrator.Snapshot  `json:"run,omitempty"`
	Runs  []orchestrator.Snapshot `json:"runs,omitempty"`
}

type submitPayload struct {
	Spec pipeline.Spec `json:"spec"`
}

type idPayload struct {
	ID string `json:"id"`
}

type Handler struct {
	runner   *runner.Runner
	defaults func() pipeline.Defaults
	client   *natsbus.Client
	sub      *nats.Subscription
}

func New(r *runner.Runner, defaults func() pipeline.Defaults) *Handler {
	return &Handler{runner: r, defaults: defaults}
}

// Start subscribes to the IPC topic on a dedicated connection.
func (h *Handler) Start(bus *natsbus.Bus) error {
	client, err := bus.Connect("webextract-ipc")
	if err != nil {
		return err
	}
	sub, err := client.Subscribe(natsbus.TopicIPC, h.handle)
	if err != nil {
		client.Close()
		return fmt.Errorf("subscribe ipc: %w", err)
	}
	if err := client.Flush(); err != nil {
		client.Close()
		return fmt.Errorf("flush ipc: %w", err)
	}
	h.client, h.sub = client, sub
	return nil
}

func (h *Handler) Close() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	if h.client != nil {
		h.client.Close()
	}
}

func (h *Handler) handle(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid IPC command", "error", err)
		respond(msg, Response{Error: "invalid command"})
		return
	}

	slog.Debug("IPC command received", "type", cmd.Type)
	respond(msg, h.Dispatch(cmd))
}

// Dispatch executes one command and returns its reply.
func (h *Handler) Dispatch(cmd Command) Response {
	switch cmd.Type {
	case CmdSubmitRun:
		var p submitPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			return Response{Error: "invalid payload"}
		}
		id, err := h.runner.SubmitSpec(p.Spec, h.defaults())
		if err != nil {
			return Response{Error: err.Error()}
		}
		slog.Info("run submitted via IPC", "run", id, "name", p.Spec.Name)
		return Response{OK: true, ID: id}

	case CmdRunStatus:
		id, errResp := parseID(cmd.Payload)
		if errResp != nil {
			return *errResp
		}
		snap, err := h.runner.Get(id)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, ID: id, Run: &snap}

	case CmdCancelRun:
		id, errResp := parseID(cmd.Payload)
		if errResp != nil {
			return *errResp
		}
		if err := h.runner.Cancel(id); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, ID: id}

	case CmdListRuns:
		runs, err := h.runner.List()
		if err != nil {
			return Response{Error: fmt.Sprintf("list failed: %v", err)}
		}
		return Response{OK: true, Runs: runs}

	default:
		slog.Warn("unknown IPC command", "type", cmd.Type)
		return Response{Error: "unknown command: " + cmd.Type}
	}
}

func parseID(payload json.RawMessage) (string, *Response) {
	var p idPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", &Response{Error: "invalid payload"}
	}
	if p.ID == "" {
		return "", &Response{Error: "id is required"}
	}
	return p.ID, nil
}

func respond(msg *nats.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil && !errors.Is(err, nats.ErrMsgNoReply) {
		slog.Error("failed to respond to IPC", "error", err)
	}
}
