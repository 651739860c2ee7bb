package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mtzanidakis/webextract/internal/agent"
	"github.com/mtzanidakis/webextract/internal/orchestrator"
)

type extractRequest struct {
	URL         string            `json:"url"`
	ExtractType string            `json:"extract_type"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// organizeRequest takes data either as plain text or as an extraction
// object returned by /api/extract.
type organizeRequest struct {
	Data   json.RawMessage `json:"data"`
	Format string          `json:"format"`
}

func (req organizeRequest) extraction() (*agent.Extraction, error) {
	data := bytes.TrimSpace(req.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, errors.New("data is required")
	}
	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		return &agent.Extraction{Kind: agent.ExtractText, Items: []string{text}}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var ex agent.Extraction
	if err := dec.Decode(&ex); err != nil {
		return nil, fmt.Errorf("data must be a string or an extraction object: %w", err)
	}
	return &ex, nil
}

type agentResponse struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"error_kind,omitempty"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	a := agent.NewExtractor("", req.URL, req.ExtractType, req.Headers, s.defaults().Fetch)
	s.runOne(w, r, a, nil)
}

func (s *Server) organize(w http.ResponseWriter, r *http.Request) {
	var req organizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	data, err := req.extraction()
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.runOne(w, r, agent.NewOrganizer("", req.Format), data)
}

// runOne executes a single agent in its own orchestrator, bound to the
// request context, and reports its result directly.
func (s *Server) runOne(w http.ResponseWriter, r *http.Request, a agent.Agent, input agent.Payload) {
	d := s.defaults()
	opts := []orchestrator.Option{orchestrator.WithDefaultTimeout(d.Timeout)}
	if input != nil {
		opts = append(opts, orchestrator.WithInput(input))
	}
	o := orchestrator.New(opts...)
	if err := o.AddAgent(a); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := o.Execute(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res := snap.Results[0]
	if res.Outcome != orchestrator.OutcomeSuccess {
		jsonStatus(w, http.StatusBadRequest, agentResponse{Error: res.Detail, Kind: string(res.ErrorKind)})
		return
	}
	jsonResponse(w, agentResponse{Success: true, Output: res.Output})
}
