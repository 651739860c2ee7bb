package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Terminal run statuses. Rows in one of these are never modified again.
var terminalStatuses = []string{"completed", "partially_failed", "failed"}

type Run struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Policy    string          `json:"policy"`
	Pipeline  json.RawMessage `json:"pipeline,omitempty"`
	Results   json.RawMessage `json:"results,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

const runColumns = `id, name, status, reason, policy, pipeline, sealed, results, created_at, started_at, ended_at`

func (s *Store) scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	r := &Run{}
	var (
		pipeline []byte
		sealed   bool
		results  *string
	)
	err := scanner.Scan(&r.ID, &r.Name, &r.Status, &r.Reason, &r.Policy, &pipeline, &sealed, &results,
		&r.CreatedAt, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return nil, err
	}
	if results != nil {
		r.Results = json.RawMessage(*results)
	}
	if len(pipeline) > 0 {
		if sealed {
			if s.sealer == nil {
				return nil, fmt.Errorf("run %s: pipeline is sealed and no vault is configured", r.ID)
			}
			if pipeline, err = s.sealer.Open(pipeline); err != nil {
				return nil, fmt.Errorf("open pipeline of run %s: %w", r.ID, err)
			}
		}
		r.Pipeline = json.RawMessage(pipeline)
	}
	return r, nil
}

// SaveRun inserts a run or updates its mutable fields. Updates to a run that
// already reached a terminal status are silently ignored, and the pipeline is
// only written on insert.
func (s *Store) SaveRun(r *Run) error {
	var (
		pipeline []byte
		sealed   bool
	)
	if len(r.Pipeline) > 0 {
		pipeline = []byte(r.Pipeline)
		if s.sealer != nil {
			blob, err := s.sealer.Seal(pipeline)
			if err != nil {
				return fmt.Errorf("seal pipeline: %w", err)
			}
			pipeline, sealed = blob, true
		}
	}
	var results *string
	if len(r.Results) > 0 {
		v := string(r.Results)
		results = &v
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	in, args := placeholders(terminalStatuses)
	_, err := s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			results = excluded.results,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
		WHERE runs.status NOT IN (`+in+`)`,
		append([]any{r.ID, r.Name, r.Status, r.Reason, r.Policy, pipeline, sealed, results,
			r.CreatedAt, r.StartedAt, r.EndedAt}, args...)...)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := s.scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first, optionally limited to the given statuses.
func (s *Store) ListRuns(statuses ...string) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if len(statuses) > 0 {
		var in string
		in, args = placeholders(statuses)
		query += ` WHERE status IN (` + in + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}
