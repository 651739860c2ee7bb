package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Schedule fires a named pipeline on a cron, interval or one-shot schedule.
type Schedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Pipeline   string     `json:"pipeline"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, name, pipeline, schedule, status, next_run_at, last_run_at,
	last_run_id, last_status, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var lastRunID, lastStatus, lastError *string
	err := scanner.Scan(&sc.ID, &sc.Name, &sc.Pipeline, &sc.Schedule, &sc.Status, &sc.NextRunAt, &sc.LastRunAt,
		&lastRunID, &lastStatus, &lastError, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastRunID != nil {
		sc.LastRunID = *lastRunID
	}
	if lastStatus != nil {
		sc.LastStatus = *lastStatus
	}
	if lastError != nil {
		sc.LastError = *lastError
	}
	return sc, nil
}

func (s *Store) SaveSchedule(sc *Schedule) error {
	if sc.Status == "" {
		sc.Status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, name, pipeline, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pipeline = excluded.pipeline,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.Name, sc.Pipeline, sc.Schedule, sc.Status, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	return s.querySchedules(`
		SELECT `+scheduleColumns+` FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateScheduleRun(id, runID, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_run_id = ?, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, runID, lastStatus, lastError, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	return err
}

// DeleteSchedulesNotIn removes every schedule whose id is not listed.
func (s *Store) DeleteSchedulesNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	in, args := placeholders(ids)
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id NOT IN (`+in+`)`, args...)
	return err
}
