package db

import (
	"database/sql"
	"fmt"

	"github.com/dtnitsch/wcmr/models"
)

// RecordAttempt stores one task attempt. It satisfies mapreduce.AttemptRecorder.
func (db *DB) RecordAttempt(a models.TaskAttempt) error {
	var errToStore interface{}
	if a.Error != "" {
		errToStore = a.Error
	}

	_, err := db.Exec(`
		INSERT INTO task_attempts (job_id, phase, task, attempt, location, status, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.JobID, string(a.Phase), a.Task, a.Attempt, a.Location, a.Status, errToStore, a.Started, a.Finished)
	if err != nil {
		return fmt.Errorf("failed to record task attempt: %w", err)
	}
	return nil
}

// GetAttempts returns every attempt of a job ordered by phase, task and attempt
func (db *DB) GetAttempts(jobID string) ([]models.TaskAttempt, error) {
	rows, err := db.Query(`
		SELECT job_id, phase, task, attempt, location, status, error_message, started_at, finished_at
		FROM task_attempts
		WHERE job_id = ?
		ORDER BY CASE phase WHEN 'map' THEN 0 ELSE 1 END, task, attempt
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []models.TaskAttempt
	for rows.Next() {
		var a models.TaskAttempt
		var phase string
		var location, errMsg sql.NullString
		if err := rows.Scan(&a.JobID, &phase, &a.Task, &a.Attempt, &location, &a.Status, &errMsg, &a.Started, &a.Finished); err != nil {
			return nil, fmt.Errorf("failed to scan task attempt: %w", err)
		}
		a.Phase = models.Phase(phase)
		a.Location = location.String
		a.Error = errMsg.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// FailedAttemptCount returns the number of failed attempts per phase
func (db *DB) FailedAttemptCount(jobID string) (map[models.Phase]int, error) {
	rows, err := db.Query(`
		SELECT phase, COUNT(*) FROM task_attempts
		WHERE job_id = ? AND status = ?
		GROUP BY phase
	`, jobID, models.AttemptFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[models.Phase]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[models.Phase(phase)] = n
	}
	return counts, rows.Err()
}
