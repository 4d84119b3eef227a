package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dtnitsch/wcmr/models"
	"gopkg.in/yaml.v3"
)

// ErrJobNotFound is returned when a job id is not in the history.
var ErrJobNotFound = errors.New("job not found")

// Job is one recorded run.
type Job struct {
	JobID          string
	Name           string
	Status         string
	OutputDir      string
	Config         string
	ErrorMessage   string
	SplitCount     int
	PartitionCount int
	CreatedAt      time.Time
	FinishedAt     time.Time // zero while running
	Inputs         []string
	TopKeywords    map[string]int
}

// Duration returns how long the job ran, or zero if it has not finished.
func (j *Job) Duration() time.Duration {
	if j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.CreatedAt)
}

// CreateJob records a new running job with its config and inputs
func (db *DB) CreateJob(jobID, name string, cfg models.JobConfig, createdAt time.Time) error {
	configYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO jobs (job_id, name, status, output_dir, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, name, models.JobRunning, cfg.Output, string(configYAML), createdAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	for i, location := range cfg.Inputs {
		if _, err := tx.Exec("INSERT INTO job_inputs (job_id, position, location) VALUES (?, ?, ?)", jobID, i, location); err != nil {
			return fmt.Errorf("failed to insert job input: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

// FinishJob stores the final status of a job
func (db *DB) FinishJob(jobID, status, errMsg string, splitCount, partitionCount int, top []models.FinalPair, finishedAt time.Time) error {
	var keywordsJSON interface{}
	if len(top) > 0 {
		keywords := make(map[string]int, len(top))
		for _, p := range top {
			keywords[p.Key] = p.Total
		}
		data, err := json.Marshal(keywords)
		if err != nil {
			return fmt.Errorf("failed to marshal top keywords: %w", err)
		}
		keywordsJSON = string(data)
	}

	var errToStore interface{}
	if errMsg != "" {
		errToStore = errMsg
	}

	result, err := db.Exec(`
		UPDATE jobs
		SET status = ?, error_message = ?, split_count = ?, partition_count = ?, top_keywords = ?, finished_at = ?
		WHERE job_id = ?
	`, status, errToStore, splitCount, partitionCount, keywordsJSON, finishedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// SetCounters replaces the counters of a job
func (db *DB) SetCounters(jobID string, counters map[string]int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for name, value := range counters {
		_, err := tx.Exec(`
			INSERT INTO job_counters (job_id, name, value)
			VALUES (?, ?, ?)
			ON CONFLICT(job_id, name) DO UPDATE SET value = excluded.value
		`, jobID, name, value)
		if err != nil {
			return fmt.Errorf("failed to set counter %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit counters: %w", err)
	}
	return nil
}

// GetCounters returns the counters of a job
func (db *DB) GetCounters(jobID string) (map[string]int64, error) {
	rows, err := db.Query("SELECT name, value FROM job_counters WHERE job_id = ?", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counters := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters[name] = value
	}
	return counters, rows.Err()
}

// CounterNames returns counter names in a stable order for display
func CounterNames(counters map[string]int64) []string {
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const jobColumns = `job_id, name, status, output_dir, config, error_message,
	split_count, partition_count, created_at, finished_at, top_keywords`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var errMsg, keywords sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(&job.JobID, &job.Name, &job.Status, &job.OutputDir, &job.Config, &errMsg,
		&job.SplitCount, &job.PartitionCount, &job.CreatedAt, &finishedAt, &keywords)
	if err != nil {
		return nil, err
	}

	job.ErrorMessage = errMsg.String
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &job.TopKeywords); err != nil {
			return nil, fmt.Errorf("failed to parse top keywords: %w", err)
		}
	}
	return &job, nil
}

// GetJob retrieves a job and its inputs by id
func (db *DB) GetJob(jobID string) (*Job, error) {
	job, err := scanJob(db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", jobID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rows, err := db.Query("SELECT location FROM job_inputs WHERE job_id = ? ORDER BY position", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job inputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var location string
		if err := rows.Scan(&location); err != nil {
			return nil, fmt.Errorf("failed to scan job input: %w", err)
		}
		job.Inputs = append(job.Inputs, location)
	}
	return job, rows.Err()
}

// ListJobs returns the most recent jobs first. limit <= 0 returns all of them.
func (db *DB) ListJobs(limit int) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs ORDER BY created_at DESC, rowid DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job and everything recorded for it
func (db *DB) DeleteJob(jobID string) error {
	result, err := db.Exec("DELETE FROM jobs WHERE job_id = ?", jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}
