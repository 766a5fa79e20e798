package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const jobColumns = `id, type, status, priority, input, output, error, attempts, max_attempts, created_at, processed_at`

// InsertJob creates a pending job and returns it.
func (db *DB) InsertJob(ctx context.Context, input JobInput, priority int) (*Job, error) {
	payload, err := encodeJSON(input)
	if err != nil {
		return nil, fmt.Errorf("encoding job input: %w", err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        JobType,
		Status:      JobPending,
		Priority:    priority,
		Input:       input,
		MaxAttempts: 1,
		CreatedAt:   db.now().UTC(),
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, priority, input, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID, job.Type, job.Status, job.Priority, payload, job.MaxAttempts, formatTime(job.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	return job, nil
}

// GetJob returns a job by id, or ErrNotFound.
func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimJob moves a pending job to processing and counts the attempt.
// It returns false when the job was not pending.
func (db *DB) ClaimJob(ctx context.Context, id string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'processing', attempts = attempts + 1
		WHERE id = ? AND status = 'pending'`, id,
	)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	return affected(result)
}

// CompleteJob moves a processing job to completed with its output.
// It returns false when the job was not processing.
func (db *DB) CompleteJob(ctx context.Context, id string, output JobOutput) (bool, error) {
	payload, err := encodeJSON(output)
	if err != nil {
		return false, fmt.Errorf("encoding job output: %w", err)
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', output = ?, processed_at = ?
		WHERE id = ? AND status = 'processing'`,
		payload, formatTime(db.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("completing job: %w", err)
	}
	return affected(result)
}

// FailJob moves a processing job to failed with an error message.
// It returns false when the job was not processing.
func (db *DB) FailJob(ctx context.Context, id, message string) (bool, error) {
	if message == "" {
		message = "unknown error"
	}
	result, err := db.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error = ?, processed_at = ?
		WHERE id = ? AND status = 'processing'`,
		message, formatTime(db.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("failing job: %w", err)
	}
	return affected(result)
}

// ListJobs returns the most recent jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var status, input, createdAt string
	var output, jobErr, processedAt *string
	err := s.Scan(&j.ID, &j.Type, &status, &j.Priority, &input, &output, &jobErr,
		&j.Attempts, &j.MaxAttempts, &createdAt, &processedAt)
	if err != nil {
		return nil, err
	}

	j.Status = JobStatus(status)
	if err := json.Unmarshal([]byte(input), &j.Input); err != nil {
		return nil, fmt.Errorf("decoding input of job %s: %w", j.ID, err)
	}
	if output != nil {
		var out JobOutput
		if err := json.Unmarshal([]byte(*output), &out); err != nil {
			return nil, fmt.Errorf("decoding output of job %s: %w", j.ID, err)
		}
		j.Output = &out
	}
	j.Error = jobErr
	j.CreatedAt = parseTime(createdAt)
	j.ProcessedAt = parseTimePtr(processedAt)
	return &j, nil
}
