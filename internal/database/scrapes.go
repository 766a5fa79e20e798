package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const scrapeColumns = "id, type, status, source, result, error, started_at, completed_at, created_at"

// InsertScrapeResult records the outcome of one scraping run.
func (db *DB) InsertScrapeResult(ctx context.Context, r *ScrapeResult) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = db.now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.CreatedAt
	}
	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO scrape_results (type, status, source, result, error, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Type), string(r.Status), r.Source, r.Result, r.Error,
		formatTime(r.StartedAt), completedAt, formatTime(r.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting scrape result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetRecentScrapeResults returns completed scrape results created at or
// after since, newest first. An empty types list matches every type.
func (db *DB) GetRecentScrapeResults(ctx context.Context, since time.Time, types ...ScrapeType) ([]ScrapeResult, error) {
	q := sq.Select(scrapeColumns).
		From("scrape_results").
		Where(sq.Eq{"status": string(ScrapeCompleted)}).
		Where(sq.GtOrEq{"created_at": formatTime(since)}).
		OrderBy("created_at DESC", "id DESC")
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q = q.Where(sq.Eq{"type": names})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building scrape query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScrapeResult
	for rows.Next() {
		var r ScrapeResult
		var typ, status, startedAt, createdAt string
		var completedAt *string
		if err := rows.Scan(&r.ID, &typ, &status, &r.Source, &r.Result, &r.Error,
			&startedAt, &completedAt, &createdAt); err != nil {
			return nil, err
		}
		r.Type = ScrapeType(typ)
		r.Status = ScrapeStatus(status)
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTimePtr(completedAt)
		r.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}
