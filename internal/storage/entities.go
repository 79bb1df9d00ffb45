package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nestbot/internal/metrics"
)

// MaxLatestPosts caps how many news posts a caller may ask for.
const MaxLatestPosts = 5

// PostgresEntityReader reads entity counts, news and events. The tables
// belong to the main site; the bot never writes them.
type PostgresEntityReader struct {
	db *sql.DB
}

func NewPostgresEntityReader(db *sql.DB) *PostgresEntityReader {
	return &PostgresEntityReader{db: db}
}

func (r *PostgresEntityReader) count(ctx context.Context, op, query string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, query).Scan(&n)
	metrics.DatabaseOperations.WithLabelValues(op, metrics.Status(err)).Inc()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}

func (r *PostgresEntityReader) CountActiveProjects(ctx context.Context) (int, error) {
	return r.count(ctx, "count_active_projects", `SELECT COUNT(*) FROM owasp_projects WHERE is_active = TRUE`)
}

func (r *PostgresEntityReader) CountActiveChapters(ctx context.Context) (int, error) {
	return r.count(ctx, "count_active_chapters", `SELECT COUNT(*) FROM owasp_chapters WHERE is_active = TRUE`)
}

func (r *PostgresEntityReader) CountOpenIssues(ctx context.Context) (int, error) {
	return r.count(ctx, "count_open_issues", `SELECT COUNT(*) FROM github_issues WHERE state = 'open'`)
}

func (r *PostgresEntityReader) LatestPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 || limit > MaxLatestPosts {
		limit = MaxLatestPosts
	}

	query := `
		SELECT title, url, author_name, published_at
		FROM owasp_posts
		WHERE published_at IS NOT NULL
		ORDER BY published_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	metrics.DatabaseOperations.WithLabelValues("latest_posts", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.Title, &p.URL, &p.AuthorName, &p.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

// UpcomingEvents returns events starting on or after today, soonest first.
func (r *PostgresEntityReader) UpcomingEvents(ctx context.Context, today time.Time) ([]Event, error) {
	query := `
		SELECT key, name, url, start_date, COALESCE(end_date, start_date),
			   COALESCE(suggested_location, ''), COALESCE(summary, '')
		FROM owasp_events
		WHERE start_date >= $1
		ORDER BY start_date ASC, name ASC
	`

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := r.db.QueryContext(ctx, query, day)
	metrics.DatabaseOperations.WithLabelValues("upcoming_events", metrics.Status(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to get upcoming events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Key, &e.Name, &e.URL, &e.StartDate, &e.EndDate, &e.Location, &e.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
