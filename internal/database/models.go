package database

import (
	"encoding/json"
	"time"
)

// JobType is the only job shape the pipeline runs.
const JobType = "article-generation"

// JobStatus is a state in the job lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is one queued request to produce an article.
type Job struct {
	ID          string
	Type        string
	Status      JobStatus
	Priority    int
	Input       JobInput
	Output      *JobOutput // non-nil iff Status == JobCompleted
	Error       *string    // non-nil iff Status == JobFailed
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// JobInput is the serialized parameters of a job.
type JobInput struct {
	Topic   string `json:"topic"`
	Model   string `json:"model"`
	Publish bool   `json:"publish"`
}

// JobOutput is the serialized result of a completed job.
type JobOutput struct {
	PostID    int64  `json:"postId"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Published bool   `json:"published"`
}

// ScrapeType classifies scraping runs.
type ScrapeType string

const (
	ScrapePricing ScrapeType = "pricing"
	ScrapeNews    ScrapeType = "news"
)

// ScrapeStatus is the outcome of a scraping run.
type ScrapeStatus string

const (
	ScrapeCompleted ScrapeStatus = "completed"
	ScrapeFailed    ScrapeStatus = "failed"
)

// ScrapeResult is the output of one scraping run.
type ScrapeResult struct {
	ID          int64
	Type        ScrapeType
	Status      ScrapeStatus
	Source      string
	Result      *string
	Error       *string
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// HasResult reports whether the run produced non-empty text.
func (s ScrapeResult) HasResult() bool {
	return s.Result != nil && *s.Result != ""
}

// Category is the editorial category of an article.
type Category string

const (
	CategoryNews       Category = "news"
	CategoryGuide      Category = "guide"
	CategoryComparison Category = "comparison"
	CategoryDeal       Category = "deal"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNews, CategoryGuide, CategoryComparison, CategoryDeal:
		return true
	}
	return false
}

// Article is a generated blog post.
type Article struct {
	ID               int64
	Slug             string
	Language         string
	Title            string
	Excerpt          string
	Content          string
	MetaTitle        string
	MetaDescription  string
	Category         Category
	Tags             []string
	FeaturedImage    *string
	GenerationModel  string
	GenerationPrompt string
	SourceContext    string
	Published        bool
	PublishedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SitemapEntry is one published (language, slug) pair.
type SitemapEntry struct {
	Language  string
	Slug      string
	UpdatedAt time.Time
}

// Stats contains aggregate database statistics.
type Stats struct {
	PendingJobs       int
	ProcessingJobs    int
	CompletedJobs     int
	FailedJobs        int
	Articles          int
	PublishedArticles int
	ScrapeResults     int
}

// Fixed-width layout keeps stored timestamps lexically ordered.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
