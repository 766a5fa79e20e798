// Package orchestrator implements the request-scoped pipeline phases: start,
// status, images and publish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/dispatch"
	"github.com/TobiSchelling/contentforge/internal/imagegen"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/media"
	"github.com/TobiSchelling/contentforge/internal/notify"
	"github.com/TobiSchelling/contentforge/internal/pipeline"
	"github.com/TobiSchelling/contentforge/internal/topic"
)

// ErrInvalidRequest marks input the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

const notifyTimeout = 10 * time.Second

// Store is the persistence the orchestrator needs.
type Store interface {
	InsertJob(ctx context.Context, input database.JobInput, priority int) (*database.Job, error)
	GetJob(ctx context.Context, id string) (*database.Job, error)
	GetRecentScrapeResults(ctx context.Context, since time.Time, types ...database.ScrapeType) ([]database.ScrapeResult, error)
	GetArticleByID(ctx context.Context, id int64) (*database.Article, error)
	SetFeaturedImage(ctx context.Context, id int64, ref string) (bool, error)
	PublishArticle(ctx context.Context, id int64) (bool, error)
}

// ImageGenerator is an image backend that may lack credentials.
type ImageGenerator interface {
	imagegen.Generator
	IsConfigured() bool
}

// Orchestrator runs the pipeline phases.
type Orchestrator struct {
	store    Store
	trigger  dispatch.Trigger
	images   ImageGenerator
	media    media.Store
	notifier notify.Notifier
	baseURL  string
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// Options holds the optional collaborators. Nil fields disable the feature.
type Options struct {
	Images   ImageGenerator
	Media    media.Store
	Notifier notify.Notifier
	BaseURL  string
}

// New creates an orchestrator.
func New(store Store, trigger dispatch.Trigger, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		trigger:  trigger,
		images:   opts.Images,
		media:    opts.Media,
		notifier: opts.Notifier,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		logger:   logger,
		now:      time.Now,
	}
}

// StartResult is returned by Start.
type StartResult struct {
	JobID  string             `json:"jobId"`
	Topic  string             `json:"topic"`
	Status database.JobStatus `json:"status"`
}

// Start queues a job and triggers execution without waiting for it. A
// trigger failure is logged and leaves the job pending.
func (o *Orchestrator) Start(ctx context.Context, requestedTopic, model string, publish bool) (*StartResult, error) {
	choice, err := llm.ParseModelChoice(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	t := strings.TrimSpace(requestedTopic)
	if topic.IsAuto(t) {
		recent, err := o.store.GetRecentScrapeResults(ctx, o.now().Add(-pipeline.RecentWindow), database.ScrapePricing, database.ScrapeNews)
		if err != nil {
			return nil, fmt.Errorf("loading scrape results: %w", err)
		}
		t = topic.Select(recent, o.now())
	}

	job, err := o.store.InsertJob(ctx, database.JobInput{Topic: t, Model: string(choice), Publish: publish}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if o.trigger != nil {
		if err := o.trigger.Trigger(ctx, job.ID); err != nil {
			o.logger.Warn("trigger failed, job stays pending", "job_id", job.ID, "error", err)
		}
	}

	o.logger.Info("job queued", "job_id", job.ID, "topic", t, "model", choice)
	return &StartResult{JobID: job.ID, Topic: t, Status: database.JobPending}, nil
}

// StatusResult reports a job's progress.
type StatusResult struct {
	JobID     string             `json:"jobId"`
	Status    database.JobStatus `json:"status"`
	PostID    *int64             `json:"postId,omitempty"`
	Slug      string             `json:"slug,omitempty"`
	Title     string             `json:"title,omitempty"`
	Published *bool              `json:"published,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Status reads the job row.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*StatusResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalidRequest)
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}

	res := &StatusResult{JobID: job.ID, Status: job.Status}
	switch job.Status {
	case database.JobCompleted:
		if out := job.Output; out != nil {
			res.PostID = &out.PostID
			res.Slug = out.Slug
			res.Title = out.Title
			res.Published = &out.Published
		}
	case database.JobFailed:
		if job.Error != nil {
			res.Error = *job.Error
		}
	}
	return res, nil
}

// ImagesResult reports featured-image attachment.
type ImagesResult struct {
	PostID           int64 `json:"postId"`
	Updated          bool  `json:"updated"`
	HasFeaturedImage bool  `json:"hasFeaturedImage"`
}

// Images generates and attaches a featured image when the article has none.
// Without a configured generator and store it reports the current state.
func (o *Orchestrator) Images(ctx context.Context, postID int64) (*ImagesResult, error) {
	article, err := o.store.GetArticleByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("article %d: %w", postID, err)
	}

	res := &ImagesResult{PostID: postID, HasFeaturedImage: article.FeaturedImage != nil}
	if res.HasFeaturedImage {
		return res, nil
	}
	if o.images == nil || !o.images.IsConfigured() || o.media == nil {
		o.logger.Info("image generation not configured", "post_id", postID)
		return res, nil
	}

	img, err := o.images.Generate(ctx, imagegen.Prompt(article.Title, article.Category))
	if err != nil {
		return nil, fmt.Errorf("generating image: %w", err)
	}
	key := fmt.Sprintf("articles/%d%s", postID, media.Extension(img.ContentType))
	ref, err := o.media.Put(ctx, key, img.Data, img.ContentType)
	if err != nil {
		return nil, fmt.Errorf("storing image: %w", err)
	}
	attached, err := o.store.SetFeaturedImage(ctx, postID, ref)
	if err != nil {
		return nil, fmt.Errorf("attaching image: %w", err)
	}

	res.HasFeaturedImage = true
	if !attached {
		o.logger.Info("featured image already attached by another request", "post_id", postID)
		return res, nil
	}
	o.logger.Info("featured image attached", "post_id", postID, "ref", ref)
	res.Updated = true
	return res, nil
}

// PublishResult reports the published article.
type PublishResult struct {
	PostID    int64  `json:"postId"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Published bool   `json:"published"`
}

// Publish marks the article published. Repeating it changes nothing and
// does not notify again.
func (o *Orchestrator) Publish(ctx context.Context, postID int64) (*PublishResult, error) {
	changed, err := o.store.PublishArticle(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("article %d: %w", postID, err)
	}
	article, err := o.store.GetArticleByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("article %d: %w", postID, err)
	}

	if changed {
		o.logger.Info("article published", "post_id", postID, "slug", article.Slug)
		o.notify(ctx, article)
	}
	return &PublishResult{PostID: article.ID, Slug: article.Slug, Title: article.Title, Published: true}, nil
}

func (o *Orchestrator) notify(ctx context.Context, a *database.Article) {
	if o.notifier == nil {
		return
	}
	event := notify.Event{
		ArticleID: a.ID,
		Slug:      a.Slug,
		Title:     a.Title,
		Language:  a.Language,
		URL:       fmt.Sprintf("%s/%s/%s", o.baseURL, a.Language, a.Slug),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := o.notifier.ArticlePublished(ctx, event); err != nil {
			o.logger.Warn("publish notification failed", "post_id", event.ArticleID, "error", err)
		}
	}()
}

// Wait blocks until pending notifications finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
