// Package pipeline runs article-generation jobs outside the request path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/content"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/scrape"
)

// ErrJobNotPending is returned when another executor already claimed the job.
var ErrJobNotPending = errors.New("job is not pending")

// RecentWindow is how far back scrape results ground a job.
const RecentWindow = 7 * 24 * time.Hour

// Store is the persistence the executor needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*database.Job, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	CompleteJob(ctx context.Context, id string, output database.JobOutput) (bool, error)
	FailJob(ctx context.Context, id, message string) (bool, error)
	GetRecentScrapeResults(ctx context.Context, since time.Time, types ...database.ScrapeType) ([]database.ScrapeResult, error)
	InsertArticle(ctx context.Context, a *database.Article) (int64, error)
}

// Generator produces text with the selected model.
type Generator interface {
	Generate(ctx context.Context, prompt string, model llm.ModelChoice, maxTokens int, temperature float64) (string, error)
}

// Researcher scrapes grounding sources concurrently.
type Researcher interface {
	FanOut(ctx context.Context, sources []scrape.Source, concurrency int) ([]scrape.SourceResult, []scrape.SourceResult, error)
}

// Options configures an Executor.
type Options struct {
	MaxTokens   int
	Temperature float64
	Language    string
	Sources     []scrape.Source
	Concurrency int
}

// OptionsFromConfig maps configuration onto executor options.
func OptionsFromConfig(cfg *config.Config) Options {
	sources := make([]scrape.Source, len(cfg.Scrape.ResearchSources))
	for i, s := range cfg.Scrape.ResearchSources {
		sources[i] = scrape.Source{Name: s.Name, URL: s.URL}
	}
	lang := cfg.Generation.Language
	if lang == "" {
		lang = cfg.Server.DefaultLanguage
	}
	return Options{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Language:    lang,
		Sources:     sources,
		Concurrency: cfg.Scrape.Concurrency,
	}
}

// Executor turns one pending job into a stored article.
type Executor struct {
	store      Store
	generator  Generator
	researcher Researcher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an executor. researcher may be nil.
func NewExecutor(store Store, generator Generator, researcher Researcher, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Executor{
		store:      store,
		generator:  generator,
		researcher: researcher,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute claims the job, generates and stores its article, and records the
// terminal state. Once the job is claimed every error, including a panic,
// ends in a failed job.
func (e *Executor) Execute(ctx context.Context, jobID string) (err error) {
	claimed, err := e.store.ClaimJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("claiming job %s: %w", jobID, err)
	}
	if !claimed {
		if _, getErr := e.store.GetJob(ctx, jobID); errors.Is(getErr, database.ErrNotFound) {
			return fmt.Errorf("job %s: %w", jobID, database.ErrNotFound)
		}
		e.logger.Info("job already claimed, skipping", "job_id", jobID)
		return ErrJobNotPending
	}

	log := e.logger.With("job_id", jobID)
	log.Info("job started")
	started := e.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
			e.fail(ctx, log, jobID, err)
		}
	}()

	output, err := e.run(ctx, log, jobID)
	if err != nil {
		e.fail(ctx, log, jobID, err)
		return err
	}

	ok, err := e.store.CompleteJob(ctx, jobID, *output)
	if err != nil {
		e.fail(ctx, log, jobID, err)
		return err
	}
	if !ok {
		log.Warn("job left processing before completion")
	}
	log.Info("job completed", "post_id", output.PostID, "slug", output.Slug, "duration", e.now().Sub(started).Round(time.Millisecond))
	return nil
}

func (e *Executor) run(ctx context.Context, log *slog.Logger, jobID string) (*database.JobOutput, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	model, err := llm.ParseModelChoice(job.Input.Model)
	if err != nil {
		return nil, err
	}

	recent, err := e.store.GetRecentScrapeResults(ctx, e.now().Add(-RecentWindow), database.ScrapePricing, database.ScrapeNews)
	if err != nil {
		return nil, fmt.Errorf("loading scrape results: %w", err)
	}

	var research []scrape.SourceResult
	if e.researcher != nil && len(e.opts.Sources) > 0 {
		ok, failed, err := e.researcher.FanOut(ctx, e.opts.Sources, e.opts.Concurrency)
		if err != nil {
			log.Warn("research scrape failed", "error", err)
		}
		if len(failed) > 0 {
			log.Info("research partially failed", "succeeded", len(ok), "failed", len(failed))
		}
		research = ok
	}

	category := GuessCategory(job.Input.Topic)
	prompt, grounding := BuildPrompt(job.Input.Topic, e.opts.Language, category, recent, research)

	raw, err := e.generator.Generate(ctx, prompt, model, e.opts.MaxTokens, e.opts.Temperature)
	if err != nil {
		return nil, fmt.Errorf("generating article: %w", err)
	}

	parsed := content.Parse(raw, category)
	if parsed.Degraded {
		log.Warn("generation output was not structured, stored as raw text")
	}

	article := &database.Article{
		Slug:             parsed.Slug,
		Language:         e.opts.Language,
		Title:            parsed.Title,
		Excerpt:          parsed.Excerpt,
		Content:          parsed.Content,
		MetaTitle:        parsed.MetaTitle,
		MetaDescription:  parsed.MetaDescription,
		Category:         parsed.Category,
		Tags:             parsed.Tags,
		GenerationModel:  string(model),
		GenerationPrompt: prompt,
		SourceContext:    grounding,
		Published:        job.Input.Publish,
	}
	id, err := e.store.InsertArticle(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("storing article: %w", err)
	}

	return &database.JobOutput{
		PostID:    id,
		Slug:      article.Slug,
		Title:     article.Title,
		Published: article.Published,
	}, nil
}

// fail records the failure. Its own errors are logged and swallowed.
func (e *Executor) fail(ctx context.Context, log *slog.Logger, jobID string, cause error) {
	log.Error("job failed", "error", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	ok, err := e.store.FailJob(ctx, jobID, cause.Error())
	if err != nil {
		log.Error("recording job failure", "error", err)
		return
	}
	if !ok {
		log.Warn("job left processing before failure was recorded")
	}
}
