package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/logging"
	"github.com/TobiSchelling/contentforge/internal/scrape"
)

const articleJSON = `Here you go:
{"title":"Netflix Price Guide","slug":"netflix-price-guide","excerpt":"What Netflix costs.","content":"<h2>Plans</h2><p>Standard costs $15.49.</p>","metaTitle":"Netflix prices","metaDescription":"Every Netflix plan.","category":"guide","tags":["netflix","prices"]}`

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	models  []llm.ModelChoice
	fn      func(ctx context.Context) (string, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, model llm.ModelChoice, _ int, _ float64) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	f.mu.Unlock()
	return f.fn(ctx)
}

type fakeResearcher struct {
	ok  []scrape.SourceResult
	err error
}

func (f *fakeResearcher) FanOut(_ context.Context, _ []scrape.Source, _ int) ([]scrape.SourceResult, []scrape.SourceResult, error) {
	return f.ok, nil, f.err
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newJob(t *testing.T, db *database.DB, input database.JobInput) string {
	t.Helper()
	job, err := db.InsertJob(context.Background(), input, 0)
	require.NoError(t, err)
	return job.ID
}

func returning(s string, err error) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context) (string, error) { return s, err }}
}

func TestExecuteCompletesJob(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pricing := "Netflix Standard $15.49"
	_, err := db.InsertScrapeResult(ctx, &database.ScrapeResult{
		Type:   database.ScrapePricing,
		Status: database.ScrapeCompleted,
		Source: "justwatch",
		Result: &pricing,
	})
	require.NoError(t, err)

	gen := returning(articleJSON, nil)
	research := &fakeResearcher{ok: []scrape.SourceResult{{
		Source: scrape.Source{Name: "US pricing", URL: "https://example.com/us"},
		Result: scrape.Result{Content: "Disney+ costs $9.99", Provider: "firecrawl"},
	}}}
	exec := NewExecutor(db, gen, research, Options{
		Language: "en",
		Sources:  []scrape.Source{{Name: "US pricing", URL: "https://example.com/us"}},
	}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "Netflix price guide", Model: "anthropic"})
	require.NoError(t, exec.Execute(ctx, id))

	job, err := db.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.Output)
	assert.Equal(t, "netflix-price-guide", job.Output.Slug)
	assert.Equal(t, "Netflix Price Guide", job.Output.Title)
	assert.False(t, job.Output.Published)

	article, err := db.GetArticleByID(ctx, job.Output.PostID)
	require.NoError(t, err)
	assert.Equal(t, "en", article.Language)
	assert.Equal(t, database.CategoryGuide, article.Category)
	assert.Equal(t, "anthropic", article.GenerationModel)
	assert.Equal(t, "<h2>Plans</h2><p>Standard costs $15.49.</p>", article.Content)
	assert.Contains(t, article.SourceContext, "Disney+ costs $9.99")
	assert.Contains(t, article.SourceContext, pricing)
	assert.False(t, article.Published)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, llm.ModelAnthropic, gen.models[0])
	assert.Contains(t, gen.prompts[0], "Netflix price guide")
	assert.Contains(t, gen.prompts[0], "Disney+ costs $9.99")
	assert.Equal(t, gen.prompts[0], article.GenerationPrompt)
}

func TestExecutePublishes(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning(articleJSON, nil), nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai", Publish: true})
	require.NoError(t, exec.Execute(context.Background(), id))

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.Output)
	assert.True(t, job.Output.Published)

	article, err := db.GetPublishedArticle(context.Background(), "en", job.Output.Slug)
	require.NoError(t, err)
	assert.NotNil(t, article.PublishedAt)
}

func TestExecuteDegradedOutputStillCompletes(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning("Just some prose about streaming.", nil), nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "ollama"})
	require.NoError(t, exec.Execute(context.Background(), id))

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.True(t, strings.HasPrefix(job.Output.Slug, "article-"))
}

func TestExecuteGenerationFailureFailsJob(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning("", errors.New("upstream 503")), nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	err := exec.Execute(context.Background(), id)
	require.Error(t, err)

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "upstream 503")
	assert.Nil(t, job.Output)

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Articles)
}

func TestExecuteUnknownModelFailsJob(t *testing.T) {
	db := openTestDB(t)
	gen := returning(articleJSON, nil)
	exec := NewExecutor(db, gen, nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "gemini"})
	require.Error(t, exec.Execute(context.Background(), id))

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, job.Status)
	assert.Empty(t, gen.prompts)
}

func TestExecutePanicFailsJob(t *testing.T) {
	db := openTestDB(t)
	gen := &fakeGenerator{fn: func(context.Context) (string, error) { panic("boom") }}
	exec := NewExecutor(db, gen, nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	err := exec.Execute(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, job.Status)
}

func TestExecuteTwiceIsNoop(t *testing.T) {
	db := openTestDB(t)
	gen := returning(articleJSON, nil)
	exec := NewExecutor(db, gen, nil, Options{}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	require.NoError(t, exec.Execute(context.Background(), id))
	assert.ErrorIs(t, exec.Execute(context.Background(), id), ErrJobNotPending)
	assert.Len(t, gen.prompts, 1)

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestExecuteUnknownJob(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning(articleJSON, nil), nil, Options{}, logging.Discard())

	err := exec.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestExecuteResearchFailureIsNotFatal(t *testing.T) {
	db := openTestDB(t)
	research := &fakeResearcher{err: errors.New("all sources failed")}
	exec := NewExecutor(db, returning(articleJSON, nil), research, Options{
		Sources: []scrape.Source{{Name: "x", URL: "https://example.com"}},
	}, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	require.NoError(t, exec.Execute(context.Background(), id))
}

func TestWorkerTimeoutFailsJob(t *testing.T) {
	db := openTestDB(t)
	gen := &fakeGenerator{fn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	exec := NewExecutor(db, gen, nil, Options{}, logging.Discard())
	w := NewWorker(exec, 1, 50*time.Millisecond, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	err := w.Handle(context.Background(), id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobFailed, job.Status)
}

func TestWorkerSubmitSurvivesCallerCancel(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning(articleJSON, nil), nil, Options{}, logging.Discard())
	w := NewWorker(exec, 1, time.Minute, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	ctx, cancel := context.WithCancel(context.Background())
	w.Submit(ctx, id)
	cancel()
	w.Wait()

	job, err := db.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, job.Status)
}

func TestWorkerHandleIgnoresClaimedJob(t *testing.T) {
	db := openTestDB(t)
	exec := NewExecutor(db, returning(articleJSON, nil), nil, Options{}, logging.Discard())
	w := NewWorker(exec, 1, time.Minute, logging.Discard())

	id := newJob(t, db, database.JobInput{Topic: "prices", Model: "openai"})
	ok, err := db.ClaimJob(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NoError(t, w.Handle(context.Background(), id))
}
