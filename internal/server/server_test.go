package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/dispatch"
	"github.com/TobiSchelling/contentforge/internal/logging"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
	"github.com/TobiSchelling/contentforge/internal/ratelimit"
)

const secret = "test-secret"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) Submit(_ context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

type recordingTrigger struct {
	ids []string
}

func (r *recordingTrigger) Trigger(_ context.Context, jobID string) error {
	r.ids = append(r.ids, jobID)
	return nil
}

type testEnv struct {
	db      *database.DB
	trigger *recordingTrigger
	runner  *recordingRunner
	handler http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if opts.Secret == "" {
		opts.Secret = secret
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://example.com"
	}
	opts.Logger = logging.Discard()

	env := &testEnv{db: db, trigger: &recordingTrigger{}, runner: &recordingRunner{}}
	orch := orchestrator.New(db, env.trigger, orchestrator.Options{BaseURL: opts.BaseURL}, logging.Discard())
	env.handler = New(orch, env.runner, db, opts).Handler()
	return env
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) post(path, body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, body, map[string]string{dispatch.SecretHeader: secret})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) insertArticle(t *testing.T, slug string, published bool) int64 {
	t.Helper()
	id, err := e.db.InsertArticle(context.Background(), &database.Article{
		Slug:      slug,
		Language:  "en",
		Title:     "Netflix prices",
		Content:   "<p>body</p>",
		Category:  database.CategoryGuide,
		Tags:      []string{"netflix"},
		Published: published,
	})
	require.NoError(t, err)
	return id
}

func TestPipelineRequiresSecret(t *testing.T) {
	env := newTestEnv(t, Options{})

	missing := env.do(http.MethodPost, "/api/pipeline/start", `{"model":"openai"}`, nil)
	wrong := env.do(http.MethodPost, "/api/pipeline/start", `not json at all`, map[string]string{dispatch.SecretHeader: "nope"})
	executor := env.do(http.MethodPost, "/api/executor/run", `{"jobId":"x"}`, nil)

	for _, rec := range []*httptest.ResponseRecorder{missing, wrong, executor} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
	}
	assert.Empty(t, env.trigger.ids)
	assert.Empty(t, env.runner.ids)
}

func TestStartPhase(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.post("/api/pipeline/start", `{"topic":"Netflix price guide","model":"openai","publish":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "Netflix price guide", body["topic"])
	jobID, _ := body["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, []string{jobID}, env.trigger.ids)

	rec = env.post("/api/pipeline/status", `{"jobId":"`+jobID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobId":"`+jobID+`","status":"pending"}`, rec.Body.String())
}

func TestStartPhaseErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.post("/api/pipeline/start", `{"model":"gemini"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request", decode(t, rec)["error"])

	rec = env.post("/api/pipeline/start", `{"model":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid body", decode(t, rec)["error"])

	rec = env.post("/api/pipeline/translate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown phase", decode(t, rec)["error"])
}

func TestStatusCompletedJob(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	job, err := env.db.InsertJob(ctx, database.JobInput{Topic: "t", Model: "openai"}, 0)
	require.NoError(t, err)
	_, err = env.db.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	_, err = env.db.CompleteJob(ctx, job.ID, database.JobOutput{PostID: 3, Slug: "s", Title: "T"})
	require.NoError(t, err)

	rec := env.post("/api/pipeline/status", `{"jobId":"`+job.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobId":"`+job.ID+`","status":"completed","postId":3,"slug":"s","title":"T","published":false}`, rec.Body.String())
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.post("/api/pipeline/status", `{"jobId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode(t, rec)["error"])
}

func TestPublishAndRead(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.insertArticle(t, "netflix-prices", false)

	rec := env.do(http.MethodGet, "/api/articles/en/netflix-prices", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 2; i++ {
		rec = env.post("/api/pipeline/publish", `{"postId":`+itoa(id)+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"postId":`+itoa(id)+`,"slug":"netflix-prices","title":"Netflix prices","published":true}`, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/api/articles/en/netflix-prices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Netflix prices", body["title"])
	assert.Equal(t, []any{"netflix"}, body["tags"])
	assert.NotNil(t, body["publishedAt"])
}

func TestArticleLanguageFallback(t *testing.T) {
	env := newTestEnv(t, Options{DefaultLanguage: "en"})
	env.insertArticle(t, "netflix-prices", true)

	rec := env.do(http.MethodGet, "/api/articles/de/netflix-prices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "en", decode(t, rec)["language"])

	rec = env.do(http.MethodGet, "/api/articles/de/other", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishPhaseErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.post("/api/pipeline/publish", `{"postId":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post("/api/pipeline/publish", `{"postId":99}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.post("/api/pipeline/images", `{"postId":99}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImagesPhaseWithoutGenerator(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.insertArticle(t, "netflix-prices", false)

	rec := env.post("/api/pipeline/images", `{"postId":`+itoa(id)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"postId":`+itoa(id)+`,"updated":false,"hasFeaturedImage":false}`, rec.Body.String())
}

func TestExecutorRunAccepts(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.post("/api/executor/run", `{"jobId":"job-1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"job-1","accepted":true}`, rec.Body.String())
	assert.Equal(t, []string{"job-1"}, env.runner.ids)

	rec = env.post("/api/executor/run", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSitemap(t *testing.T) {
	env := newTestEnv(t, Options{BaseURL: "https://example.com/"})
	env.insertArticle(t, "netflix-prices", true)
	env.insertArticle(t, "draft", false)

	rec := env.do(http.MethodGet, "/sitemap.xml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), "<loc>https://example.com/en/netflix-prices</loc>")
	assert.NotContains(t, rec.Body.String(), "draft")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestReadAPICORS(t *testing.T) {
	env := newTestEnv(t, Options{CORSOrigins: []string{"https://site.example"}})
	env.insertArticle(t, "netflix-prices", true)

	rec := env.do(http.MethodGet, "/api/articles/en/netflix-prices", "", map[string]string{"Origin": "https://site.example"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://site.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodGet, "/health", "", map[string]string{"Origin": "https://site.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIRateLimited(t *testing.T) {
	limiter := ratelimit.Middleware(ratelimit.Config{
		Counter: ratelimit.NewMemoryCounter(),
		Limit:   1,
		Window:  time.Minute,
	})
	env := newTestEnv(t, Options{RateLimit: limiter})

	first := env.post("/api/pipeline/status", `{"jobId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, first.Code)

	second := env.post("/api/pipeline/status", `{"jobId":"missing"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "rate limit exceeded", decode(t, second)["error"])

	health := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestExecutorRunNotRateLimited(t *testing.T) {
	limiter := ratelimit.Middleware(ratelimit.Config{
		Counter: ratelimit.NewMemoryCounter(),
		Limit:   1,
		Window:  time.Minute,
	})
	env := newTestEnv(t, Options{RateLimit: limiter})

	env.post("/api/pipeline/status", `{"jobId":"missing"}`)
	require.Equal(t, http.StatusTooManyRequests, env.post("/api/pipeline/status", `{"jobId":"missing"}`).Code)

	for i := 0; i < 3; i++ {
		rec := env.post("/api/executor/run", `{"jobId":"job-`+itoa(int64(i))+`"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}
	assert.Len(t, env.runner.ids, 3)
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	limiter := ratelimit.Middleware(ratelimit.Config{
		Counter: ratelimit.NewMemoryCounter(),
		Limit:   2,
		Window:  time.Minute,
	})
	env := newTestEnv(t, Options{RateLimit: limiter})

	rejected := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/articles/en/missing", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+itoa(int64(i)))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	assert.Equal(t, 8, rejected)
}

func TestLocalMediaServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.png"), []byte("png-bytes"), 0o644))
	env := newTestEnv(t, Options{MediaRoute: "/media", MediaDir: dir})

	rec := env.do(http.MethodGet, "/media/cover.png", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	missing := env.do(http.MethodGet, "/media/other.png", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestMediaNotServedWithoutRoute(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/media/cover.png", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArticleList(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.insertArticle(t, "draft", false)
	env.insertArticle(t, "first", true)
	env.insertArticle(t, "second", true)

	rec := env.do(http.MethodGet, "/api/articles/en", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Articles []articleSummary `json:"articles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Articles, 2)
	slugs := []string{body.Articles[0].Slug, body.Articles[1].Slug}
	assert.ElementsMatch(t, []string{"first", "second"}, slugs)

	limited := env.do(http.MethodGet, "/api/articles/en?limit=1", "", nil)
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &body))
	assert.Len(t, body.Articles, 1)

	other := env.do(http.MethodGet, "/api/articles/fr?category=guide", "", nil)
	assert.JSONEq(t, `{"articles":[]}`, other.Body.String())

	bad := env.do(http.MethodGet, "/api/articles/en?category=opinion", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	badLimit := env.do(http.MethodGet, "/api/articles/en?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, badLimit.Code)
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	orch := orchestrator.New(db, nil, orchestrator.Options{}, logging.Discard())
	h := New(orch, nil, db, Options{Logger: logging.Discard()}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/pipeline/start", strings.NewReader(`{"model":"openai"}`))
	req.Header.Set(dispatch.SecretHeader, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
