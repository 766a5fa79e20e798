// Package server exposes the pipeline trigger API, the executor endpoint and
// the published-article read contracts over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
)

// Phases are the request-scoped pipeline operations.
type Phases interface {
	Start(ctx context.Context, topic, model string, publish bool) (*orchestrator.StartResult, error)
	Status(ctx context.Context, jobID string) (*orchestrator.StatusResult, error)
	Images(ctx context.Context, postID int64) (*orchestrator.ImagesResult, error)
	Publish(ctx context.Context, postID int64) (*orchestrator.PublishResult, error)
}

// Runner executes a job in the background.
type Runner interface {
	Submit(ctx context.Context, jobID string)
}

// Reader serves published articles.
type Reader interface {
	Ping(ctx context.Context) error
	GetPublishedArticle(ctx context.Context, language, slug string) (*database.Article, error)
	ListArticles(ctx context.Context, f database.ArticleFilter) ([]database.Article, error)
	ListSitemapEntries(ctx context.Context) ([]database.SitemapEntry, error)
}

// Options configures the server.
type Options struct {
	Secret          string
	DefaultLanguage string
	BaseURL         string
	CORSOrigins     []string
	// TrustedProxies may set the client address through forwarding headers.
	// None are trusted when empty.
	TrustedProxies []string
	// MediaRoute serves files from MediaDir when both are set.
	MediaRoute string
	MediaDir   string
	// RateLimit guards the read and pipeline APIs when set.
	RateLimit gin.HandlerFunc
	Logger    *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	phases  Phases
	runner  Runner
	reader  Reader
	opts    Options
	logger  *slog.Logger
	engine  *gin.Engine
	handler http.Handler
}

// New creates a Server with every route registered.
func New(phases Phases, runner Runner, reader Reader, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		phases: phases,
		runner: runner,
		reader: reader,
		opts:   opts,
		logger: opts.Logger,
		engine: gin.New(),
	}
	if err := s.engine.SetTrustedProxies(opts.TrustedProxies); err != nil {
		s.logger.Warn("invalid trusted proxies, trusting none", "proxies", opts.TrustedProxies, "error", err)
		_ = s.engine.SetTrustedProxies(nil)
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))
	s.routes()

	readCORS := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead},
	}).Handler(s.engine)

	s.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isReadPath(r.URL.Path) {
			readCORS.ServeHTTP(w, r)
			return
		}
		s.engine.ServeHTTP(w, r)
	})
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/sitemap.xml", s.handleSitemap)
	if s.opts.MediaRoute != "" && s.opts.MediaDir != "" {
		s.engine.Static(s.opts.MediaRoute, s.opts.MediaDir)
	}

	// The executor is only called by the dispatcher, so it sits outside the limiter.
	executor := s.engine.Group("/api/executor", s.requireSecret)
	executor.POST("/run", s.handleExecutorRun)

	api := s.engine.Group("/api")
	if s.opts.RateLimit != nil {
		api.Use(s.opts.RateLimit)
	}
	api.GET("/articles/:lang", s.handleArticleList)
	api.GET("/articles/:lang/:slug", s.handleArticle)

	pipeline := api.Group("/pipeline", s.requireSecret)
	pipeline.POST("/:phase", s.handlePhase)
}

func isReadPath(path string) bool {
	return path == "/sitemap.xml" || strings.HasPrefix(path, "/api/articles/")
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).Round(time.Microsecond),
			"client_ip", c.ClientIP(),
		)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, msg, details string) {
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Details: details})
}

// fail maps an orchestrator error onto a response.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, database.ErrNotFound):
		abort(c, http.StatusNotFound, "not found", err.Error())
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		abort(c, http.StatusInternalServerError, "internal error", "")
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
