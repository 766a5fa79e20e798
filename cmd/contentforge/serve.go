package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/dispatch"
	"github.com/TobiSchelling/contentforge/internal/imagegen"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/media"
	"github.com/TobiSchelling/contentforge/internal/notify"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
	"github.com/TobiSchelling/contentforge/internal/pipeline"
	"github.com/TobiSchelling/contentforge/internal/ratelimit"
	"github.com/TobiSchelling/contentforge/internal/scrape"
	"github.com/TobiSchelling/contentforge/internal/server"
)

const inlineQueueSize = 64

// --- serve command ---

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		secret := cfg.PipelineSecret()
		if secret == "" {
			logger.Warn("pipeline secret not set, every pipeline request will be rejected", "env", cfg.Server.SecretEnv)
		}

		worker := pipeline.NewWorker(newExecutor(db), cfg.Dispatch.Workers, cfg.Dispatch.JobTimeout, logger)
		g, ctx := errgroup.WithContext(cmd.Context())

		var trigger dispatch.Trigger
		switch cfg.Dispatch.Mode {
		case "http":
			trigger = dispatch.NewHTTPTrigger(cfg.Dispatch.ExecutorURL, secret)
		case "amqp":
			q, err := dispatch.DialAMQP(os.Getenv(cfg.Dispatch.AMQPURLEnv), cfg.Dispatch.Queue, logger)
			if err != nil {
				return err
			}
			defer q.Close()
			trigger = q
		case "inline":
			q := dispatch.NewMemoryQueue(inlineQueueSize)
			trigger = q
			g.Go(func() error { return worker.Run(ctx, q) })
		}

		orch, err := newOrchestrator(db, trigger)
		if err != nil {
			return err
		}

		limiter, closeLimiter := newRateLimiter(ctx)
		defer closeLimiter()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		gin.SetMode(gin.ReleaseMode)
		srv := server.New(orch, worker, db, server.Options{
			Secret:          secret,
			DefaultLanguage: cfg.Server.DefaultLanguage,
			BaseURL:         cfg.Server.BaseURL,
			CORSOrigins:     cfg.Server.CORSOrigins,
			TrustedProxies:  cfg.Server.TrustedProxies,
			MediaRoute:      cfg.LocalMediaRoute(),
			MediaDir:        cfg.MediaDir(),
			RateLimit:       limiter,
			Logger:          logger,
		})

		fmt.Printf("Starting server at http://%s (dispatch: %s)\n", addr, cfg.Dispatch.Mode)
		fmt.Println("Press Ctrl+C to stop")
		g.Go(func() error { return srv.Serve(ctx, addr) })

		err = g.Wait()
		worker.Wait()
		orch.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (overrides server.addr)")
}

// --- worker command ---

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume jobs from the AMQP queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		q, err := dispatch.DialAMQP(os.Getenv(cfg.Dispatch.AMQPURLEnv), cfg.Dispatch.Queue, logger)
		if err != nil {
			return fmt.Errorf("worker needs %s: %w", cfg.Dispatch.AMQPURLEnv, err)
		}
		defer q.Close()

		concurrency := cfg.Dispatch.Workers
		if workerConcurrency > 0 {
			concurrency = workerConcurrency
		}
		worker := pipeline.NewWorker(newExecutor(db), concurrency, cfg.Dispatch.JobTimeout, logger)

		fmt.Printf("Consuming %s with %d worker(s)\n", cfg.Dispatch.Queue, concurrency)
		return worker.Run(cmd.Context(), q)
	},
}

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "n", 0, "Parallel jobs (overrides dispatch.workers)")
}

func newExecutor(db *database.DB) *pipeline.Executor {
	return pipeline.NewExecutor(
		db,
		llm.NewGateway(cfg.Generation, logger),
		scrape.NewGateway(cfg.Scrape, logger),
		pipeline.OptionsFromConfig(cfg),
		logger,
	)
}

func newOrchestrator(db *database.DB, trigger dispatch.Trigger) (*orchestrator.Orchestrator, error) {
	store, err := media.New(cfg.Media, cfg.MediaDir())
	if err != nil {
		return nil, err
	}
	opts := orchestrator.Options{
		Images:  imagegen.NewOpenAI(cfg.Images),
		Media:   store,
		BaseURL: cfg.Server.BaseURL,
	}
	if hook := notify.NewWebhook(cfg.Notify.WebhookURL); hook != nil {
		opts.Notifier = hook
	}
	return orchestrator.New(db, trigger, opts, logger), nil
}

// newRateLimiter returns nil when rate limiting is disabled. An unreachable
// redis falls back to a process-local counter.
func newRateLimiter(ctx context.Context) (gin.HandlerFunc, func()) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, func() {}
	}

	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	closeFn := func() {}

	redis := ratelimit.NewRedisCounter(rl.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redis.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, using in-memory rate limit counter", "addr", rl.RedisAddr, "error", err)
		redis.Close()
	} else {
		counter = redis
		closeFn = func() { redis.Close() }
	}

	return ratelimit.Middleware(ratelimit.Config{
		Counter:   counter,
		Limit:     rl.Limit,
		Window:    rl.Window,
		KeyPrefix: rl.KeyPrefix,
	}), closeFn
}
