package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/contentforge/internal/collect"
	"github.com/TobiSchelling/contentforge/internal/config"
	"github.com/TobiSchelling/contentforge/internal/database"
	"github.com/TobiSchelling/contentforge/internal/llm"
	"github.com/TobiSchelling/contentforge/internal/logging"
	"github.com/TobiSchelling/contentforge/internal/orchestrator"
	"github.com/TobiSchelling/contentforge/internal/pipeline"
	"github.com/TobiSchelling/contentforge/internal/scrape"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "contentforge",
	Short:   "Asynchronous article generation pipeline",
	Long:    "contentforge queues article jobs, grounds them in scraped pricing and news, generates them with a chosen model and publishes the result.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := config.LoadEnv(); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(level)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("contentforge", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/contentforge/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure providers, dispatch mode and sources.")
		fmt.Println("Credentials are read from the environment or a .env file.")
		return nil
	},
}

var statusJobs int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show job queue and article status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Jobs:")
		fmt.Printf("  Pending: %d\n", stats.PendingJobs)
		fmt.Printf("  Processing: %d\n", stats.ProcessingJobs)
		fmt.Printf("  Completed: %d\n", stats.CompletedJobs)
		fmt.Printf("  Failed: %d\n", stats.FailedJobs)
		fmt.Println("\nArticles:")
		fmt.Printf("  Total: %d\n", stats.Articles)
		fmt.Printf("  Published: %d\n", stats.PublishedArticles)
		fmt.Println("\nScrape results:")
		fmt.Printf("  Total: %d\n", stats.ScrapeResults)

		fmt.Println("\nProviders:")
		for _, p := range llm.NewGateway(cfg.Generation, logger).Report(ctx) {
			state := "not configured"
			if p.Configured {
				state = "configured"
			}
			if p.Reachable != nil && !*p.Reachable {
				state += ", unreachable"
			}
			fmt.Printf("  %-9s  %s\n", p.Model, state)
		}

		articles, err := db.ListArticles(ctx, database.ArticleFilter{Limit: uint64(statusJobs)})
		if err != nil {
			return fmt.Errorf("listing articles: %w", err)
		}
		if len(articles) > 0 {
			fmt.Println("\nRecent articles:")
			for _, a := range articles {
				state := "draft"
				if a.Published {
					state = "published"
				}
				fmt.Printf("  %s  %-9s  %-10s  /%s/%s\n", a.CreatedAt.Local().Format("2006-01-02 15:04"), state, a.Category, a.Language, a.Slug)
			}
		}

		jobs, err := db.ListJobs(ctx, statusJobs)
		if err != nil {
			return fmt.Errorf("listing jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		fmt.Println("\nRecent jobs:")
		for _, j := range jobs {
			line := fmt.Sprintf("  %s  %-10s  %-9s  %s", j.CreatedAt.Local().Format("2006-01-02 15:04"), j.Status, j.Input.Model, j.Input.Topic)
			if j.Output != nil {
				line += fmt.Sprintf(" -> /%s", j.Output.Slug)
			}
			if j.Error != nil {
				line += fmt.Sprintf(" (%s)", *j.Error)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusJobs, "jobs", "n", 10, "Number of recent jobs and articles to show")
}

// --- scrape command ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Collect pricing pages and news into scrape results",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Collecting pricing and news...")
		collector := collect.NewCollector(cfg.Collect, db, scrape.NewGateway(cfg.Scrape, logger), logger)
		result, err := collector.Collect(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Pricing results: %d\n", result.Pricing)
		fmt.Printf("  News results: %d\n", result.News)
		fmt.Printf("  Failed sources: %d\n", result.Failed)
		return nil
	},
}

// --- generate command ---

var (
	generateModel   string
	generatePublish bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [topic]",
	Short: "Generate one article in the foreground",
	Long:  "Queue a job and execute it in this process. Omit the topic to select one automatically.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		requested := ""
		if len(args) == 1 {
			requested = args[0]
		}

		ctx := cmd.Context()
		orch := orchestrator.New(db, nil, orchestrator.Options{}, logger)
		started, err := orch.Start(ctx, requested, generateModel, generatePublish)
		if err != nil {
			return err
		}
		fmt.Printf("Job %s: %s\n", started.JobID, started.Topic)

		worker := pipeline.NewWorker(newExecutor(db), 1, cfg.Dispatch.JobTimeout, logger)
		begin := time.Now()
		runErr := worker.Handle(ctx, started.JobID)

		status, err := orch.Status(ctx, started.JobID)
		if err != nil {
			return err
		}
		fmt.Printf("Status: %s (%s)\n", status.Status, time.Since(begin).Round(time.Second))
		if status.Status == database.JobCompleted {
			fmt.Printf("  Article %d: %s\n", *status.PostID, status.Title)
			fmt.Printf("  Slug: %s\n", status.Slug)
			fmt.Printf("  Published: %t\n", *status.Published)
		}
		return runErr
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateModel, "model", "m", "openai", "Generation model: openai, anthropic or ollama")
	generateCmd.Flags().BoolVar(&generatePublish, "publish", false, "Publish the article when it is stored")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "contentforge.db")
	return database.Open(dbPath)
}
