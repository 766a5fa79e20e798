package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
	Generation Generation `yaml:"generation"`
	Scrape     Scrape     `yaml:"scrape"`
	Images     Images     `yaml:"images"`
	Media      Media      `yaml:"media"`
	Dispatch   Dispatch   `yaml:"dispatch"`
	RateLimit  RateLimit  `yaml:"ratelimit"`
	Notify     Notify     `yaml:"notify"`
	Collect    Collect    `yaml:"collect"`
	Logging    Logging    `yaml:"logging"`
}

type Server struct {
	Addr            string   `yaml:"addr"`
	SecretEnv       string   `yaml:"secret_env"`
	DefaultLanguage string   `yaml:"default_language"`
	BaseURL         string   `yaml:"base_url"`
	CORSOrigins     []string `yaml:"cors_origins"`
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type Database struct {
	DataDir string `yaml:"data_dir"`
}

type Generation struct {
	OpenAI      ProviderConfig `yaml:"openai"`
	Anthropic   ProviderConfig `yaml:"anthropic"`
	Ollama      ProviderConfig `yaml:"ollama"`
	MaxTokens   int            `yaml:"max_tokens"`
	Temperature float64        `yaml:"temperature"`
	RetryDelay  time.Duration  `yaml:"retry_delay"`
	Language    string         `yaml:"language"`
}

// ProviderConfig describes one credential-bearing upstream API.
type ProviderConfig struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey reads the credential from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

type Scrape struct {
	Firecrawl       ProviderConfig   `yaml:"firecrawl"`
	ScraperAPI      ProviderConfig   `yaml:"scraperapi"`
	MinLength       int              `yaml:"min_length"`
	Timeout         time.Duration    `yaml:"timeout"`
	Concurrency     int              `yaml:"concurrency"`
	ResearchSources []ResearchSource `yaml:"research_sources"`
}

// ResearchSource is a page scraped concurrently as grounding for every job.
type ResearchSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type Images struct {
	Provider ProviderConfig `yaml:"provider"`
	Size     string         `yaml:"size"`
}

type Media struct {
	LocalDir  string `yaml:"local_dir"`
	PublicURL string `yaml:"public_url"`
	S3        S3     `yaml:"s3"`
}

type S3 struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Secure       bool   `yaml:"secure"`
	PublicURL    string `yaml:"public_url"`
}

// Enabled reports whether object storage should be used for images.
func (s S3) Enabled() bool {
	return s.Endpoint != "" && s.Bucket != ""
}

type Dispatch struct {
	Mode        string        `yaml:"mode"`
	ExecutorURL string        `yaml:"executor_url"`
	AMQPURLEnv  string        `yaml:"amqp_url_env"`
	Queue       string        `yaml:"queue"`
	Workers     int           `yaml:"workers"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

type RateLimit struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Limit     int           `yaml:"limit"`
	Window    time.Duration `yaml:"window"`
	KeyPrefix string        `yaml:"key_prefix"`
}

type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
}

type Collect struct {
	Feeds       []Feed        `yaml:"feeds"`
	NewsAPI     NewsAPIConfig `yaml:"newsapi"`
	PricingURLs []string      `yaml:"pricing_urls"`
	DaysBack    int           `yaml:"days_back"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for contentforge.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "contentforge")
}

// DataDir returns the XDG data directory for contentforge.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "contentforge")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/contentforge/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'contentforge init' to create a default config",
		xdgConfig,
	)
}

// LoadEnv loads credentials from a .env file next to the working directory.
// A missing file is not an error; the process environment is used as-is.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            "127.0.0.1:8000",
			SecretEnv:       "PIPELINE_SECRET",
			DefaultLanguage: "en",
			BaseURL:         "http://localhost:8000",
			CORSOrigins:     []string{"*"},
			TrustedProxies:  []string{"127.0.0.1", "::1"},
		},
		Generation: Generation{
			OpenAI: ProviderConfig{
				Model:     "gpt-4o-mini",
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			Anthropic: ProviderConfig{
				Model:     "claude-sonnet-4-5",
				BaseURL:   "https://api.anthropic.com/v1",
				APIKeyEnv: "ANTHROPIC_API_KEY",
			},
			Ollama: ProviderConfig{
				Model:   "qwen2.5:7b",
				BaseURL: "http://localhost:11434",
			},
			MaxTokens:   4096,
			Temperature: 0.7,
			RetryDelay:  2 * time.Second,
			Language:    "en",
		},
		Scrape: Scrape{
			Firecrawl: ProviderConfig{
				BaseURL:   "https://api.firecrawl.dev/v1",
				APIKeyEnv: "FIRECRAWL_API_KEY",
			},
			ScraperAPI: ProviderConfig{
				BaseURL:   "https://api.scraperapi.com",
				APIKeyEnv: "SCRAPERAPI_KEY",
			},
			MinLength:   200,
			Timeout:     60 * time.Second,
			Concurrency: 4,
		},
		Images: Images{
			Provider: ProviderConfig{
				Model:     "gpt-image-1",
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			Size: "1536x1024",
		},
		Media: Media{
			PublicURL: "/media",
			S3: S3{
				AccessKeyEnv: "S3_ACCESS_KEY",
				SecretKeyEnv: "S3_SECRET_KEY",
			},
		},
		Dispatch: Dispatch{
			Mode:        "http",
			ExecutorURL: "http://127.0.0.1:8000/api/executor/run",
			AMQPURLEnv:  "AMQP_URL",
			Queue:       "contentforge.jobs",
			Workers:     1,
			JobTimeout:  10 * time.Minute,
		},
		RateLimit: RateLimit{
			Limit:     30,
			Window:    time.Minute,
			KeyPrefix: "rl:",
		},
		Collect: Collect{
			NewsAPI: NewsAPIConfig{
				APIKeyEnv: "NEWSAPI_KEY",
				Query:     "streaming service prices",
			},
			DaysBack: 7,
		},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Dispatch.Mode {
	case "http", "amqp", "inline":
	default:
		return fmt.Errorf("invalid dispatch.mode %q: want http, amqp or inline", c.Dispatch.Mode)
	}
	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("generation.max_tokens must not be negative")
	}
	if c.Dispatch.Workers < 1 {
		c.Dispatch.Workers = 1
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Database.DataDir != "" {
		return c.Database.DataDir
	}
	return DataDir()
}

// LocalMediaRoute returns the path the server should serve local images
// under. It is empty when images go to object storage or live on another host.
func (c *Config) LocalMediaRoute() string {
	if c.Media.S3.Enabled() || !strings.HasPrefix(c.Media.PublicURL, "/") {
		return ""
	}
	return strings.TrimRight(c.Media.PublicURL, "/")
}

// MediaDir returns the directory used for locally stored images.
func (c *Config) MediaDir() string {
	if c.Media.LocalDir != "" {
		return c.Media.LocalDir
	}
	return filepath.Join(c.GetDataDir(), "media")
}

// PipelineSecret returns the shared secret guarding the pipeline API.
func (c *Config) PipelineSecret() string {
	return os.Getenv(c.Server.SecretEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
