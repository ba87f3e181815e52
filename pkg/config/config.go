package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the sponsorship crawler
type Config struct {
	// Platform API access
	Forge ForgeConfig `yaml:"forge" json:"forge"`

	// Authenticated-session scraping (pronoun harvesting)
	Session SessionConfig `yaml:"session" json:"session"`

	// Gender classification
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`

	// Crawl orchestration
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Snapshot store
	Store StoreConfig `yaml:"store" json:"store"`

	// Scheduler cadences
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Read-only query API
	API APIConfig `yaml:"api" json:"api"`

	// Earnings estimation policy
	Earnings EarningsConfig `yaml:"earnings" json:"earnings"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ForgeConfig holds code-hosting platform API configuration
type ForgeConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	Token          string        `yaml:"token" json:"token"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// Hourly call budget for the API token
	BudgetPerHour int `yaml:"budget_per_hour" json:"budget_per_hour"`
}

// SessionConfig holds authenticated web-session configuration
type SessionConfig struct {
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	Login          string        `yaml:"login" json:"login"`
	Password       string        `yaml:"password" json:"password"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// Per-minute page budget for session scraping, throttled
	// independently from the API token budget
	BudgetPerMinute int `yaml:"budget_per_minute" json:"budget_per_minute"`
}

// ClassifierConfig holds gender inference configuration
type ClassifierConfig struct {
	Endpoint       string        `yaml:"endpoint" json:"endpoint"`
	Model          string        `yaml:"model" json:"model"`
	APIKey         string        `yaml:"api_key" json:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
}

// CrawlConfig holds crawl traversal configuration
type CrawlConfig struct {
	Seeds []string `yaml:"seeds" json:"seeds"`
	// Depth bound on the followers/sponsors discovery graph
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
	// Records older than this are due for refresh
	StalenessThreshold time.Duration `yaml:"staleness_threshold" json:"staleness_threshold"`
	Workers            int           `yaml:"workers" json:"workers"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	PageSize           int           `yaml:"page_size" json:"page_size"`
}

// StoreConfig holds snapshot store configuration
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SchedulerConfig holds scheduling cadences
type SchedulerConfig struct {
	CrawlInterval     time.Duration `yaml:"crawl_interval" json:"crawl_interval"`
	AggregateInterval time.Duration `yaml:"aggregate_interval" json:"aggregate_interval"`
	SnapshotInterval  string        `yaml:"snapshot_interval" json:"snapshot_interval"` // "W" or "M"
}

// APIConfig holds read-only query API configuration
type APIConfig struct {
	ListenAddr      string `yaml:"listen_addr" json:"listen_addr"`
	DefaultPageSize int    `yaml:"default_page_size" json:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size" json:"max_page_size"`
}

// EarningsConfig holds the estimated-earnings policy knobs.
// The estimate is a documented lower bound, never exact.
type EarningsConfig struct {
	// Fallback monthly tier cost used when the user publishes none and
	// no median can be computed yet
	FallbackTierCost float64 `yaml:"fallback_tier_cost" json:"fallback_tier_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Forge: ForgeConfig{
			BaseURL:        "https://api.github.com",
			UserAgent:      "sponsorscope/1.0",
			RequestTimeout: 30 * time.Second,
			BudgetPerHour:  5000,
		},
		Session: SessionConfig{
			BaseURL:         "https://github.com",
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			RequestTimeout:  30 * time.Second,
			BudgetPerMinute: 20,
		},
		Classifier: ClassifierConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
		},
		Crawl: CrawlConfig{
			MaxDepth:           2,
			StalenessThreshold: 24 * time.Hour,
			Workers:            4,
			MaxRetries:         5,
			PageSize:           100,
		},
		Store: StoreConfig{
			Path: "data/sponsorscope.db",
		},
		Scheduler: SchedulerConfig{
			CrawlInterval:     6 * time.Hour,
			AggregateInterval: time.Hour,
			SnapshotInterval:  "W",
		},
		API: APIConfig{
			ListenAddr:      ":8080",
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		Earnings: EarningsConfig{
			FallbackTierCost: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("SPONSORSCOPE_TOKEN"); token != "" {
		c.Forge.Token = token
	}
	if login := os.Getenv("SPONSORSCOPE_SESSION_LOGIN"); login != "" {
		c.Session.Login = login
	}
	if password := os.Getenv("SPONSORSCOPE_SESSION_PASSWORD"); password != "" {
		c.Session.Password = password
	}
	if apiKey := os.Getenv("SPONSORSCOPE_CLASSIFIER_KEY"); apiKey != "" {
		c.Classifier.APIKey = apiKey
	}
	if dbPath := os.Getenv("SPONSORSCOPE_DB_PATH"); dbPath != "" {
		c.Store.Path = dbPath
	}
	if seeds := os.Getenv("SPONSORSCOPE_SEEDS"); seeds != "" {
		c.Crawl.Seeds = splitAndTrim(seeds)
	}
	if workers := os.Getenv("SPONSORSCOPE_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Crawl.Workers = val
		}
	}
	if addr := os.Getenv("SPONSORSCOPE_LISTEN_ADDR"); addr != "" {
		c.API.ListenAddr = addr
	}
	if logLevel := os.Getenv("SPONSORSCOPE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".sponsorscope.yaml",
		".sponsorscope.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "sponsorscope", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "sponsorscope", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Forge.Token == "" {
		errs = append(errs, errors.New("platform API token is required"))
	}
	if c.Forge.BaseURL == "" {
		errs = append(errs, errors.New("forge base URL is required"))
	}
	if c.Forge.BudgetPerHour <= 0 {
		errs = append(errs, errors.New("API budget per hour must be positive"))
	}

	if c.Session.BudgetPerMinute <= 0 {
		errs = append(errs, errors.New("session budget per minute must be positive"))
	}

	if c.Crawl.Workers <= 0 {
		errs = append(errs, errors.New("crawl workers must be positive"))
	}
	if c.Crawl.MaxDepth < 0 {
		errs = append(errs, errors.New("crawl max depth cannot be negative"))
	}
	if c.Crawl.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Crawl.StalenessThreshold <= 0 {
		errs = append(errs, errors.New("staleness threshold must be positive"))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store path is required"))
	}

	if c.Scheduler.SnapshotInterval != "W" && c.Scheduler.SnapshotInterval != "M" {
		errs = append(errs, errors.New("snapshot interval must be W or M"))
	}
	if c.Scheduler.CrawlInterval <= 0 {
		errs = append(errs, errors.New("crawl interval must be positive"))
	}
	if c.Scheduler.AggregateInterval <= 0 {
		errs = append(errs, errors.New("aggregate interval must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Environment variables > .env file > Config file > Defaults
func Load(configPath string) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".sponsorscope.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
