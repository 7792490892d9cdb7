package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/sigint/pkg/model"
)

// Config is the root configuration.
type Config struct {
	Environment string            `yaml:"environment"`
	LogLevel    string            `yaml:"log_level"`
	Database    DatabaseConfig    `yaml:"database"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Filter      FilterConfig      `yaml:"filter"`
	Categories  CategoriesConfig  `yaml:"categories"`
	LLM         LLMConfig         `yaml:"llm"`
	X           XConfig           `yaml:"x"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Narrative   NarrativeConfig   `yaml:"narrative"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Server      ServerConfig      `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig holds the job intervals of the daemon.
type ScheduleConfig struct {
	ReportInterval    Duration `yaml:"report_interval"`
	SignalsInterval   Duration `yaml:"signals_interval"`
	NarrativeInterval Duration `yaml:"narrative_interval"`
	CleanupInterval   Duration `yaml:"cleanup_interval"`
}

// FetchConfig configures feed downloads.
type FetchConfig struct {
	MaxConcurrent   int      `yaml:"max_concurrent"`
	Timeout         Duration `yaml:"timeout"`
	UserAgent       string   `yaml:"user_agent"`
	MaxItemsPerFeed int      `yaml:"max_items_per_feed"`
}

// FilterConfig configures the pre-selection pipeline.
type FilterConfig struct {
	MaxAgeHours         int      `yaml:"max_age_hours"`
	SimilarityThreshold float64  `yaml:"similarity_threshold"`
	MaxPerSource        int      `yaml:"max_per_source"`
	MaxCandidates       int      `yaml:"max_candidates"`
	PanelSize           int      `yaml:"panel_size"`
	ExcludeKeywords     []string `yaml:"exclude_keywords"`
}

// CategoryConfig holds the inputs of one category panel.
type CategoryConfig struct {
	Feeds []string `yaml:"feeds"`
	// Accounts are X usernames whose posts feed the correlation engine.
	Accounts []string `yaml:"accounts"`
	// Instructions replace the built-in editorial brief when set.
	Instructions string `yaml:"instructions"`
}

// CategoriesConfig maps category slugs to their configuration.
type CategoriesConfig map[model.Category]CategoryConfig

// Feeds returns the feed list of every category.
func (c CategoriesConfig) Feeds() map[model.Category][]string {
	out := make(map[model.Category][]string, len(c))
	for cat, cc := range c {
		out[cat] = cc.Feeds
	}
	return out
}

// Accounts returns the tracked accounts of every category.
func (c CategoriesConfig) Accounts() map[model.Category][]string {
	out := make(map[model.Category][]string, len(c))
	for cat, cc := range c {
		out[cat] = cc.Accounts
	}
	return out
}

// Instructions returns the non-empty instruction overrides.
func (c CategoriesConfig) Instructions() map[model.Category]string {
	out := make(map[model.Category]string)
	for cat, cc := range c {
		if strings.TrimSpace(cc.Instructions) != "" {
			out[cat] = cc.Instructions
		}
	}
	return out
}

// LLMConfig configures the selection model.
type LLMConfig struct {
	Provider          string   `yaml:"provider"` // "anthropic" or "openai"
	Model             string   `yaml:"model"`
	APIKey            string   `yaml:"api_key"`
	BaseURL           string   `yaml:"base_url"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	TopN              int      `yaml:"top_n"`
}

// XConfig configures the X API signal client.
type XConfig struct {
	BearerToken string   `yaml:"bearer_token"`
	BaseURL     string   `yaml:"base_url"`
	MaxResults  int      `yaml:"max_results"`
	Interval    Duration `yaml:"interval"`
}

// CorrelationConfig holds the correlation engine thresholds.
type CorrelationConfig struct {
	VelocityWindow       Duration `yaml:"velocity_window"`
	BaselineWindow       Duration `yaml:"baseline_window"`
	SpikeThreshold       float64  `yaml:"spike_threshold"`
	BaselineFloor        float64  `yaml:"baseline_floor"`
	EntityMatchThreshold float64  `yaml:"entity_match_threshold"`
	TemporalWindow       Duration `yaml:"temporal_window"`
	MinConfidence        float64  `yaml:"min_confidence"`
	KnownTerms           []string `yaml:"known_terms"`
}

// NarrativeConfig configures pattern retention.
type NarrativeConfig struct {
	Retention        Duration         `yaml:"retention"`
	MaxPatterns      int              `yaml:"max_patterns"`
	SignalCategories []model.Category `yaml:"signal_categories"`
}

// ArchiveConfig configures archive cleanup.
type ArchiveConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	MinConfidence float64       `yaml:"min_confidence"`
	Slack         SlackConfig   `yaml:"slack"`
	Discord       DiscordConfig `yaml:"discord"`
	Webhook       WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		Database:    DatabaseConfig{Path: "./sigint.db"},
		Schedule: ScheduleConfig{
			ReportInterval:    Duration(30 * time.Minute),
			SignalsInterval:   Duration(15 * time.Minute),
			NarrativeInterval: Duration(time.Hour),
			CleanupInterval:   Duration(24 * time.Hour),
		},
		Fetch: FetchConfig{
			MaxConcurrent:   10,
			Timeout:         Duration(30 * time.Second),
			UserAgent:       "sigint/1.0",
			MaxItemsPerFeed: 30,
		},
		Filter: FilterConfig{
			MaxAgeHours:         24,
			SimilarityThreshold: 0.7,
			MaxPerSource:        5,
			MaxCandidates:       30,
			PanelSize:           5,
		},
		Categories: defaultCategories(),
		LLM: LLMConfig{
			Provider:          "anthropic",
			Timeout:           Duration(60 * time.Second),
			RequestsPerMinute: 30,
			TopN:              5,
		},
		X: XConfig{
			MaxResults: 20,
			Interval:   Duration(time.Second),
		},
		Correlation: CorrelationConfig{
			VelocityWindow:       Duration(time.Hour),
			BaselineWindow:       Duration(24 * time.Hour),
			SpikeThreshold:       2.0,
			BaselineFloor:        0.1,
			EntityMatchThreshold: 0.3,
			TemporalWindow:       Duration(6 * time.Hour),
			MinConfidence:        0.4,
		},
		Narrative: NarrativeConfig{
			Retention:        Duration(6 * time.Hour),
			MaxPatterns:      10,
			SignalCategories: []model.Category{model.CategoryAIML},
		},
		Archive: ArchiveConfig{RetentionDays: 30},
		Alerts:  AlertsConfig{MinConfidence: 0.6},
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
	}
}

func defaultCategories() CategoriesConfig {
	return CategoriesConfig{
		model.CategoryGeopolitical: {Feeds: []string{
			"https://feeds.bbci.co.uk/news/world/rss.xml",
			"https://feeds.npr.org/1001/rss.xml",
			"https://www.theguardian.com/world/rss",
			"https://www.csis.org/analysis/feed",
			"https://www.defenseone.com/rss/all/",
			"https://warontherocks.com/feed/",
			"https://breakingdefense.com/feed/",
			"https://thediplomat.com/feed/",
			"https://www.bellingcat.com/feed/",
		}},
		model.CategoryAIML: {Feeds: []string{
			"https://hnrss.org/frontpage",
			"https://rss.arxiv.org/rss/cs.AI",
			"https://openai.com/blog/rss.xml",
			"https://blog.google/technology/ai/rss/",
			"https://huggingface.co/blog/feed.xml",
			"https://feeds.arstechnica.com/arstechnica/technology-lab",
			"https://www.technologyreview.com/feed/",
		}},
		model.CategoryDeepTech: {Feeds: []string{
			"https://hnrss.org/frontpage",
			"https://feeds.arstechnica.com/arstechnica/technology-lab",
			"https://www.theverge.com/rss/index.xml",
			"https://rss.arxiv.org/rss/quant-ph",
		}},
		model.CategoryCryptoFinance: {Feeds: []string{
			"https://www.cnbc.com/id/100003114/device/rss/rss.html",
			"https://feeds.marketwatch.com/marketwatch/topstories",
			"https://www.federalreserve.gov/feeds/press_all.xml",
			"https://www.sec.gov/news/pressreleases.rss",
			"https://api.coingecko.com/api/v3/simple/price?ids=bitcoin,ethereum,solana&vs_currencies=usd&include_24hr_change=true",
		}},
	}
}

// env holds the environment overrides read by envconfig. Empty values leave
// the file configuration alone.
type env struct {
	Environment     string `envconfig:"ENVIRONMENT"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	DBPath          string `envconfig:"SIGINT_DB_PATH"`
	LLMProvider     string `envconfig:"SIGINT_LLM_PROVIDER"`
	LLMModel        string `envconfig:"SIGINT_LLM_MODEL"`
	AnthropicKey    string `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIKey       string `envconfig:"OPENAI_API_KEY"`
	XBearerToken    string `envconfig:"X_BEARER_TOKEN"`
	SlackWebhookURL string `envconfig:"SLACK_WEBHOOK_URL"`
	DiscordWebhook  string `envconfig:"DISCORD_WEBHOOK_URL"`
	WebhookURL      string `envconfig:"SIGINT_WEBHOOK_URL"`
	WebhookSecret   string `envconfig:"SIGINT_WEBHOOK_SECRET"`
	MaxAgeHours     int    `envconfig:"MAX_AGE_HOURS"`
	Port            int    `envconfig:"PORT"`
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result. An empty path uses the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&cfg.Environment, e.Environment)
	setString(&cfg.LogLevel, e.LogLevel)
	setString(&cfg.Database.Path, e.DBPath)
	setString(&cfg.X.BearerToken, e.XBearerToken)
	setString(&cfg.LLM.Model, e.LLMModel)

	// A key in the environment selects its provider unless the provider is
	// set explicitly.
	if e.OpenAIKey != "" {
		cfg.LLM.APIKey = e.OpenAIKey
		cfg.LLM.Provider = "openai"
	}
	if e.AnthropicKey != "" {
		cfg.LLM.APIKey = e.AnthropicKey
		cfg.LLM.Provider = "anthropic"
	}
	if e.LLMProvider != "" {
		cfg.LLM.Provider = strings.ToLower(e.LLMProvider)
		switch cfg.LLM.Provider {
		case "openai":
			setString(&cfg.LLM.APIKey, e.OpenAIKey)
		case "anthropic":
			setString(&cfg.LLM.APIKey, e.AnthropicKey)
		}
	}

	if e.SlackWebhookURL != "" {
		cfg.Alerts.Slack.WebhookURL = e.SlackWebhookURL
		cfg.Alerts.Slack.Enabled = true
	}
	if e.DiscordWebhook != "" {
		cfg.Alerts.Discord.WebhookURL = e.DiscordWebhook
		cfg.Alerts.Discord.Enabled = true
	}
	if e.WebhookURL != "" {
		cfg.Alerts.Webhook.URL = e.WebhookURL
		cfg.Alerts.Webhook.Enabled = true
	}
	setString(&cfg.Alerts.Webhook.Secret, e.WebhookSecret)

	if e.MaxAgeHours != 0 {
		cfg.Filter.MaxAgeHours = e.MaxAgeHours
	}
	if e.Port != 0 {
		cfg.Server.Port = e.Port
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate checks ranges and references.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Filter.MaxAgeHours < 1 || c.Filter.MaxAgeHours > 720 {
		errs = append(errs, fmt.Errorf("filter.max_age_hours must be between 1 and 720, got %d", c.Filter.MaxAgeHours))
	}
	if c.Filter.SimilarityThreshold <= 0 || c.Filter.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("filter.similarity_threshold must be in (0, 1], got %g", c.Filter.SimilarityThreshold))
	}
	if c.Filter.MaxPerSource < 1 {
		errs = append(errs, errors.New("filter.max_per_source must be >= 1"))
	}
	if c.Filter.MaxCandidates < 0 {
		errs = append(errs, errors.New("filter.max_candidates must be >= 0"))
	}
	if c.Fetch.MaxConcurrent < 1 {
		errs = append(errs, errors.New("fetch.max_concurrent must be >= 1"))
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}
	if c.LLM.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("llm.requests_per_minute must be >= 0"))
	}
	if c.Correlation.MinConfidence < 0 || c.Correlation.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("correlation.min_confidence must be in [0, 1], got %g", c.Correlation.MinConfidence))
	}
	if c.Archive.RetentionDays < 7 || c.Archive.RetentionDays > 365 {
		errs = append(errs, fmt.Errorf("archive.retention_days must be between 7 and 365, got %d", c.Archive.RetentionDays))
	}
	for cat := range c.Categories {
		if _, err := model.ParseCategory(string(cat)); err != nil {
			errs = append(errs, fmt.Errorf("categories: %w", err))
		}
	}
	for _, cat := range c.Narrative.SignalCategories {
		if _, err := model.ParseCategory(string(cat)); err != nil {
			errs = append(errs, fmt.Errorf("narrative.signal_categories: %w", err))
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
