package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "LEADSCANNER_CONFIG"
	dotenvPathEnv = "LEADSCANNER_DOTENV"

	databaseDSNEnv        = "DATABASE_DSN"
	databaseDriverEnv     = "DATABASE_DRIVER"
	redditClientIDEnv     = "REDDIT_CLIENT_ID"
	redditClientSecretEnv = "REDDIT_CLIENT_SECRET"
	redditUsernameEnv     = "REDDIT_USERNAME"
	redditPasswordEnv     = "REDDIT_PASSWORD"
	redditUserAgentEnv    = "REDDIT_USER_AGENT"
	enableRepliesEnv      = "ENABLE_COMMENT_POSTING"
	crawlIntervalHoursEnv = "CRAWLER_INTERVAL_HOURS"
	subredditsEnv         = "SUBREDDITS"
	postLimitEnv          = "POST_LIMIT"
	minUpvotesEnv         = "MIN_UPVOTES"
	minCommentsEnv        = "MIN_COMMENTS"
	maxPostsEnv           = "DB_MAX_POSTS"
	autoExpireDaysEnv     = "AUTO_EXPIRE_DAYS"
	autoUnassignHoursEnv  = "AUTO_UNASSIGN_HOURS"
	telegramTokenEnv      = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv     = "TELEGRAM_CHAT_ID"
	classifierURLEnv      = "CLASSIFIER_URL"
	classifierAPIKeyEnv   = "CLASSIFIER_API_KEY"
	httpAddrEnv           = "HTTP_ADDR"
	logLevelEnv           = "LOG_LEVEL"
	logFormatEnv          = "LOG_FORMAT"

	// the source SUBREDDITS rewrites
	redditSourceName = "reddit"
)

var defaultSubreddits = []string{
	"RealEstate", "FirstTimeHomeBuyer", "personalfinance", "LosAngeles", "SanFrancisco",
	"OrangeCounty", "Sacramento", "SanDiego", "AskLosAngeles", "AskSF", "bayarea",
	"InlandEmpire", "SanJose", "LongBeach", "Fresno", "Oakland", "RealEstateInvesting", "homeowners",
}

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	HTTP          HTTPConfig         `yaml:"http"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Sources       []SourceConfig     `yaml:"sources"`
	Reddit        RedditConfig       `yaml:"reddit"`
	Keywords      KeywordsConfig     `yaml:"keywords"`
	Filters       FiltersConfig      `yaml:"filters"`
	Storage       StorageConfig      `yaml:"storage"`
	Automation    AutomationConfig   `yaml:"automation"`
	Notifications NotificationConfig `yaml:"notifications"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
}

// LoggingConfig selects level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the SQL backend.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// HTTPConfig configures the operator API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SchedulerConfig defines job intervals.
type SchedulerConfig struct {
	CrawlInterval    time.Duration `yaml:"crawlInterval"`
	ExpireInterval   time.Duration `yaml:"expireInterval"`
	UnassignInterval time.Duration `yaml:"unassignInterval"`
	RunOnStart       bool          `yaml:"runOnStart"`
}

// PipelineConfig tunes fetching.
type PipelineConfig struct {
	FetchWindow      time.Duration `yaml:"fetchWindow"`
	Limit            int           `yaml:"limit"`
	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	FetchConcurrency int           `yaml:"fetchConcurrency"`
	RateLimitRetries int           `yaml:"rateLimitRetries"`
	RateLimitBackoff time.Duration `yaml:"rateLimitBackoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	PermalinkBaseURL string        `yaml:"permalinkBaseUrl"`
}

// SourceConfig describes one upstream and the collections to crawl.
type SourceConfig struct {
	Name        string   `yaml:"name"`
	Client      string   `yaml:"client"`
	Collections []string `yaml:"collections"`
}

// RedditConfig carries API endpoints and credentials.
type RedditConfig struct {
	BaseURL           string `yaml:"baseUrl"`
	AuthURL           string `yaml:"authUrl"`
	ClientID          string `yaml:"clientId"`
	ClientSecret      string `yaml:"clientSecret"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	UserAgent         string `yaml:"userAgent"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	EnableReplies     bool   `yaml:"enableReplies"`
}

// KeywordsConfig picks the matcher and the initial keyword set.
type KeywordsConfig struct {
	Matcher   string   `yaml:"matcher"`
	Tenant    string   `yaml:"tenant"`
	SeedFile  string   `yaml:"seedFile"`
	Primary   []string `yaml:"primary"`
	Secondary []string `yaml:"secondary"`
}

// FiltersConfig holds engagement thresholds and advertisement markers.
type FiltersConfig struct {
	MinUpvotes            int      `yaml:"minUpvotes"`
	MinComments           int      `yaml:"minComments"`
	AdIndicators          []string `yaml:"adIndicators"`
	BusinessAuthorMarkers []string `yaml:"businessAuthorMarkers"`
}

// StorageConfig bounds the post table.
type StorageConfig struct {
	MaxPosts int64 `yaml:"maxPosts"`
}

// AutomationConfig sets when the correctors act.
type AutomationConfig struct {
	ExpireAfterDays    int `yaml:"expireAfterDays"`
	UnassignAfterHours int `yaml:"unassignAfterHours"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	APIURL   string `yaml:"apiUrl"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// ClassifierConfig points at an optional lead classification service. An
// empty endpoint disables enrichment.
type ClassifierConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ExpireAfter is the pending age at which posts are archived.
func (a AutomationConfig) ExpireAfter() time.Duration {
	return time.Duration(a.ExpireAfterDays) * 24 * time.Hour
}

// UnassignAfter is the assignment age at which posts return to the queue.
func (a AutomationConfig) UnassignAfter() time.Duration {
	return time.Duration(a.UnassignAfterHours) * time.Hour
}

// Load reads an optional .env file, the YAML file named by
// LEADSCANNER_CONFIG and environment overrides, then validates the result.
func Load() (Config, error) {
	dotenv := os.Getenv(dotenvPathEnv)
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", dotenv, err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if cfg, err = Parse(raw); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values and present lists replace the default lists.
func Parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, set func(int)) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		set(n)
	}

	str(databaseDSNEnv, &c.Database.DSN)
	str(databaseDriverEnv, &c.Database.Driver)
	str(redditClientIDEnv, &c.Reddit.ClientID)
	str(redditClientSecretEnv, &c.Reddit.ClientSecret)
	str(redditUsernameEnv, &c.Reddit.Username)
	str(redditPasswordEnv, &c.Reddit.Password)
	str(redditUserAgentEnv, &c.Reddit.UserAgent)
	str(telegramTokenEnv, &c.Notifications.Telegram.BotToken)
	str(telegramChatIDEnv, &c.Notifications.Telegram.ChatID)
	str(classifierURLEnv, &c.Classifier.Endpoint)
	str(classifierAPIKeyEnv, &c.Classifier.APIKey)
	str(httpAddrEnv, &c.HTTP.Addr)
	str(logLevelEnv, &c.Logging.Level)
	str(logFormatEnv, &c.Logging.Format)

	if v, ok := lookup(enableRepliesEnv); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", enableRepliesEnv, v))
		}
		c.Reddit.EnableReplies = enabled
	}

	num(crawlIntervalHoursEnv, func(n int) { c.Scheduler.CrawlInterval = time.Duration(n) * time.Hour })
	num(postLimitEnv, func(n int) { c.Pipeline.Limit = n })
	num(minUpvotesEnv, func(n int) { c.Filters.MinUpvotes = n })
	num(minCommentsEnv, func(n int) { c.Filters.MinComments = n })
	num(maxPostsEnv, func(n int) { c.Storage.MaxPosts = int64(n) })
	num(autoExpireDaysEnv, func(n int) { c.Automation.ExpireAfterDays = n })
	num(autoUnassignHoursEnv, func(n int) { c.Automation.UnassignAfterHours = n })

	if v, ok := lookup(subredditsEnv); ok && strings.TrimSpace(v) != "" {
		c.setRedditCollections(splitList(v))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) setRedditCollections(collections []string) {
	for i := range c.Sources {
		if c.Sources[i].Name == redditSourceName {
			c.Sources[i].Collections = collections
			return
		}
	}
	c.Sources = append(c.Sources, SourceConfig{Name: redditSourceName, Client: "reddit", Collections: collections})
}

// Validate rejects impossible values.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.Driver == "sqlite" || c.Database.Driver == "postgres", "database.driver %q must be sqlite or postgres", c.Database.Driver)
	check(c.Database.Driver != "postgres" || c.Database.DSN != "", "database.dsn is required for postgres")
	check(c.Scheduler.CrawlInterval >= time.Second, "scheduler.crawlInterval must be at least 1s")
	check(c.Scheduler.ExpireInterval >= time.Second, "scheduler.expireInterval must be at least 1s")
	check(c.Scheduler.UnassignInterval >= time.Second, "scheduler.unassignInterval must be at least 1s")
	check(c.Pipeline.FetchWindow > 0, "pipeline.fetchWindow must be positive")
	check(c.Pipeline.Limit > 0, "pipeline.limit must be positive")
	check(c.Pipeline.FetchConcurrency > 0, "pipeline.fetchConcurrency must be positive")
	check(c.Pipeline.RateLimitRetries >= 0, "pipeline.rateLimitRetries must not be negative")
	check(c.Filters.MinUpvotes >= 0 && c.Filters.MinComments >= 0, "filters thresholds must not be negative")
	check(c.Storage.MaxPosts >= 0, "storage.maxPosts must not be negative")
	check(c.Automation.ExpireAfterDays >= 0, "automation.expireAfterDays must not be negative")
	check(c.Automation.UnassignAfterHours >= 0, "automation.unassignAfterHours must not be negative")
	check(c.Keywords.Matcher == "set" || c.Keywords.Matcher == "automaton", "keywords.matcher %q must be set or automaton", c.Keywords.Matcher)
	check(len(c.Sources) > 0, "at least one source is required")

	for _, src := range c.Sources {
		check(src.Name != "", "sources: name is required")
		check(len(src.Collections) > 0, "source %q has no collections", src.Name)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file:leadscanner.db", MaxOpenConns: 4},
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Scheduler: SchedulerConfig{
			CrawlInterval:    12 * time.Hour,
			ExpireInterval:   24 * time.Hour,
			UnassignInterval: 6 * time.Hour,
		},
		Pipeline: PipelineConfig{
			FetchWindow:      24 * time.Hour,
			Limit:            100,
			FetchTimeout:     30 * time.Second,
			FetchConcurrency: 4,
			RateLimitRetries: 3,
			RateLimitBackoff: 2 * time.Second,
			MaxBackoff:       2 * time.Minute,
			PermalinkBaseURL: "https://www.reddit.com",
		},
		Sources: []SourceConfig{
			{Name: redditSourceName, Client: "reddit", Collections: append([]string(nil), defaultSubreddits...)},
		},
		Reddit:     RedditConfig{UserAgent: "LeadScanner/1.0", RequestsPerMinute: 60},
		Keywords:   KeywordsConfig{Matcher: "automaton"},
		Storage:    StorageConfig{MaxPosts: 10000},
		Automation: AutomationConfig{ExpireAfterDays: 7, UnassignAfterHours: 24},
		Classifier: ClassifierConfig{Timeout: 15 * time.Second},
	}
}
