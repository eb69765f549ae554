package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "RISK_SCANNER_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	databaseDriverEnv = "DATABASE_DRIVER"
	geminiAPIKeyEnv   = "GEMINI_API_KEY"
	chatGPTAPIKeyEnv  = "OPENAI_API_KEY"
	chatGPTModelEnv   = "OPENAI_MODEL"
	newsAPIKeyEnv     = "NEWS_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	smtpPasswordEnv   = "SMTP_PASSWORD"
	logLevelEnv       = "LOG_LEVEL"
	logFormatEnv      = "LOG_FORMAT"
	httpAddrEnv       = "HTTP_ADDR"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	HTTP          HTTPConfig         `yaml:"http"`
	Database      DatabaseConfig     `yaml:"database"`
	Search        SearchConfig       `yaml:"search"`
	Sources       SourcesConfig      `yaml:"sources"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Gemini        GeminiConfig       `yaml:"gemini"`
	ChatGPT       ChatGPTConfig      `yaml:"chatgpt"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	Summary       SummaryConfig      `yaml:"summary"`
	Notifications NotificationConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
}

// LoggingConfig selects the slog level and handler ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// DatabaseConfig describes the SQL store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SearchConfig bounds a whole multi-source search. CacheTTL keeps finished
// assessments for repeated queries; a negative value disables the cache.
type SearchConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	DefaultDaysBack int           `yaml:"defaultDaysBack"`
	CacheTTL        time.Duration `yaml:"cacheTTL"`
}

// SourcesConfig groups settings for document providers.
type SourcesConfig struct {
	BOE          BOEConfig          `yaml:"boe"`
	NewsAPI      NewsAPIConfig      `yaml:"newsapi"`
	RSS          RSSConfig          `yaml:"rss"`
	YahooFinance YahooFinanceConfig `yaml:"yahooFinance"`
}

// RateConfig is the per-connector request budget.
type RateConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// BOEConfig points at the official gazette open-data API.
type BOEConfig struct {
	Enabled bool       `yaml:"enabled"`
	BaseURL string     `yaml:"baseUrl"`
	Rate    RateConfig `yaml:"rate"`
}

// NewsAPIConfig configures newsapi.org.
type NewsAPIConfig struct {
	Enabled     bool       `yaml:"enabled"`
	BaseURL     string     `yaml:"baseUrl"`
	APIKey      string     `yaml:"apiKey"`
	Language    string     `yaml:"language"`
	PageSize    int        `yaml:"pageSize"`
	MaxDaysBack int        `yaml:"maxDaysBack"`
	Rate        RateConfig `yaml:"rate"`
}

// YahooFinanceConfig configures the market data connector. Tickers maps
// company names to exchange symbols on top of the built-in table.
type YahooFinanceConfig struct {
	Enabled bool              `yaml:"enabled"`
	BaseURL string            `yaml:"baseUrl"`
	Tickers map[string]string `yaml:"tickers"`
	Rate    RateConfig        `yaml:"rate"`
}

// RSSConfig lists the feeds scanned for company mentions.
type RSSConfig struct {
	Enabled bool         `yaml:"enabled"`
	Feeds   []FeedConfig `yaml:"feeds"`
	Rate    RateConfig   `yaml:"rate"`
}

// FeedConfig is one RSS or Atom endpoint.
type FeedConfig struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
}

// ClassifierConfig holds thresholds and an optional taxonomy override.
type ClassifierConfig struct {
	Threshold       float64        `yaml:"threshold"`
	StrongMatch     float64        `yaml:"strongMatch"`
	Workers         int            `yaml:"workers"`
	FallbackWith    string         `yaml:"fallback"`
	FallbackTimeout time.Duration  `yaml:"fallbackTimeout"`
	Taxonomy        TaxonomyConfig `yaml:"taxonomy"`
}

// TaxonomyConfig overrides the built-in term tables when non-empty.
type TaxonomyConfig struct {
	Rules            []TaxonomyRule `yaml:"rules"`
	BenignTerms      []string       `yaml:"benignTerms"`
	WeakIndicators   []string       `yaml:"weakIndicators"`
	HighRiskSections []string       `yaml:"highRiskSections"`
}

// TaxonomyRule binds curated terms to a severity and category.
type TaxonomyRule struct {
	Severity string   `yaml:"severity"`
	Category string   `yaml:"category"`
	Terms    []string `yaml:"terms"`
}

// GeminiConfig defines how to contact the Gemini API.
type GeminiConfig struct {
	APIKey         string        `yaml:"apiKey"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embeddingModel"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible chat API.
type ChatGPTConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// EmbeddingConfig selects the embedding backend: "gemini", "http" or "".
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"apiKey"`
}

// SummaryConfig bounds the management summary generator.
type SummaryConfig struct {
	Generator   string        `yaml:"generator"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	TopK        int           `yaml:"topK"`
}

// NotificationConfig encapsulates outbound channels (Telegram, email).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// EmailConfig configures SMTP delivery of alerts.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// SchedulerConfig defines when the watchlist should be re-assessed.
type SchedulerConfig struct {
	Interval  time.Duration  `yaml:"interval"`
	Timezone  string         `yaml:"timezone"`
	DaysBack  int            `yaml:"daysBack"`
	Watchlist []string       `yaml:"watchlist"`
	location  *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			fileCfg, err := Parse(raw)
			if err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sources.RSS.Feeds) == 0 {
		cfg.Sources.RSS.Feeds = defaultConfig().Sources.RSS.Feeds
	}

	return cfg
}

// Parse decodes a YAML document without applying defaults.
func Parse(raw []byte) (Config, error) {
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, err
	}
	return fileCfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Gemini.APIKey = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}

	if v := os.Getenv(newsAPIKeyEnv); v != "" {
		c.Sources.NewsAPI.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(smtpPasswordEnv); v != "" {
		c.Notifications.Email.Password = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.HTTP.ReadTimeout > 0 {
		base.HTTP.ReadTimeout = override.HTTP.ReadTimeout
	}
	if override.HTTP.WriteTimeout > 0 {
		base.HTTP.WriteTimeout = override.HTTP.WriteTimeout
	}

	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Search.Timeout > 0 {
		base.Search.Timeout = override.Search.Timeout
	}
	if override.Search.DefaultDaysBack > 0 {
		base.Search.DefaultDaysBack = override.Search.DefaultDaysBack
	}
	if override.Search.CacheTTL != 0 {
		base.Search.CacheTTL = override.Search.CacheTTL
	}

	base.Sources.BOE = mergeBOE(base.Sources.BOE, override.Sources.BOE)
	base.Sources.NewsAPI = mergeNewsAPI(base.Sources.NewsAPI, override.Sources.NewsAPI)
	if len(override.Sources.RSS.Feeds) > 0 {
		base.Sources.RSS.Feeds = override.Sources.RSS.Feeds
		base.Sources.RSS.Enabled = override.Sources.RSS.Enabled
	}
	base.Sources.RSS.Rate = mergeRate(base.Sources.RSS.Rate, override.Sources.RSS.Rate)
	base.Sources.YahooFinance = mergeYahooFinance(base.Sources.YahooFinance, override.Sources.YahooFinance)

	if override.Classifier.Threshold > 0 {
		base.Classifier.Threshold = override.Classifier.Threshold
	}
	if override.Classifier.StrongMatch > 0 {
		base.Classifier.StrongMatch = override.Classifier.StrongMatch
	}
	if override.Classifier.Workers > 0 {
		base.Classifier.Workers = override.Classifier.Workers
	}
	if override.Classifier.FallbackWith != "" {
		base.Classifier.FallbackWith = override.Classifier.FallbackWith
	}
	if override.Classifier.FallbackTimeout > 0 {
		base.Classifier.FallbackTimeout = override.Classifier.FallbackTimeout
	}
	if len(override.Classifier.Taxonomy.Rules) > 0 {
		base.Classifier.Taxonomy = override.Classifier.Taxonomy
	}

	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}
	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.EmbeddingModel != "" {
		base.Gemini.EmbeddingModel = override.Gemini.EmbeddingModel
	}
	if override.Gemini.Timeout > 0 {
		base.Gemini.Timeout = override.Gemini.Timeout
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}
	if override.ChatGPT.Timeout > 0 {
		base.ChatGPT.Timeout = override.ChatGPT.Timeout
	}

	if override.Embedding.Provider != "" {
		base.Embedding = override.Embedding
	}

	if override.Summary.Generator != "" {
		base.Summary.Generator = override.Summary.Generator
	}
	if override.Summary.MaxAttempts > 0 {
		base.Summary.MaxAttempts = override.Summary.MaxAttempts
	}
	if override.Summary.BaseBackoff > 0 {
		base.Summary.BaseBackoff = override.Summary.BaseBackoff
	}
	if override.Summary.TopK > 0 {
		base.Summary.TopK = override.Summary.TopK
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Email.Host != "" {
		base.Notifications.Email = override.Notifications.Email
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.DaysBack > 0 {
		base.Scheduler.DaysBack = override.Scheduler.DaysBack
	}
	if len(override.Scheduler.Watchlist) > 0 {
		base.Scheduler.Watchlist = override.Scheduler.Watchlist
	}

	return base
}

func mergeBOE(base, override BOEConfig) BOEConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
		base.Enabled = override.Enabled
	}
	base.Rate = mergeRate(base.Rate, override.Rate)
	return base
}

func mergeYahooFinance(base, override YahooFinanceConfig) YahooFinanceConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
		base.Enabled = override.Enabled
	}
	if len(override.Tickers) > 0 {
		base.Tickers = override.Tickers
	}
	base.Rate = mergeRate(base.Rate, override.Rate)
	return base
}

func mergeNewsAPI(base, override NewsAPIConfig) NewsAPIConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
		base.Enabled = override.Enabled
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Language != "" {
		base.Language = override.Language
	}
	if override.PageSize > 0 {
		base.PageSize = override.PageSize
	}
	if override.MaxDaysBack > 0 {
		base.MaxDaysBack = override.MaxDaysBack
	}
	base.Rate = mergeRate(base.Rate, override.Rate)
	return base
}

func mergeRate(base, override RateConfig) RateConfig {
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Burst > 0 {
		base.Burst = override.Burst
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Addr: ":8000", ReadTimeout: 15 * time.Second, WriteTimeout: 90 * time.Second},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:riskscanner.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		Search: SearchConfig{Timeout: 20 * time.Second, DefaultDaysBack: 7, CacheTTL: 10 * time.Minute},
		Sources: SourcesConfig{
			BOE: BOEConfig{
				Enabled: true,
				BaseURL: "https://www.boe.es",
				Rate:    RateConfig{RequestsPerSecond: 5, Burst: 5, Timeout: 15 * time.Second},
			},
			NewsAPI: NewsAPIConfig{
				Enabled:     true,
				BaseURL:     "https://newsapi.org/v2",
				Language:    "es",
				PageSize:    20,
				MaxDaysBack: 30,
				Rate:        RateConfig{RequestsPerSecond: 1, Burst: 1, Timeout: 10 * time.Second},
			},
			YahooFinance: YahooFinanceConfig{
				Enabled: true,
				BaseURL: "https://query1.finance.yahoo.com",
				Rate:    RateConfig{RequestsPerSecond: 2, Burst: 2, Timeout: 10 * time.Second},
			},
			RSS: RSSConfig{
				Enabled: true,
				Rate:    RateConfig{RequestsPerSecond: 4, Burst: 4, Timeout: 10 * time.Second},
				Feeds: []FeedConfig{
					{Name: "elpais", Category: "economia", URL: "https://feeds.elpais.com/mrss-s/pages/ep/site/elpais.com/section/economia/portada"},
					{Name: "elpais", Category: "negocios", URL: "https://feeds.elpais.com/mrss-s/list/ep/site/elpais.com/section/economia/subsection/negocios"},
					{Name: "expansion", Category: "empresas", URL: "https://e00-expansion.uecdn.es/rss/empresas.xml"},
					{Name: "europapress", Category: "economia", URL: "https://www.europapress.es/rss/rss.aspx?ch=00136"},
				},
			},
		},
		Classifier: ClassifierConfig{Threshold: 0.6, StrongMatch: 0.8, Workers: 8, FallbackWith: "gemini", FallbackTimeout: 15 * time.Second},
		Gemini: GeminiConfig{
			Model:          "gemini-2.0-flash",
			EmbeddingModel: "text-embedding-004",
			Timeout:        20 * time.Second,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a risk analyst writing management summaries for insurance underwriters.",
			Timeout:      30 * time.Second,
		},
		Embedding: EmbeddingConfig{Provider: "gemini"},
		Summary:   SummaryConfig{Generator: "gemini", MaxAttempts: 3, BaseBackoff: 500 * time.Millisecond, TopK: 8},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Timezone: defaultTimezone, DaysBack: 7, location: tz},
	}
}
