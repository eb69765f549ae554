package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  addr: ":9090"
database:
  driver: postgres
  dsn: postgres://risk@localhost/risk
search:
  defaultDaysBack: 14
  cacheTTL: 2m
sources:
  yahooFinance:
    tickers:
      Acme SA: ACM.MC
  newsapi:
    baseUrl: https://news.example/v2
    enabled: false
  rss:
    enabled: true
    feeds:
      - name: cincodias
        category: empresas
        url: https://cincodias.example/rss
classifier:
  threshold: 0.7
  fallback: chatgpt
  fallbackTimeout: 4s
  taxonomy:
    rules:
      - severity: High
        category: Legal
        terms: [quiebra]
summary:
  generator: template
  maxAttempts: 2
scheduler:
  interval: 6h
  timezone: Europe/Madrid
  watchlist: [Acme SA, Globex]
`

func TestParseAndMerge(t *testing.T) {
	fileCfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	cfg := mergeConfig(defaultConfig(), fileCfg)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout, "unset fields keep defaults")
	assert.Equal(t, DatabaseConfig{Driver: "postgres", DSN: "postgres://risk@localhost/risk"}, cfg.Database)
	assert.Equal(t, 14, cfg.Search.DefaultDaysBack)
	assert.Equal(t, 20*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Search.CacheTTL)
	assert.True(t, cfg.Sources.YahooFinance.Enabled, "tickers alone keep the default switch")
	assert.Equal(t, map[string]string{"Acme SA": "ACM.MC"}, cfg.Sources.YahooFinance.Tickers)
	assert.Equal(t, 2.0, cfg.Sources.YahooFinance.Rate.RequestsPerSecond)

	assert.True(t, cfg.Sources.BOE.Enabled)
	assert.False(t, cfg.Sources.NewsAPI.Enabled)
	assert.Equal(t, "https://news.example/v2", cfg.Sources.NewsAPI.BaseURL)
	assert.Equal(t, "es", cfg.Sources.NewsAPI.Language)
	require.Len(t, cfg.Sources.RSS.Feeds, 1)
	assert.Equal(t, "cincodias", cfg.Sources.RSS.Feeds[0].Name)
	assert.Equal(t, 4.0, cfg.Sources.RSS.Rate.RequestsPerSecond)

	assert.Equal(t, 0.7, cfg.Classifier.Threshold)
	assert.Equal(t, 0.8, cfg.Classifier.StrongMatch)
	assert.Equal(t, "chatgpt", cfg.Classifier.FallbackWith)
	assert.Equal(t, 4*time.Second, cfg.Classifier.FallbackTimeout)
	require.Len(t, cfg.Classifier.Taxonomy.Rules, 1)
	assert.Equal(t, []string{"quiebra"}, cfg.Classifier.Taxonomy.Rules[0].Terms)

	assert.Equal(t, "template", cfg.Summary.Generator)
	assert.Equal(t, 2, cfg.Summary.MaxAttempts)
	assert.Equal(t, 8, cfg.Summary.TopK)

	assert.Equal(t, 6*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"Acme SA", "Globex"}, cfg.Scheduler.Watchlist)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("http: [unterminated"))
	assert.Error(t, err)
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(geminiAPIKeyEnv, "gem-key")
	t.Setenv(chatGPTAPIKeyEnv, "sk-test")
	t.Setenv(newsAPIKeyEnv, "news-key")
	t.Setenv(databaseDriverEnv, "memory")
	t.Setenv(httpAddrEnv, ":7000")
	t.Setenv(logLevelEnv, "debug")
	t.Setenv(logFormatEnv, "json")

	cfg := Load()

	assert.Equal(t, ":7000", cfg.HTTP.Addr, "env wins over file")
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "gem-key", cfg.Gemini.APIKey)
	assert.Equal(t, "sk-test", cfg.ChatGPT.APIKey)
	assert.Equal(t, "news-key", cfg.Sources.NewsAPI.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "Europe/Madrid", cfg.Scheduler.Location().String())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv(httpAddrEnv, "")
	t.Setenv(databaseDriverEnv, "")

	cfg := Load()

	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Search.DefaultDaysBack)
	assert.Equal(t, 10*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "https://query1.finance.yahoo.com", cfg.Sources.YahooFinance.BaseURL)
	assert.NotEmpty(t, cfg.Sources.RSS.Feeds)
	assert.Equal(t, 3, cfg.Summary.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Classifier.FallbackTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Summary.BaseBackoff)
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	cfg := defaultConfig()
	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.bindTimezone()
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())

	var zero SchedulerConfig
	assert.Equal(t, "UTC", zero.Location().String())
}
