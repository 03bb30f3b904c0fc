package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MaxApolloBatchSize is the largest chunk the Apollo bulk endpoints accept.
const MaxApolloBatchSize = 10

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Apollo    ApolloConfig    `yaml:"apollo" mapstructure:"apollo"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ApolloConfig holds Apollo enrichment API settings.
type ApolloConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs      float64 `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTimeoutSecs   float64 `yaml:"max_timeout_secs" mapstructure:"max_timeout_secs"`
	TimeoutGrowth    float64 `yaml:"timeout_growth" mapstructure:"timeout_growth"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// IngestConfig bounds spreadsheet input.
type IngestConfig struct {
	MaxFileSizeMB int    `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	MaxRows       int    `yaml:"max_rows" mapstructure:"max_rows"`
	LeadSource    string `yaml:"lead_source" mapstructure:"lead_source"`
}

// PipelineConfig configures a batch run.
type PipelineConfig struct {
	BatchTimeoutSecs  int  `yaml:"batch_timeout_secs" mapstructure:"batch_timeout_secs"`
	UpsertConcurrency int  `yaml:"upsert_concurrency" mapstructure:"upsert_concurrency"`
	EnrichPeople      bool `yaml:"enrich_people" mapstructure:"enrich_people"`
	EnrichCompanies   bool `yaml:"enrich_companies" mapstructure:"enrich_companies"`
}

// ScrapeConfig configures the website scrape flow.
type ScrapeConfig struct {
	MaxContentChars int `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	TimeoutSecs     int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "truth.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("apollo.key", "")
	v.SetDefault("apollo.batch_size", MaxApolloBatchSize)
	v.SetDefault("apollo.concurrency", 4)
	v.SetDefault("apollo.rate_limit_rps", 5.0)
	v.SetDefault("apollo.timeout_secs", 30.0)
	v.SetDefault("apollo.max_timeout_secs", 120.0)
	v.SetDefault("apollo.timeout_growth", 1.5)
	v.SetDefault("apollo.max_attempts", 5)
	v.SetDefault("apollo.initial_backoff_ms", 1000)
	v.SetDefault("apollo.max_backoff_ms", 60000)
	v.SetDefault("apollo.multiplier", 2.0)
	v.SetDefault("ingest.max_file_size_mb", 50)
	v.SetDefault("ingest.max_rows", 0)
	v.SetDefault("ingest.lead_source", "Excel Upload")
	v.SetDefault("pipeline.batch_timeout_secs", 900)
	v.SetDefault("pipeline.upsert_concurrency", 4)
	v.SetDefault("pipeline.enrich_people", false)
	v.SetDefault("pipeline.enrich_companies", false)
	v.SetDefault("scrape.max_content_chars", 60000)
	v.SetDefault("scrape.timeout_secs", 60)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by mode are set and that tuning
// values are in range. Modes: "import", "scrape", "serve", "migrate", "read".
// Apollo batch sizes above the API limit are clamped rather than rejected.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "migrate", "read":
	case "import", "scrape", "serve":
		errs = append(errs, c.validateRun()...)
		if mode == "scrape" && c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Apollo.BatchSize <= 0 {
		errs = append(errs, "apollo.batch_size must be > 0")
	} else if c.Apollo.BatchSize > MaxApolloBatchSize {
		c.Apollo.BatchSize = MaxApolloBatchSize
	}
	if c.Apollo.MaxAttempts <= 0 {
		errs = append(errs, "apollo.max_attempts must be > 0")
	}
	if c.Apollo.TimeoutSecs <= 0 {
		errs = append(errs, "apollo.timeout_secs must be > 0")
	}
	if c.Apollo.MaxTimeoutSecs < c.Apollo.TimeoutSecs {
		c.Apollo.MaxTimeoutSecs = c.Apollo.TimeoutSecs
	}
	if c.Apollo.Concurrency < 1 || c.Apollo.Concurrency > 50 {
		errs = append(errs, "apollo.concurrency must be between 1 and 50")
	}
	if c.Ingest.MaxRows < 0 {
		errs = append(errs, "ingest.max_rows must be >= 0")
	}
	if c.Ingest.MaxFileSizeMB <= 0 {
		errs = append(errs, "ingest.max_file_size_mb must be > 0")
	}
	if c.Pipeline.BatchTimeoutSecs < 0 {
		errs = append(errs, "pipeline.batch_timeout_secs must be >= 0")
	}
	if c.Pipeline.UpsertConcurrency < 1 {
		errs = append(errs, "pipeline.upsert_concurrency must be >= 1")
	}
	return errs
}

// ApolloTimeout returns the initial per-request timeout.
func (c ApolloConfig) ApolloTimeout() time.Duration {
	return time.Duration(c.TimeoutSecs * float64(time.Second))
}

// ApolloMaxTimeout returns the ceiling for grown per-request timeouts.
func (c ApolloConfig) ApolloMaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutSecs * float64(time.Second))
}

// MaxFileBytes returns the spreadsheet size limit in bytes.
func (c IngestConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// BatchTimeout returns the batch deadline, zero meaning none.
func (c PipelineConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSecs) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
