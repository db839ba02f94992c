package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the review service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Serp       SerpConfig       `mapstructure:"serp"`
	Search     SearchConfig     `mapstructure:"search"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Reporting  ReportingConfig  `mapstructure:"reporting"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen      string `mapstructure:"listen"`
	LogLevel    string `mapstructure:"log_level"`
	Environment string `mapstructure:"environment"` // dev, test, prod
	JWTSecret   string `mapstructure:"jwt_secret"`
	Migrations  string `mapstructure:"migrations"`
}

// IsProduction reports whether cookies and logs should use production settings.
func (g GeneralConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(g.Environment), "prod")
}

func (g GeneralConfig) Validate() error {
	if strings.TrimSpace(g.JWTSecret) == "" {
		return fmt.Errorf("general.jwt_secret required")
	}
	if g.IsProduction() && len(g.JWTSecret) < 32 {
		return fmt.Errorf("general.jwt_secret must be at least 32 characters in prod")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. Redis is optional; without it
// session execution locks are process-local.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port with the default redis port applied.
func (r RedisConfig) Addr() string {
	port := strings.TrimSpace(r.Port)
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", strings.TrimSpace(r.Host), port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// SerpConfig configures the external search provider.
type SerpConfig struct {
	Provider          string        `mapstructure:"provider"` // serper, brave
	SerperAPIKey      string        `mapstructure:"serper_api_key"`
	SerperBaseURL     string        `mapstructure:"serper_base_url"`
	BraveAPIKey       string        `mapstructure:"brave_api_key"`
	BraveBaseURL      string        `mapstructure:"brave_base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Backoff           time.Duration `mapstructure:"backoff"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	ResultsPerQuery   int           `mapstructure:"results_per_query"`
	CreditCostUSD     float64       `mapstructure:"credit_cost_usd"`
	Concurrency       int           `mapstructure:"concurrency"`
	Country           string        `mapstructure:"country"`
	Language          string        `mapstructure:"language"`
}

func (s SerpConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "serper", "brave":
	default:
		return fmt.Errorf("serp.provider must be serper or brave, got %q", s.Provider)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("serp.max_retries cannot be negative")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("serp.requests_per_second must be > 0")
	}
	if s.Burst <= 0 {
		return fmt.Errorf("serp.burst must be > 0")
	}
	if s.ResultsPerQuery <= 0 {
		return fmt.Errorf("serp.results_per_query must be > 0")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("serp.concurrency must be > 0")
	}
	if s.CreditCostUSD < 0 {
		return fmt.Errorf("serp.credit_cost_usd cannot be negative")
	}
	return nil
}

// SearchConfig bounds search strategies.
type SearchConfig struct {
	MaxQueriesPerSession int `mapstructure:"max_queries_per_session"`
}

// ProcessingConfig tunes result normalisation and deduplication.
type ProcessingConfig struct {
	TitleSimilarityThreshold float64 `mapstructure:"title_similarity_threshold"`
}

func (p ProcessingConfig) Validate() error {
	if p.TitleSimilarityThreshold <= 0 || p.TitleSimilarityThreshold > 1 {
		return fmt.Errorf("processing.title_similarity_threshold must be in (0,1]")
	}
	return nil
}

// ReportingConfig controls export files and their retention.
type ReportingConfig struct {
	ReportsDir  string        `mapstructure:"reports_dir"`
	Retention   time.Duration `mapstructure:"retention"`
	CleanupCron string        `mapstructure:"cleanup_cron"`
}

func (r ReportingConfig) Validate() error {
	if strings.TrimSpace(r.ReportsDir) == "" {
		return fmt.Errorf("reporting.reports_dir required")
	}
	if r.Retention < 0 {
		return fmt.Errorf("reporting.retention cannot be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.listen", ":10001")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.environment", "dev")
	v.SetDefault("general.migrations", "file://migrations")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("serp.provider", "serper")
	v.SetDefault("serp.serper_base_url", "https://google.serper.dev")
	v.SetDefault("serp.brave_base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("serp.timeout", 30*time.Second)
	v.SetDefault("serp.max_retries", 3)
	v.SetDefault("serp.backoff", 500*time.Millisecond)
	v.SetDefault("serp.requests_per_second", 5.0)
	v.SetDefault("serp.burst", 5)
	v.SetDefault("serp.results_per_query", 50)
	v.SetDefault("serp.credit_cost_usd", 0.001)
	v.SetDefault("serp.concurrency", 3)
	v.SetDefault("search.max_queries_per_session", 50)
	v.SetDefault("processing.title_similarity_threshold", 0.9)
	v.SetDefault("reporting.reports_dir", "./reports")
	v.SetDefault("reporting.retention", 30*24*time.Hour)
	v.SetDefault("reporting.cleanup_cron", "0 3 * * *")
}

// Load reads the config file (optional) and THESISGREY_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("THESISGREY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"general.jwt_secret", "storage.postgres.url", "storage.postgres.host", "storage.postgres.user",
		"storage.postgres.password", "storage.postgres.dbname", "storage.redis.host", "storage.redis.password",
		"serp.serper_api_key", "serp.brave_api_key",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, fn := range []func() error{
		c.General.Validate,
		c.Storage.Postgres.Validate,
		c.Serp.Validate,
		c.Processing.Validate,
		c.Reporting.Validate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	if c.Search.MaxQueriesPerSession <= 0 {
		return fmt.Errorf("search.max_queries_per_session must be > 0")
	}
	return nil
}

func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
