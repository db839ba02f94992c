// Package sysconfig exposes the runtime-tunable settings. Values come from
// code defaults, then the loaded config file, then rows in the
// configurations table, which admins can change without a restart.
package sysconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/thesisgrey/config"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const (
	KeySerpResultsPerQuery      = "serp.results_per_query"
	KeySerpRequestsPerSecond    = "serp.requests_per_second"
	KeySerpBurst                = "serp.burst"
	KeySerpCreditCostUSD        = "serp.credit_cost_usd"
	KeyMaxQueriesPerSession     = "search.max_queries_per_session"
	KeyTitleSimilarityThreshold = "processing.title_similarity_threshold"
	KeyExportRetentionHours     = "reporting.export_retention_hours"
)

const cacheKey = "system"

// SystemConfig is the typed view over every tunable.
type SystemConfig struct {
	SerpResultsPerQuery      int           `json:"serp_results_per_query"`
	SerpRequestsPerSecond    float64       `json:"serp_requests_per_second"`
	SerpBurst                int           `json:"serp_burst"`
	SerpCreditCostUSD        float64       `json:"serp_credit_cost_usd"`
	MaxQueriesPerSession     int           `json:"max_queries_per_session"`
	TitleSimilarityThreshold float64       `json:"title_similarity_threshold"`
	ExportRetention          time.Duration `json:"export_retention"`
}

// Keys lists the configuration keys that map onto SystemConfig fields.
func Keys() []string {
	keys := make([]string, 0, len(appliers))
	for k := range appliers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var appliers = map[string]func(*SystemConfig, float64){
	KeySerpResultsPerQuery:      func(c *SystemConfig, v float64) { c.SerpResultsPerQuery = int(v) },
	KeySerpRequestsPerSecond:    func(c *SystemConfig, v float64) { c.SerpRequestsPerSecond = v },
	KeySerpBurst:                func(c *SystemConfig, v float64) { c.SerpBurst = int(v) },
	KeySerpCreditCostUSD:        func(c *SystemConfig, v float64) { c.SerpCreditCostUSD = v },
	KeyMaxQueriesPerSession:     func(c *SystemConfig, v float64) { c.MaxQueriesPerSession = int(v) },
	KeyTitleSimilarityThreshold: func(c *SystemConfig, v float64) { c.TitleSimilarityThreshold = v },
	KeyExportRetentionHours:     func(c *SystemConfig, v float64) { c.ExportRetention = time.Duration(v * float64(time.Hour)) },
}

var integerKeys = map[string]bool{
	KeySerpResultsPerQuery:  true,
	KeySerpBurst:            true,
	KeyMaxQueriesPerSession: true,
}

// Defaults derives the base layer from the loaded config.
func Defaults(cfg *config.Config) SystemConfig {
	return SystemConfig{
		SerpResultsPerQuery:      cfg.Serp.ResultsPerQuery,
		SerpRequestsPerSecond:    cfg.Serp.RequestsPerSecond,
		SerpBurst:                cfg.Serp.Burst,
		SerpCreditCostUSD:        cfg.Serp.CreditCostUSD,
		MaxQueriesPerSession:     cfg.Search.MaxQueriesPerSession,
		TitleSimilarityThreshold: cfg.Processing.TitleSimilarityThreshold,
		ExportRetention:          cfg.Reporting.Retention,
	}
}

func (c SystemConfig) Validate() error {
	errs := validate.Errors{}
	if c.SerpResultsPerQuery <= 0 {
		errs.Add(KeySerpResultsPerQuery, "must be a positive integer")
	}
	if c.SerpRequestsPerSecond <= 0 {
		errs.Add(KeySerpRequestsPerSecond, "must be positive")
	}
	if c.SerpBurst <= 0 {
		errs.Add(KeySerpBurst, "must be a positive integer")
	}
	if c.SerpCreditCostUSD < 0 {
		errs.Add(KeySerpCreditCostUSD, "cannot be negative")
	}
	if c.MaxQueriesPerSession <= 0 {
		errs.Add(KeyMaxQueriesPerSession, "must be a positive integer")
	}
	if c.TitleSimilarityThreshold <= 0 || c.TitleSimilarityThreshold > 1 {
		errs.Add(KeyTitleSimilarityThreshold, "must be in (0,1]")
	}
	if c.ExportRetention < 0 {
		errs.Add(KeyExportRetentionHours, "cannot be negative")
	}
	return errs.Err()
}

// Apply sets the field behind key from a JSON number. Unknown keys are
// reported as not applicable.
func (c *SystemConfig) Apply(key string, raw json.RawMessage) (bool, error) {
	apply, ok := appliers[key]
	if !ok {
		return false, nil
	}
	v := gjson.ParseBytes(raw)
	if v.Type != gjson.Number {
		return true, validate.Errors{key: "must be a JSON number"}
	}
	n := v.Float()
	if integerKeys[key] && n != math.Trunc(n) {
		return true, validate.Errors{key: "must be an integer"}
	}
	apply(c, n)
	return true, nil
}

// Store is the persistence the provider needs.
type Store interface {
	ListConfigurations(ctx context.Context) ([]store.Configuration, error)
	UpsertConfiguration(ctx context.Context, key string, value json.RawMessage, description, userID string) (store.Configuration, error)
}

// Provider resolves the layered SystemConfig and caches the result.
type Provider struct {
	defaults SystemConfig
	store    Store
	cache    *gocache.Cache
	logger   *zap.Logger
}

func NewProvider(defaults SystemConfig, st Store, ttl time.Duration, logger *zap.Logger) *Provider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{defaults: defaults, store: st, cache: gocache.New(ttl, 2*ttl), logger: logger}
}

// Get returns the effective configuration. Stored values that fail to parse
// or validate are skipped and logged.
func (p *Provider) Get(ctx context.Context) (SystemConfig, error) {
	if v, ok := p.cache.Get(cacheKey); ok {
		return v.(SystemConfig), nil
	}
	rows, err := p.store.ListConfigurations(ctx)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("load configurations: %w", err)
	}
	cfg := p.defaults
	for _, row := range rows {
		next := cfg
		applied, err := next.Apply(row.Key, row.Value)
		if !applied {
			continue
		}
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			p.logger.Warn("ignoring configuration override", zap.String("key", row.Key), zap.Error(err))
			continue
		}
		cfg = next
	}
	p.cache.SetDefault(cacheKey, cfg)
	return cfg, nil
}

// Set validates and stores a value, then drops the cached view.
func (p *Provider) Set(ctx context.Context, key string, value json.RawMessage, description, userID string) (store.Configuration, error) {
	if !json.Valid(value) {
		return store.Configuration{}, validate.Errors{"value": "must be valid JSON"}
	}
	current, err := p.Get(ctx)
	if err != nil {
		return store.Configuration{}, err
	}
	if _, err := current.Apply(key, value); err != nil {
		return store.Configuration{}, err
	}
	if err := current.Validate(); err != nil {
		return store.Configuration{}, err
	}
	row, err := p.store.UpsertConfiguration(ctx, key, value, description, userID)
	if err != nil {
		return store.Configuration{}, err
	}
	p.cache.Delete(cacheKey)
	p.logger.Info("configuration updated", zap.String("key", key), zap.String("user_id", userID))
	return row, nil
}

// Invalidate forces the next Get to reload from the store.
func (p *Provider) Invalidate() { p.cache.Delete(cacheKey) }
