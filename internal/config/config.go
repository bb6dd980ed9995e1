// Package config provides configuration management for trendwire.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Defaults.
const (
	DefaultDBDriver              = "sqlite"
	DefaultSimilarityThreshold   = 0.4
	DefaultSimilarThreshold      = 0.7
	DefaultSimilarMaxResults     = 5
	DefaultLookbackHours         = 48
	DefaultMinVectorArticles     = 3
	DefaultClusterTTLHours       = 168
	DefaultMaxIndividualClusters = 15
	DefaultLabelTimeoutSeconds   = 30
	DefaultLabelMaxAttempts      = 3
	DefaultLabelBaseDelayMs      = 1000
	DefaultGenerateSchedule      = "*/30 * * * *"
	DefaultExpireSchedule        = "0 * * * *"
	DefaultLLMProvider           = "openai"
	DefaultLLMBaseURL            = "https://api.openai.com/v1"
	DefaultLLMModel              = "gpt-4o-mini"
	DefaultCohereModel           = "embed-english-v3.0"
	DefaultBackfillLimit         = 200
	DefaultExcerptTokens         = 80
	DefaultMetricsInterval       = 60
)

// Config holds the runtime settings.
type Config struct {
	DBDriver              string   `json:"db_driver"`
	DBPath                string   `json:"db_path"`
	DBDSN                 string   `json:"db_dsn"`
	MaxConns              int      `json:"max_conns"`
	ScopesPath            string   `json:"scopes_path"`
	DefaultScopes         []string `json:"default_scopes"`
	SimilarityThreshold   float64  `json:"similarity_threshold"`
	SimilarThreshold      float64  `json:"similar_threshold"`
	SimilarMaxResults     int      `json:"similar_max_results"`
	LookbackHours         int      `json:"lookback_hours"`
	MinVectorArticles     int      `json:"min_vector_articles"`
	ClusterTTLHours       int      `json:"cluster_ttl_hours"`
	MaxIndividualClusters int      `json:"max_individual_clusters"`
	LabelTimeoutSeconds   int      `json:"label_timeout_seconds"`
	LabelMaxAttempts      int      `json:"label_max_attempts"`
	LabelBaseDelayMs      int      `json:"label_base_delay_ms"`
	ExcerptTokens         int      `json:"excerpt_tokens"`
	GenerateSchedule      string   `json:"generate_schedule"`
	ExpireSchedule        string   `json:"expire_schedule"`
	LLMProvider           string   `json:"llm_provider"`
	LLMBaseURL            string   `json:"llm_base_url"`
	LLMModel              string   `json:"llm_model"`
	LLMAPIKey             string   `json:"-"`
	CohereAPIKey          string   `json:"-"`
	CohereModel           string   `json:"cohere_model"`
	BackfillLimit         int      `json:"backfill_limit"`
	MetricsPath           string   `json:"metrics_path"`
	MetricsInterval       int      `json:"metrics_interval_seconds"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".trendwire")
}

// DBPath returns the SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "trendwire.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// ScopesPath returns the default scopes file path.
func ScopesPath() string {
	return filepath.Join(DataDir(), "scopes.yaml")
}

// MetricsPath returns the default metrics export file path.
func MetricsPath() string {
	return filepath.Join(DataDir(), "metrics.jsonl")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a settings file with default values if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaults := map[string]interface{}{
		"TRENDWIRE_DB_DRIVER":               DefaultDBDriver,
		"TRENDWIRE_SIMILARITY_THRESHOLD":    DefaultSimilarityThreshold,
		"TRENDWIRE_SIMILAR_THRESHOLD":       DefaultSimilarThreshold,
		"TRENDWIRE_SIMILAR_MAX_RESULTS":     DefaultSimilarMaxResults,
		"TRENDWIRE_LOOKBACK_HOURS":          DefaultLookbackHours,
		"TRENDWIRE_CLUSTER_TTL_HOURS":       DefaultClusterTTLHours,
		"TRENDWIRE_GENERATE_SCHEDULE":       DefaultGenerateSchedule,
		"TRENDWIRE_EXPIRE_SCHEDULE":         DefaultExpireSchedule,
		"TRENDWIRE_LLM_PROVIDER":            DefaultLLMProvider,
		"TRENDWIRE_LLM_MODEL":               DefaultLLMModel,
		"TRENDWIRE_MAX_INDIVIDUAL_CLUSTERS": DefaultMaxIndividualClusters,
		"TRENDWIRE_LABEL_TIMEOUT_SECONDS":   DefaultLabelTimeoutSeconds,
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBDriver:              DefaultDBDriver,
		DBPath:                DBPath(),
		MaxConns:              4,
		ScopesPath:            ScopesPath(),
		DefaultScopes:         []string{"global"},
		SimilarityThreshold:   DefaultSimilarityThreshold,
		SimilarThreshold:      DefaultSimilarThreshold,
		SimilarMaxResults:     DefaultSimilarMaxResults,
		LookbackHours:         DefaultLookbackHours,
		MinVectorArticles:     DefaultMinVectorArticles,
		ClusterTTLHours:       DefaultClusterTTLHours,
		MaxIndividualClusters: DefaultMaxIndividualClusters,
		LabelTimeoutSeconds:   DefaultLabelTimeoutSeconds,
		LabelMaxAttempts:      DefaultLabelMaxAttempts,
		LabelBaseDelayMs:      DefaultLabelBaseDelayMs,
		ExcerptTokens:         DefaultExcerptTokens,
		GenerateSchedule:      DefaultGenerateSchedule,
		ExpireSchedule:        DefaultExpireSchedule,
		LLMProvider:           DefaultLLMProvider,
		LLMBaseURL:            DefaultLLMBaseURL,
		LLMModel:              DefaultLLMModel,
		CohereModel:           DefaultCohereModel,
		BackfillLimit:         DefaultBackfillLimit,
		MetricsPath:           MetricsPath(),
		MetricsInterval:       DefaultMetricsInterval,
	}
}

// Load reads the settings file, applies environment overrides and clamps
// out-of-range values. A missing or unparsable settings file yields defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err == nil {
		var settings map[string]interface{}
		if json.Unmarshal(data, &settings) == nil {
			cfg.apply(func(key string) (string, bool) {
				v, ok := settings[key]
				if !ok || v == nil {
					return "", false
				}
				return settingString(v), true
			})
		}
	}

	cfg.apply(os.LookupEnv)
	cfg.clamp()
	return cfg, nil
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// Lookback returns the generation lookback window.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

// ClusterTTL returns how long a generated cluster stays live.
func (c *Config) ClusterTTL() time.Duration {
	return time.Duration(c.ClusterTTLHours) * time.Hour
}

// LabelTimeout returns the per-attempt labeling timeout.
func (c *Config) LabelTimeout() time.Duration {
	return time.Duration(c.LabelTimeoutSeconds) * time.Second
}

// MetricsExportInterval returns how often metrics are written out.
func (c *Config) MetricsExportInterval() time.Duration {
	return time.Duration(c.MetricsInterval) * time.Second
}

// LabelBaseDelay returns the first retry backoff for labeling.
func (c *Config) LabelBaseDelay() time.Duration {
	return time.Duration(c.LabelBaseDelayMs) * time.Millisecond
}

func (c *Config) apply(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			}
		}
	}

	str("TRENDWIRE_DB_DRIVER", &c.DBDriver)
	str("TRENDWIRE_DB_PATH", &c.DBPath)
	str("TRENDWIRE_DB_DSN", &c.DBDSN)
	integer("TRENDWIRE_MAX_CONNS", &c.MaxConns)
	str("TRENDWIRE_SCOPES_PATH", &c.ScopesPath)
	if v, ok := lookup("TRENDWIRE_DEFAULT_SCOPES"); ok {
		if scopes := splitTrim(v); len(scopes) > 0 {
			c.DefaultScopes = scopes
		}
	}
	float("TRENDWIRE_SIMILARITY_THRESHOLD", &c.SimilarityThreshold)
	float("TRENDWIRE_SIMILAR_THRESHOLD", &c.SimilarThreshold)
	integer("TRENDWIRE_SIMILAR_MAX_RESULTS", &c.SimilarMaxResults)
	integer("TRENDWIRE_LOOKBACK_HOURS", &c.LookbackHours)
	integer("TRENDWIRE_MIN_VECTOR_ARTICLES", &c.MinVectorArticles)
	integer("TRENDWIRE_CLUSTER_TTL_HOURS", &c.ClusterTTLHours)
	integer("TRENDWIRE_MAX_INDIVIDUAL_CLUSTERS", &c.MaxIndividualClusters)
	integer("TRENDWIRE_LABEL_TIMEOUT_SECONDS", &c.LabelTimeoutSeconds)
	integer("TRENDWIRE_LABEL_MAX_ATTEMPTS", &c.LabelMaxAttempts)
	integer("TRENDWIRE_LABEL_BASE_DELAY_MS", &c.LabelBaseDelayMs)
	integer("TRENDWIRE_EXCERPT_TOKENS", &c.ExcerptTokens)
	str("TRENDWIRE_GENERATE_SCHEDULE", &c.GenerateSchedule)
	str("TRENDWIRE_EXPIRE_SCHEDULE", &c.ExpireSchedule)
	str("TRENDWIRE_LLM_PROVIDER", &c.LLMProvider)
	str("TRENDWIRE_LLM_BASE_URL", &c.LLMBaseURL)
	str("TRENDWIRE_LLM_MODEL", &c.LLMModel)
	str("TRENDWIRE_LLM_API_KEY", &c.LLMAPIKey)
	str("COHERE_API_KEY", &c.CohereAPIKey)
	str("TRENDWIRE_COHERE_MODEL", &c.CohereModel)
	integer("TRENDWIRE_BACKFILL_LIMIT", &c.BackfillLimit)
	str("TRENDWIRE_METRICS_PATH", &c.MetricsPath)
	integer("TRENDWIRE_METRICS_INTERVAL_SECONDS", &c.MetricsInterval)
}

func (c *Config) clamp() {
	d := Default()
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.SimilarThreshold <= 0 || c.SimilarThreshold > 1 {
		c.SimilarThreshold = d.SimilarThreshold
	}
	if c.SimilarMaxResults <= 0 {
		c.SimilarMaxResults = d.SimilarMaxResults
	}
	if c.LookbackHours <= 0 {
		c.LookbackHours = d.LookbackHours
	}
	if c.MinVectorArticles <= 0 {
		c.MinVectorArticles = d.MinVectorArticles
	}
	if c.ClusterTTLHours <= 0 {
		c.ClusterTTLHours = d.ClusterTTLHours
	}
	if c.MaxIndividualClusters < 0 {
		c.MaxIndividualClusters = d.MaxIndividualClusters
	}
	if c.LabelTimeoutSeconds <= 0 {
		c.LabelTimeoutSeconds = d.LabelTimeoutSeconds
	}
	if c.LabelMaxAttempts <= 0 {
		c.LabelMaxAttempts = d.LabelMaxAttempts
	}
	if c.LabelBaseDelayMs < 0 {
		c.LabelBaseDelayMs = d.LabelBaseDelayMs
	}
	if c.ExcerptTokens <= 0 {
		c.ExcerptTokens = d.ExcerptTokens
	}
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = d.BackfillLimit
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	c.DBDriver = strings.ToLower(c.DBDriver)
	c.LLMProvider = strings.ToLower(c.LLMProvider)
}

// settingString renders a decoded JSON value the way it would appear in
// the environment.
func settingString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, settingString(item))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// splitTrim splits a comma-separated string and drops empty entries.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
