// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Database      DatabaseConfig          `mapstructure:"database"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Intent        IntentConfig            `mapstructure:"intent"`
	Resolver      ResolverConfig          `mapstructure:"resolver"`
	Policy        PolicyConfig            `mapstructure:"policy"`
	Limits        map[string]BucketConfig `mapstructure:"limits"`
	Orchestrator  OrchestratorConfig      `mapstructure:"orchestrator"`
	Ports         PortsConfig             `mapstructure:"ports"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Catalog       CatalogConfig           `mapstructure:"catalog"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	ReadTimeout    int `mapstructure:"read_timeout"`    // milliseconds
	WriteTimeout   int `mapstructure:"write_timeout"`   // milliseconds
	RequestTimeout int `mapstructure:"request_timeout"` // milliseconds, whole-pipeline budget
}

// RequestBudget returns the per-request pipeline deadline.
func (s ServerConfig) RequestBudget() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	SSLEnabled  bool     `mapstructure:"ssl_enabled"`
	EntityIndex string   `mapstructure:"entity_index"`
	URL         string   `mapstructure:"url"` // Single URL alternative to addresses
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Pipeline Configuration Sections ---

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the chat and embedding clients.
type OpenAIConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	APIKey              string `mapstructure:"api_key"`
	ChatModel           string `mapstructure:"chat_model"`
	EmbeddingModel      string `mapstructure:"embedding_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions"`
	Timeout             int    `mapstructure:"timeout"` // milliseconds
}

func (o OpenAIConfig) CallBudget() time.Duration {
	return time.Duration(o.Timeout) * time.Millisecond
}

// IntentConfig holds settings for the intent parsing stage.
type IntentConfig struct {
	LLMTimeout          int     `mapstructure:"llm_timeout"` // milliseconds
	HeuristicConfidence float64 `mapstructure:"heuristic_confidence"`
	MaxUtteranceLength  int     `mapstructure:"max_utterance_length"`
}

func (i IntentConfig) LLMBudget() time.Duration {
	return time.Duration(i.LLMTimeout) * time.Millisecond
}

// ResolverConfig holds settings for entity candidate retrieval and scoring.
type ResolverConfig struct {
	TopK                int     `mapstructure:"top_k"`
	PerLegK             int     `mapstructure:"per_leg_k"`
	BothHitBonus        float64 `mapstructure:"both_hit_bonus"`
	ExactMatchBoost     float64 `mapstructure:"exact_match_boost"`
	RecencyWeight       float64 `mapstructure:"recency_weight"`
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days"`
	CacheTTL            int     `mapstructure:"cache_ttl"`      // milliseconds
	QueryTimeout        int     `mapstructure:"query_timeout"`  // milliseconds, per retrieval leg
}

func (r ResolverConfig) CacheExpiry() time.Duration {
	return time.Duration(r.CacheTTL) * time.Millisecond
}

func (r ResolverConfig) QueryBudget() time.Duration {
	return time.Duration(r.QueryTimeout) * time.Millisecond
}

// PolicyConfig holds the disambiguation thresholds.
type PolicyConfig struct {
	MarginThreshold     float64 `mapstructure:"margin_threshold"`
	AutoAcceptThreshold float64 `mapstructure:"auto_accept_threshold"`
	MinThreshold        float64 `mapstructure:"min_threshold"`
	MaxAlternatives     int     `mapstructure:"max_alternatives"`
}

// BucketConfig holds the token bucket shape for one rate-limited resource.
type BucketConfig struct {
	Capacity     float64 `mapstructure:"capacity"`
	RefillPerSec float64 `mapstructure:"refill_per_sec"`
}

// OrchestratorConfig holds execution settings.
type OrchestratorConfig struct {
	StepTimeout  int `mapstructure:"step_timeout"`  // milliseconds, per step
	RetryBackoff int `mapstructure:"retry_backoff"` // milliseconds, before the single retry
}

func (o OrchestratorConfig) StepBudget() time.Duration {
	return time.Duration(o.StepTimeout) * time.Millisecond
}

func (o OrchestratorConfig) Backoff() time.Duration {
	return time.Duration(o.RetryBackoff) * time.Millisecond
}

// PortsConfig holds settings for the platform service adapters.
type PortsConfig struct {
	Mode          string `mapstructure:"mode"` // "http" or "memory"
	StoryBaseURL  string `mapstructure:"story_base_url"`
	TaskBaseURL   string `mapstructure:"task_base_url"`
	SprintBaseURL string `mapstructure:"sprint_base_url"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

func (p PortsConfig) CallBudget() time.Duration {
	return time.Duration(p.Timeout) * time.Millisecond
}

// NotificationConfig holds settings for the notification sink.
type NotificationConfig struct {
	Mode string `mapstructure:"mode"` // "sns" or "memory"
	AWS  struct {
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"aws"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
}

// CatalogConfig holds the action catalog location.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
