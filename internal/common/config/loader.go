// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Resource names accepted by the limits section. Anything else in config is
// rejected at startup.
const (
	ResourceInterpret = "interpret"
	ResourceAct       = "act"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig() // ignore error if not found

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Load .env from multiple possible locations so tests and tools work from
// nested directories.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("✅ Loaded .env from: %s\n", path)
				return
			}
		}
	}

	fmt.Printf("⚠️  .env file not found in any location, using system environment variables\n")
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.APIs.OpenAI.APIKey == "" {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.APIs.OpenAI.APIKey = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}

	if cfg.Notifications.AWS.Region == "" {
		if val := os.Getenv("AWS_REGION"); val != "" {
			cfg.Notifications.AWS.Region = val
		}
	}
	if cfg.Notifications.AWS.TopicARN == "" {
		if val := os.Getenv("SNS_TOPIC_ARN"); val != "" {
			cfg.Notifications.AWS.TopicARN = val
		}
	}
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 9000
	}

	// Database defaults
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.EntityIndex == "" {
		cfg.Database.Elasticsearch.EntityIndex = "pm_entities"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	// OpenAI defaults
	if cfg.APIs.OpenAI.ChatModel == "" {
		cfg.APIs.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.APIs.OpenAI.EmbeddingModel == "" {
		cfg.APIs.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.APIs.OpenAI.EmbeddingDimensions == 0 {
		cfg.APIs.OpenAI.EmbeddingDimensions = 1536
	}
	if cfg.APIs.OpenAI.Timeout == 0 {
		cfg.APIs.OpenAI.Timeout = 5000
	}

	// Intent defaults
	if cfg.Intent.LLMTimeout == 0 {
		cfg.Intent.LLMTimeout = 2500
	}
	if cfg.Intent.HeuristicConfidence == 0 {
		cfg.Intent.HeuristicConfidence = 0.35
	}
	if cfg.Intent.MaxUtteranceLength == 0 {
		cfg.Intent.MaxUtteranceLength = 500
	}

	// Resolver defaults
	if cfg.Resolver.TopK == 0 {
		cfg.Resolver.TopK = 10
	}
	if cfg.Resolver.PerLegK == 0 {
		cfg.Resolver.PerLegK = 20
	}
	if cfg.Resolver.BothHitBonus == 0 {
		cfg.Resolver.BothHitBonus = 0.05
	}
	if cfg.Resolver.ExactMatchBoost == 0 {
		cfg.Resolver.ExactMatchBoost = 0.15
	}
	if cfg.Resolver.RecencyWeight == 0 {
		cfg.Resolver.RecencyWeight = 0.10
	}
	if cfg.Resolver.RecencyHalfLifeDays == 0 {
		cfg.Resolver.RecencyHalfLifeDays = 14
	}
	if cfg.Resolver.CacheTTL == 0 {
		cfg.Resolver.CacheTTL = 3600000
	}
	if cfg.Resolver.QueryTimeout == 0 {
		cfg.Resolver.QueryTimeout = 2000
	}

	// Policy defaults
	if cfg.Policy.MarginThreshold == 0 {
		cfg.Policy.MarginThreshold = 0.15
	}
	if cfg.Policy.AutoAcceptThreshold == 0 {
		cfg.Policy.AutoAcceptThreshold = 0.80
	}
	if cfg.Policy.MinThreshold == 0 {
		cfg.Policy.MinThreshold = 0.45
	}
	if cfg.Policy.MaxAlternatives == 0 {
		cfg.Policy.MaxAlternatives = 3
	}

	// Rate limit defaults
	if cfg.Limits == nil {
		cfg.Limits = map[string]BucketConfig{}
	}
	if _, ok := cfg.Limits[ResourceInterpret]; !ok {
		cfg.Limits[ResourceInterpret] = BucketConfig{Capacity: 20, RefillPerSec: 0.5}
	}
	if _, ok := cfg.Limits[ResourceAct]; !ok {
		cfg.Limits[ResourceAct] = BucketConfig{Capacity: 10, RefillPerSec: 0.2}
	}

	// Orchestrator defaults
	if cfg.Orchestrator.StepTimeout == 0 {
		cfg.Orchestrator.StepTimeout = 3000
	}
	if cfg.Orchestrator.RetryBackoff == 0 {
		cfg.Orchestrator.RetryBackoff = 100
	}

	// Ports defaults
	if cfg.Ports.Mode == "" {
		cfg.Ports.Mode = "http"
	}
	if cfg.Ports.Timeout == 0 {
		cfg.Ports.Timeout = 3000
	}

	// Notification defaults
	if cfg.Notifications.Mode == "" {
		cfg.Notifications.Mode = "memory"
	}

	// Catalog defaults
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "configs/action-catalog.json"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	for resource, bucket := range cfg.Limits {
		if resource != ResourceInterpret && resource != ResourceAct {
			return fmt.Errorf("limits.%s: unknown rate limit resource", resource)
		}
		if bucket.Capacity <= 0 {
			return fmt.Errorf("limits.%s.capacity must be positive", resource)
		}
		if bucket.RefillPerSec <= 0 {
			return fmt.Errorf("limits.%s.refill_per_sec must be positive", resource)
		}
	}

	if cfg.Policy.MinThreshold > cfg.Policy.AutoAcceptThreshold {
		return fmt.Errorf("policy.min_threshold must not exceed policy.auto_accept_threshold")
	}

	if cfg.Ports.Mode != "http" && cfg.Ports.Mode != "memory" {
		return fmt.Errorf("ports.mode must be 'http' or 'memory'")
	}
	if cfg.Ports.Mode == "http" {
		if cfg.Ports.StoryBaseURL == "" || cfg.Ports.TaskBaseURL == "" || cfg.Ports.SprintBaseURL == "" {
			return fmt.Errorf("ports.*_base_url are required in http mode")
		}
	}

	if cfg.Notifications.Mode != "sns" && cfg.Notifications.Mode != "memory" {
		return fmt.Errorf("notifications.mode must be 'sns' or 'memory'")
	}
	if cfg.Notifications.Mode == "sns" && cfg.Notifications.AWS.TopicARN == "" {
		return fmt.Errorf("notifications.aws.topic_arn is required in sns mode")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetBucketConfig retrieves the bucket shape for a resource with fallback to
// conservative defaults.
func GetBucketConfig(cfg *Config, resource string) BucketConfig {
	if bucket, exists := cfg.Limits[resource]; exists {
		return bucket
	}

	return BucketConfig{Capacity: 10, RefillPerSec: 0.2}
}
