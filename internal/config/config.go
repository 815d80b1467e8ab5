package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	RuleService RuleServiceConfig
	OpenAI      OpenAIConfig
	Pipeline    PipelineConfig
	Retention   RetentionConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// RuleServiceConfig holds the external rule-checking service connection details
type RuleServiceConfig struct {
	URL string
	// Timeout is the per-call timeout; the rule service is expected to be fast.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing batch calls.
	RequestsPerSecond float64
	// BatchSize is the maximum number of sentences submitted per call.
	BatchSize int
	// FailureThreshold is the number of consecutive transport failures after
	// which a task latches to the local fallback rule set.
	FailureThreshold int
}

// OpenAIConfig holds the language-model service configuration
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout is the per-call timeout; model calls are slower than rule calls.
	Timeout time.Duration
}

// PipelineConfig holds task orchestration limits
type PipelineConfig struct {
	// MaxConcurrentTasks caps simultaneous in-flight tasks process-wide.
	MaxConcurrentTasks int
	// UnitWorkers bounds parallel unit analyses within one task.
	UnitWorkers int
	// TaskTimeout is the overall per-task deadline.
	TaskTimeout time.Duration
	// RetryMaxAttempts bounds retries against either external engine.
	RetryMaxAttempts int
	// RetryInitialInterval seeds the backoff schedule.
	RetryInitialInterval time.Duration
}

// RetentionConfig controls how long finished task records and their
// artifacts are kept before the background sweep prunes them.
type RetentionConfig struct {
	TaskTTL       time.Duration
	SweepInterval time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8086"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		RuleService: RuleServiceConfig{
			URL:               getEnv("RULE_SERVICE_URL", "http://localhost:8010"),
			Timeout:           getEnvDuration("RULE_SERVICE_TIMEOUT", 10*time.Second),
			RequestsPerSecond: getEnvFloat("RULE_SERVICE_RPS", 5),
			BatchSize:         getEnvInt("RULE_SERVICE_BATCH_SIZE", 100),
			FailureThreshold:  getEnvInt("RULE_SERVICE_FAILURE_THRESHOLD", 3),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 2048),
			Timeout:     getEnvDuration("OPENAI_TIMEOUT", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			MaxConcurrentTasks:   getEnvInt("MAX_CONCURRENT_TASKS", 5),
			UnitWorkers:          getEnvInt("UNIT_WORKERS", 4),
			TaskTimeout:          getEnvDuration("TASK_TIMEOUT", 300*time.Second),
			RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryInitialInterval: getEnvDuration("RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
		},
		Retention: RetentionConfig{
			TaskTTL:       getEnvDuration("TASK_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ValidateConfig validates that required configuration values are present
func ValidateConfig(config *Config) error {
	if config.RuleService.URL == "" {
		return fmt.Errorf("RULE_SERVICE_URL is required")
	}
	if config.RuleService.BatchSize <= 0 {
		return fmt.Errorf("RULE_SERVICE_BATCH_SIZE must be positive")
	}
	if config.Pipeline.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_TASKS must be positive")
	}
	if config.Pipeline.UnitWorkers <= 0 {
		return fmt.Errorf("UNIT_WORKERS must be positive")
	}
	// OPENAI_API_KEY is optional: pattern-only tasks never touch the model
	// service, and semantic tasks fail per-unit with a placeholder instead.
	return nil
}

// Helper functions for environment variable access
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
