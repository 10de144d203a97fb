package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Bulk     BulkConfig     `mapstructure:"bulk" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`
	// ShutdownTimeoutSeconds bounds graceful HTTP shutdown.
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name" validate:"required"`
	// PromptTemplateDir holds one <category>.tmpl per category. Empty uses the
	// built-in templates.
	PromptTemplateDir     string `mapstructure:"prompt_template_dir"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	// RequestsPerMinute caps producer calls per category; 0 disables the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// BulkConfig contains the scheduler defaults and housekeeping settings.
type BulkConfig struct {
	DefaultBatchSize             int   `mapstructure:"default_batch_size" validate:"gt=0"`
	DefaultMaxRetries            int   `mapstructure:"default_max_retries" validate:"gt=0"`
	DefaultDelayBetweenBatchesMS int64 `mapstructure:"default_delay_between_batches_ms" validate:"gte=0"`
	DefaultDelayBetweenItemsMS   int64 `mapstructure:"default_delay_between_items_ms" validate:"gte=0"`
	RetryBaseDelayMS             int64 `mapstructure:"retry_base_delay_ms" validate:"gt=0"`
	MaxItemsPerJob               int   `mapstructure:"max_items_per_job" validate:"gt=0"`
	JobRetentionMinutes          int   `mapstructure:"job_retention_minutes" validate:"gt=0"`
	CleanupIntervalMinutes       int   `mapstructure:"cleanup_interval_minutes" validate:"gt=0"`
	LeaseTTLSeconds              int   `mapstructure:"lease_ttl_seconds" validate:"gt=0"`

	// InstanceID names this instance in job leases. It must be stable across
	// restarts and unique among instances sharing a database. Empty uses the
	// hostname.
	InstanceID string `mapstructure:"instance_id"`
}

// RetryBaseDelay returns the first backoff delay as a duration.
func (c BulkConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// JobRetention returns how long finished jobs are kept.
func (c BulkConfig) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMinutes) * time.Minute
}

// CleanupInterval returns how often old jobs are purged.
func (c BulkConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

// LeaseTTL returns how long a job lease stays valid without renewal.
func (c BulkConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// ReclaimInterval returns how often jobs with a lapsed lease are looked for.
func (c BulkConfig) ReclaimInterval() time.Duration {
	return c.LeaseTTL() / 2
}
