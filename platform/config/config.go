// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides redis connection settings for the duplicate
// detector and the background job queue.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// DispatchConfig provides bulk dispatch defaults and limits.
type DispatchConfig interface {
	GetDispatchDefaultConcurrency() int
	GetDispatchDefaultMaxAttempts() int
	GetDispatchSyncRecipientLimit() int
	GetDispatchJobBatchSize() int
	GetDuplicateWindow() time.Duration
}

// ProviderConfig provides upstream provider connection settings.
type ProviderConfig interface {
	GetGraphAPIBaseURL() string
	GetGatewayBaseURL() string
	GetProviderTimeout() time.Duration
	GetProviderRatePerSecond() float64
}

// WebhookConfig provides inbound webhook verification settings.
type WebhookConfig interface {
	GetMetaAppSecret() string
	GetMetaVerifyToken() string
	GetGatewayWebhookToken() string
	GetWebhookQueueSize() int
	GetWebhookRecentBufferSize() int
}

// SchedulerConfig provides settings for the asynq worker.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for job summary emails.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                        string
	HTTPAddr                   string
	DatabaseURL                string
	RedisURL                   string
	RedisTLSInsecure           bool
	JWTAccessSecret            string
	CORSAllowAll               bool
	CORSOrigins                []string
	CORSAllowCreds             bool
	DispatchDefaultConcurrency int
	DispatchDefaultMaxAttempts int
	DispatchSyncRecipientLimit int
	DispatchJobBatchSize       int
	DuplicateWindow            time.Duration
	GraphAPIBaseURL            string
	GatewayBaseURL             string
	ProviderTimeout            time.Duration
	ProviderRatePerSecond      float64
	MetaAppSecret              string
	MetaVerifyToken            string
	GatewayWebhookToken        string
	WebhookQueueSize           int
	WebhookRecentBufferSize    int
	AsynqQueueName             string
	AsynqConcurrency           int
	EmailEnabled               bool
	SMTPHost                   string
	SMTPPort                   int
	SMTPUsername               string
	SMTPPassword               string
	EmailFromName              string
	EmailFromAddress           string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// DispatchConfig implementation
func (c *Config) GetDispatchDefaultConcurrency() int { return c.DispatchDefaultConcurrency }
func (c *Config) GetDispatchDefaultMaxAttempts() int { return c.DispatchDefaultMaxAttempts }
func (c *Config) GetDispatchSyncRecipientLimit() int { return c.DispatchSyncRecipientLimit }
func (c *Config) GetDispatchJobBatchSize() int       { return c.DispatchJobBatchSize }
func (c *Config) GetDuplicateWindow() time.Duration  { return c.DuplicateWindow }

// ProviderConfig implementation
func (c *Config) GetGraphAPIBaseURL() string         { return c.GraphAPIBaseURL }
func (c *Config) GetGatewayBaseURL() string          { return c.GatewayBaseURL }
func (c *Config) GetProviderTimeout() time.Duration  { return c.ProviderTimeout }
func (c *Config) GetProviderRatePerSecond() float64  { return c.ProviderRatePerSecond }

// WebhookConfig implementation
func (c *Config) GetMetaAppSecret() string         { return c.MetaAppSecret }
func (c *Config) GetMetaVerifyToken() string       { return c.MetaVerifyToken }
func (c *Config) GetGatewayWebhookToken() string   { return c.GatewayWebhookToken }
func (c *Config) GetWebhookQueueSize() int         { return c.WebhookQueueSize }
func (c *Config) GetWebhookRecentBufferSize() int  { return c.WebhookRecentBufferSize }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                        getEnv("APP_ENV", "development"),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		RedisURL:                   getEnv("REDIS_URL", ""),
		RedisTLSInsecure:           strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		JWTAccessSecret:            getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:               corsAllowAll,
		CORSOrigins:                corsOrigins,
		CORSAllowCreds:             strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		DispatchDefaultConcurrency: mustInt(getEnv("DISPATCH_DEFAULT_CONCURRENCY", "10")),
		DispatchDefaultMaxAttempts: mustInt(getEnv("DISPATCH_DEFAULT_MAX_ATTEMPTS", "3")),
		DispatchSyncRecipientLimit: mustInt(getEnv("DISPATCH_SYNC_RECIPIENT_LIMIT", "50")),
		DispatchJobBatchSize:       mustInt(getEnv("DISPATCH_JOB_BATCH_SIZE", "50")),
		DuplicateWindow:            mustDuration(getEnv("DUPLICATE_WINDOW", "5m")),
		GraphAPIBaseURL:            getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		GatewayBaseURL:             getEnv("GATEWAY_BASE_URL", ""),
		ProviderTimeout:            mustDuration(getEnv("PROVIDER_TIMEOUT", "30s")),
		ProviderRatePerSecond:      mustFloat(getEnv("PROVIDER_RATE_PER_SECOND", "20")),
		MetaAppSecret:              getEnv("META_APP_SECRET", ""),
		MetaVerifyToken:            getEnv("META_VERIFY_TOKEN", ""),
		GatewayWebhookToken:        getEnv("GATEWAY_WEBHOOK_TOKEN", ""),
		WebhookQueueSize:           mustInt(getEnv("WEBHOOK_QUEUE_SIZE", "1024")),
		WebhookRecentBufferSize:    mustInt(getEnv("WEBHOOK_RECENT_BUFFER_SIZE", "256")),
		AsynqQueueName:             getEnv("ASYNQ_QUEUE_NAME", "campaigns"),
		AsynqConcurrency:           mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		EmailEnabled:               emailEnabled && smtpHost != "",
		SMTPHost:                   smtpHost,
		SMTPPort:                   mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:               getEnv("SMTP_USERNAME", ""),
		SMTPPassword:               getEnv("SMTP_PASSWORD", ""),
		EmailFromName:              getEnv("EMAIL_FROM_NAME", "Campaigns"),
		EmailFromAddress:           getEnv("EMAIL_FROM_ADDRESS", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.DispatchSyncRecipientLimit < 1 {
		return nil, fmt.Errorf("DISPATCH_SYNC_RECIPIENT_LIMIT must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
