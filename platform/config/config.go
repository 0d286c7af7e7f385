// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
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

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketCallRecordings() string
	IsMinIOEnabled() bool
}

// VoiceProviderConfig provides settings for the conversational-AI provider API.
type VoiceProviderConfig interface {
	GetVoiceProviderBaseURL() string
	GetVoiceProviderAPIKey() string
	GetVoiceProviderTimeout() time.Duration
}

// VoiceWebhookConfig provides settings for the post-call webhook pipeline.
type VoiceWebhookConfig interface {
	GetVoiceWebhookSecret() string
	GetVoiceWebhookEnforceSignature() bool
	GetVoiceWebhookTolerance() time.Duration
	GetDefaultTenantID() uuid.UUID
	GetVoiceDefaultRegion() string
	GetVoiceLocation() *time.Location
	GetVoiceInflightLockTTL() time.Duration
}

// VoiceSchedulingConfig provides settings for background work derived from calls.
type VoiceSchedulingConfig interface {
	GetVoiceReminderLeadTime() time.Duration
	GetVoiceRecordingArchiveEnabled() bool
	GetVoiceSessionStaleAfter() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                         string
	HTTPAddr                    string
	DatabaseURL                 string
	MigrationsEnabled           bool
	JWTAccessSecret             string
	CORSAllowAll                bool
	CORSOrigins                 []string
	CORSAllowCreds              bool
	RedisURL                    string
	RedisTLSInsecure            bool
	AsynqQueueName              string
	AsynqConcurrency            int
	MinIOEndpoint               string
	MinIOAccessKey              string
	MinIOSecretKey              string
	MinIOUseSSL                 bool
	MinIOMaxFileSize            int64
	MinioBucketCallRecordings   string
	VoiceProviderBaseURL        string
	VoiceProviderAPIKey         string
	VoiceProviderTimeout        time.Duration
	VoiceWebhookSecret          string
	VoiceWebhookEnforce         bool
	VoiceWebhookTolerance       time.Duration
	DefaultTenantID             uuid.UUID
	VoiceDefaultRegion          string
	VoiceLocation               *time.Location
	VoiceInflightLockTTL        time.Duration
	VoiceReminderLeadTime       time.Duration
	VoiceRecordingArchive       bool
	VoiceSessionStaleAfter      time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketCallRecordings() string {
	return c.MinioBucketCallRecordings
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// VoiceProviderConfig implementation
func (c *Config) GetVoiceProviderBaseURL() string         { return c.VoiceProviderBaseURL }
func (c *Config) GetVoiceProviderAPIKey() string          { return c.VoiceProviderAPIKey }
func (c *Config) GetVoiceProviderTimeout() time.Duration  { return c.VoiceProviderTimeout }

// VoiceWebhookConfig implementation
func (c *Config) GetVoiceWebhookSecret() string            { return c.VoiceWebhookSecret }
func (c *Config) GetVoiceWebhookEnforceSignature() bool    { return c.VoiceWebhookEnforce }
func (c *Config) GetVoiceWebhookTolerance() time.Duration  { return c.VoiceWebhookTolerance }
func (c *Config) GetDefaultTenantID() uuid.UUID            { return c.DefaultTenantID }
func (c *Config) GetVoiceDefaultRegion() string            { return c.VoiceDefaultRegion }
func (c *Config) GetVoiceLocation() *time.Location         { return c.VoiceLocation }
func (c *Config) GetVoiceInflightLockTTL() time.Duration   { return c.VoiceInflightLockTTL }

// VoiceSchedulingConfig implementation
func (c *Config) GetVoiceReminderLeadTime() time.Duration { return c.VoiceReminderLeadTime }
func (c *Config) GetVoiceRecordingArchiveEnabled() bool {
	return c.VoiceRecordingArchive && c.IsMinIOEnabled()
}
func (c *Config) GetVoiceSessionStaleAfter() time.Duration { return c.VoiceSessionStaleAfter }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		MigrationsEnabled:         strings.EqualFold(getEnv("DB_MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:           getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MinIOEndpoint:             getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:            getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:            getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:               strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:          mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "104857600")),
		MinioBucketCallRecordings: getEnv("MINIO_BUCKET_CALL_RECORDINGS", "call-recordings"),
		VoiceProviderBaseURL:      strings.TrimRight(getEnv("VOICE_PROVIDER_BASE_URL", "https://api.elevenlabs.io/v1/convai"), "/"),
		VoiceProviderAPIKey:       getEnv("VOICE_PROVIDER_API_KEY", ""),
		VoiceProviderTimeout:      mustDuration(getEnv("VOICE_PROVIDER_TIMEOUT", "15s")),
		VoiceWebhookSecret:        getEnv("VOICE_WEBHOOK_SECRET", ""),
		VoiceWebhookEnforce:       strings.EqualFold(getEnv("VOICE_WEBHOOK_ENFORCE_SIGNATURE", "false"), "true"),
		VoiceWebhookTolerance:     mustDuration(getEnv("VOICE_WEBHOOK_TOLERANCE", "30m")),
		VoiceDefaultRegion:        getEnv("VOICE_DEFAULT_REGION", "EG"),
		VoiceInflightLockTTL:      mustDuration(getEnv("VOICE_INFLIGHT_LOCK_TTL", "2m")),
		VoiceReminderLeadTime:     mustDuration(getEnv("VOICE_REMINDER_LEAD_TIME", "1h")),
		VoiceRecordingArchive:     strings.EqualFold(getEnv("VOICE_RECORDING_ARCHIVE", "false"), "true"),
		VoiceSessionStaleAfter:    mustDuration(getEnv("VOICE_SESSION_STALE_AFTER", "24h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	tenantID, err := uuid.Parse(strings.TrimSpace(getEnv("DEFAULT_TENANT_ID", "")))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TENANT_ID must be a valid UUID: %w", err)
	}
	cfg.DefaultTenantID = tenantID

	loc, err := time.LoadLocation(getEnv("VOICE_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("VOICE_TIMEZONE is invalid: %w", err)
	}
	cfg.VoiceLocation = loc

	if cfg.VoiceWebhookEnforce && cfg.VoiceWebhookSecret == "" {
		return nil, fmt.Errorf("VOICE_WEBHOOK_SECRET is required when VOICE_WEBHOOK_ENFORCE_SIGNATURE is true")
	}
	if cfg.VoiceProviderTimeout <= 0 {
		return nil, fmt.Errorf("VOICE_PROVIDER_TIMEOUT must be a positive duration")
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
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
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
