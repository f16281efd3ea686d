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

// RedisConfig provides the shared redis connection used for claims and jobs.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
}

// SchedulerConfig provides asynq settings for the scheduler process.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDispatchInterval() time.Duration
	GetPurchaseSyncInterval() time.Duration
	GetPurchaseSyncLookbackDays() int
}

// KiwifyConfig provides payment provider credentials.
type KiwifyConfig interface {
	GetKiwifyBaseURL() string
	GetKiwifyTokenURLs() []string
	GetKiwifyClientID() string
	GetKiwifyClientSecret() string
	GetKiwifyAccountID() string
	GetKiwifyWebhookToken() string
}

// WhatsAppConfig provides messaging provider settings.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppInstance() string
}

// OutreachConfig provides defaults for the dispatch policy.
type OutreachConfig interface {
	GetOutreachPolicyFile() string
	GetDefaultCountryCode() string
}

// ReconcileConfig provides purchase reconciliation switches.
type ReconcileConfig interface {
	GetPartialEmailMatch() bool
	GetSyncDetailLimit() int
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketSyncArchive() string
	IsMinIOEnabled() bool
}

// AlertConfig provides SMTP settings for operator alerts.
type AlertConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetAlertFromAddress() string
	GetAlertRecipients() []string
	IsAlertEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	JWTAccessSecret          string
	CORSAllowAll             bool
	CORSOrigins              []string
	CORSAllowCreds           bool
	RedisURL                 string
	RedisTLSInsecure         bool
	AsynqQueueName           string
	AsynqConcurrency         int
	DispatchInterval         time.Duration
	PurchaseSyncInterval     time.Duration
	PurchaseSyncLookbackDays int
	KiwifyBaseURL            string
	KiwifyTokenURLs          []string
	KiwifyClientID           string
	KiwifyClientSecret       string
	KiwifyAccountID          string
	KiwifyWebhookToken       string
	WhatsAppURL              string
	WhatsAppKey              string
	WhatsAppInstance         string
	OutreachPolicyFile       string
	DefaultCountryCode       string
	PartialEmailMatch        bool
	SyncDetailLimit          int
	MinIOEndpoint            string
	MinIOAccessKey           string
	MinIOSecretKey           string
	MinIOUseSSL              bool
	MinioBucketSyncArchive   string
	SMTPHost                 string
	SMTPPort                 int
	SMTPUsername             string
	SMTPPassword             string
	AlertFromAddress         string
	AlertRecipients          []string
}

// =============================================================================
// Interface Implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                    { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool              { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string              { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int               { return c.AsynqConcurrency }
func (c *Config) GetDispatchInterval() time.Duration     { return c.DispatchInterval }
func (c *Config) GetPurchaseSyncInterval() time.Duration { return c.PurchaseSyncInterval }
func (c *Config) GetPurchaseSyncLookbackDays() int       { return c.PurchaseSyncLookbackDays }

// KiwifyConfig implementation
func (c *Config) GetKiwifyBaseURL() string      { return c.KiwifyBaseURL }
func (c *Config) GetKiwifyTokenURLs() []string  { return c.KiwifyTokenURLs }
func (c *Config) GetKiwifyClientID() string     { return c.KiwifyClientID }
func (c *Config) GetKiwifyClientSecret() string { return c.KiwifyClientSecret }
func (c *Config) GetKiwifyAccountID() string    { return c.KiwifyAccountID }
func (c *Config) GetKiwifyWebhookToken() string { return c.KiwifyWebhookToken }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppInstance() string { return c.WhatsAppInstance }

// OutreachConfig implementation
func (c *Config) GetOutreachPolicyFile() string { return c.OutreachPolicyFile }
func (c *Config) GetDefaultCountryCode() string { return c.DefaultCountryCode }

// ReconcileConfig implementation
func (c *Config) GetPartialEmailMatch() bool { return c.PartialEmailMatch }
func (c *Config) GetSyncDetailLimit() int    { return c.SyncDetailLimit }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketSyncArchive() string { return c.MinioBucketSyncArchive }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

// AlertConfig implementation
func (c *Config) GetSMTPHost() string          { return c.SMTPHost }
func (c *Config) GetSMTPPort() int             { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string      { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string      { return c.SMTPPassword }
func (c *Config) GetAlertFromAddress() string  { return c.AlertFromAddress }
func (c *Config) GetAlertRecipients() []string { return c.AlertRecipients }
func (c *Config) IsAlertEnabled() bool {
	return c.SMTPHost != "" && c.AlertFromAddress != "" && len(c.AlertRecipients) > 0
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTAccessSecret:          getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		CORSAllowCreds:           strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "salesops"),
		AsynqConcurrency:         mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		DispatchInterval:         mustDuration(getEnv("DISPATCH_INTERVAL", "1m")),
		PurchaseSyncInterval:     mustDuration(getEnv("PURCHASE_SYNC_INTERVAL", "6h")),
		PurchaseSyncLookbackDays: mustInt(getEnv("PURCHASE_SYNC_LOOKBACK_DAYS", "1")),
		KiwifyBaseURL:            getEnv("KIWIFY_BASE_URL", "https://public-api.kiwify.com"),
		KiwifyTokenURLs:          splitCSV(getEnv("KIWIFY_TOKEN_URLS", "")),
		KiwifyClientID:           getEnv("KIWIFY_CLIENT_ID", ""),
		KiwifyClientSecret:       getEnv("KIWIFY_CLIENT_SECRET", ""),
		KiwifyAccountID:          getEnv("KIWIFY_ACCOUNT_ID", ""),
		KiwifyWebhookToken:       getEnv("KIWIFY_WEBHOOK_TOKEN", ""),
		WhatsAppURL:              getEnv("EVOLUTION_API_URL", ""),
		WhatsAppKey:              getEnv("EVOLUTION_API_KEY", ""),
		WhatsAppInstance:         getEnv("EVOLUTION_INSTANCE", ""),
		OutreachPolicyFile:       getEnv("OUTREACH_POLICY_FILE", ""),
		DefaultCountryCode:       getEnv("DEFAULT_COUNTRY_CODE", "+55"),
		PartialEmailMatch:        strings.EqualFold(getEnv("RECONCILE_PARTIAL_MATCH", "true"), "true"),
		SyncDetailLimit:          mustInt(getEnv("RECONCILE_DETAIL_LIMIT", "100")),
		MinIOEndpoint:            getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:              strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketSyncArchive:   getEnv("MINIO_BUCKET_SYNC_ARCHIVE", "purchase-sync-archive"),
		SMTPHost:                 getEnv("SMTP_HOST", ""),
		SMTPPort:                 mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:             getEnv("SMTP_USERNAME", ""),
		SMTPPassword:             getEnv("SMTP_PASSWORD", ""),
		AlertFromAddress:         getEnv("ALERT_FROM_ADDRESS", ""),
		AlertRecipients:          splitCSV(getEnv("ALERT_RECIPIENTS", "")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.DispatchInterval <= 0 || cfg.PurchaseSyncInterval <= 0 {
		return nil, fmt.Errorf("DISPATCH_INTERVAL and PURCHASE_SYNC_INTERVAL must be positive durations")
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
