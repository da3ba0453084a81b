// --- File: broadcastservice/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"

	GatewayExpo = "expo"
	GatewayFCM  = "fcm"
	GatewayAPNS = "apns"

	defaultGatewayTimeout = 30 * time.Second
	defaultLockTTL        = 10 * time.Minute
	defaultRetryInterval  = 500 * time.Millisecond

	// expoMaxBatchSize is the most messages the Expo push API accepts per request.
	expoMaxBatchSize = 100
	expoTokenPrefix  = "ExponentPushToken"
	expoLegacyPrefix = "ExpoPushToken"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// LockTTL bounds how long one run may hold the shared broadcast lock.
	LockTTL  time.Duration
}

type StoreConfig struct {
	Kind        string
	DatabaseDSN string
}

type GatewayConfig struct {
	Kind        string
	URL         string
	AccessToken string
	Timeout     time.Duration
}

type ApnsConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

// BroadcastConfig holds the per-run tunables.
type BroadcastConfig struct {
	BatchSize     int
	TokenPrefixes []string
	Sound         string
	MaxRetries    int
	RetryInterval time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Store      StoreConfig
	Gateway    GatewayConfig
	Apns       ApnsConfig
	Broadcast  BroadcastConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Store Overrides
	if val := os.Getenv("STORE_KIND"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_KIND", "source", "env")
		cfg.Store.Kind = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_DSN"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_DSN", "source", "env")
		cfg.Store.DatabaseDSN = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_LOCK_TTL"); val != "" {
		if ttl, err := time.ParseDuration(val); err == nil {
			cfg.Redis.LockTTL = ttl
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Gateway Overrides
	if val := os.Getenv("GATEWAY_KIND"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_KIND", "source", "env")
		cfg.Gateway.Kind = strings.ToLower(val)
	}
	if val := os.Getenv("GATEWAY_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "GATEWAY_URL", "source", "env")
		cfg.Gateway.URL = val
	}
	if val := os.Getenv("EXPO_ACCESS_TOKEN"); val != "" {
		logger.Debug("Overriding config value", "key", "EXPO_ACCESS_TOKEN", "source", "env")
		cfg.Gateway.AccessToken = val
	}
	if val := os.Getenv("GATEWAY_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			logger.Debug("Overriding config value", "key", "GATEWAY_TIMEOUT", "source", "env")
			cfg.Gateway.Timeout = timeout
		}
	}

	// APNs Overrides
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.Apns.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.Apns.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.Apns.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.Apns.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.Apns.Sandbox = sandbox
	}

	// Broadcast Overrides
	if val := os.Getenv("BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			logger.Debug("Overriding config value", "key", "BATCH_SIZE", "source", "env")
			cfg.Broadcast.BatchSize = size
		}
	}
	if val := os.Getenv("TOKEN_PREFIXES"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_PREFIXES", "source", "env")
		cfg.Broadcast.TokenPrefixes = splitList(val)
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil && retries >= 0 {
			logger.Debug("Overriding config value", "key", "MAX_RETRIES", "source", "env")
			cfg.Broadcast.MaxRetries = retries
		}
	}
	if val := os.Getenv("RETRY_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			logger.Debug("Overriding config value", "key", "RETRY_INTERVAL", "source", "env")
			cfg.Broadcast.RetryInterval = interval
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	switch cfg.Store.Kind {
	case "":
		cfg.Store.Kind = StoreFirestore
	case StoreMemory, StoreFirestore:
	case StorePostgres:
		if cfg.Store.DatabaseDSN == "" {
			return nil, fmt.Errorf("database_dsn is required for the postgres store (set via YAML or DATABASE_DSN env var)")
		}
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}

	switch cfg.Gateway.Kind {
	case "":
		cfg.Gateway.Kind = GatewayExpo
	case GatewayExpo, GatewayFCM:
	case GatewayAPNS:
		if cfg.Apns.P8KeyContent == "" || cfg.Apns.KeyID == "" || cfg.Apns.TeamID == "" || cfg.Apns.BundleID == "" {
			return nil, fmt.Errorf("apns gateway requires key_id, team_id, bundle_id and p8 key")
		}
	default:
		return nil, fmt.Errorf("unknown gateway kind %q", cfg.Gateway.Kind)
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = defaultGatewayTimeout
	}
	if cfg.Redis.LockTTL <= 0 {
		cfg.Redis.LockTTL = defaultLockTTL
	}
	if err := validateBroadcast(cfg, logger); err != nil {
		return nil, err
	}
	if cfg.Broadcast.MaxRetries < 0 {
		cfg.Broadcast.MaxRetries = 0
	}
	if cfg.Broadcast.MaxRetries > 0 && cfg.Broadcast.RetryInterval <= 0 {
		cfg.Broadcast.RetryInterval = defaultRetryInterval
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func splitList(raw string) []string {
	var clean []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	return clean
}

// validateBroadcast checks the token prefixes and batch size against the gateway.
// Only Expo tokens can be sent through Expo, and Expo tokens mean nothing to
// FCM or APNs: every ticket would come back invalid and demote the whole audience.
func validateBroadcast(cfg *Config, logger *slog.Logger) error {
	if cfg.Gateway.Kind != GatewayExpo {
		if len(cfg.Broadcast.TokenPrefixes) == 0 {
			return fmt.Errorf("token_prefixes is required for the %s gateway (set via YAML or TOKEN_PREFIXES env var)", cfg.Gateway.Kind)
		}
		for _, prefix := range cfg.Broadcast.TokenPrefixes {
			if isExpoPrefix(prefix) {
				return fmt.Errorf("token prefix %q selects Expo tokens, which the %s gateway cannot deliver", prefix, cfg.Gateway.Kind)
			}
		}
		return nil
	}

	if len(cfg.Broadcast.TokenPrefixes) == 0 {
		cfg.Broadcast.TokenPrefixes = []string{expoTokenPrefix}
	}
	if cfg.Broadcast.BatchSize <= 0 {
		cfg.Broadcast.BatchSize = expoMaxBatchSize
	}
	if cfg.Broadcast.BatchSize > expoMaxBatchSize {
		logger.Warn("Batch size exceeds the Expo request limit, clamping",
			"requested", cfg.Broadcast.BatchSize, "max", expoMaxBatchSize)
		cfg.Broadcast.BatchSize = expoMaxBatchSize
	}
	return nil
}

func isExpoPrefix(prefix string) bool {
	return strings.HasPrefix(prefix, expoTokenPrefix) || strings.HasPrefix(prefix, expoLegacyPrefix) ||
		strings.HasPrefix(expoTokenPrefix, prefix) || strings.HasPrefix(expoLegacyPrefix, prefix)
}
