// --- File: broadcastservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	LockTTL  string `yaml:"lock_ttl"`
}

type YamlStoreConfig struct {
	Kind        string `yaml:"kind"`
	DatabaseDSN string `yaml:"database_dsn"`
}

type YamlGatewayConfig struct {
	Kind        string `yaml:"kind"`
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`
	Timeout     string `yaml:"timeout"`
}

type YamlApnsConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlBroadcastConfig struct {
	BatchSize     int      `yaml:"batch_size"`
	TokenPrefixes []string `yaml:"token_prefixes"`
	Sound         string   `yaml:"sound"`
	MaxRetries    int      `yaml:"max_retries"`
	RetryInterval string   `yaml:"retry_interval"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	StoreConfig            YamlStoreConfig     `yaml:"store"`
	GatewayConfig          YamlGatewayConfig   `yaml:"gateway"`
	ApnsConfig             YamlApnsConfig      `yaml:"apns"`
	BroadcastConfig        YamlBroadcastConfig `yaml:"broadcast"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	lockTTL, err := parseOptionalDuration("redis.lock_ttl", baseCfg.RedisConfig.LockTTL)
	if err != nil {
		return nil, err
	}
	gatewayTimeout, err := parseOptionalDuration("gateway.timeout", baseCfg.GatewayConfig.Timeout)
	if err != nil {
		return nil, err
	}
	retryInterval, err := parseOptionalDuration("broadcast.retry_interval", baseCfg.BroadcastConfig.RetryInterval)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			LockTTL:  lockTTL,
		},
		Store: StoreConfig{
			Kind:        baseCfg.StoreConfig.Kind,
			DatabaseDSN: baseCfg.StoreConfig.DatabaseDSN,
		},
		Gateway: GatewayConfig{
			Kind:        baseCfg.GatewayConfig.Kind,
			URL:         baseCfg.GatewayConfig.URL,
			AccessToken: baseCfg.GatewayConfig.AccessToken,
			Timeout:     gatewayTimeout,
		},
		// The P8 key is a secret and only comes from the environment.
		Apns: ApnsConfig{
			KeyID:    baseCfg.ApnsConfig.KeyID,
			TeamID:   baseCfg.ApnsConfig.TeamID,
			BundleID: baseCfg.ApnsConfig.BundleID,
			Sandbox:  baseCfg.ApnsConfig.Sandbox,
		},
		Broadcast: BroadcastConfig{
			BatchSize:     baseCfg.BroadcastConfig.BatchSize,
			TokenPrefixes: baseCfg.BroadcastConfig.TokenPrefixes,
			Sound:         baseCfg.BroadcastConfig.Sound,
			MaxRetries:    baseCfg.BroadcastConfig.MaxRetries,
			RetryInterval: retryInterval,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"store", cfg.Store.Kind,
		"gateway", cfg.Gateway.Kind,
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
