// --- File: cmd/broadcastservice/runbroadcastservice.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice"
	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/broadcast"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/apns"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/expo"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-broadcast-service/internal/runlock"
	fsStore "github.com/tinywideclouds/go-broadcast-service/internal/storage/firestore"
	"github.com/tinywideclouds/go-broadcast-service/internal/storage/memory"
	pgStore "github.com/tinywideclouds/go-broadcast-service/internal/storage/postgres"
	bc "github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-broadcast-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Failed to map yaml config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Token Store ---
	tokenStore, closeStore, err := newTokenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("TokenStore initialization failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Gateway ---
	gateway, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gateway initialization failed", "err", err)
		os.Exit(1)
	}

	// --- Runner (Decorated) ---
	var runner bc.Runner = broadcast.NewBroadcaster(tokenStore, gateway, broadcast.Config{
		TokenPrefixes: cfg.Broadcast.TokenPrefixes,
		Sound:         cfg.Broadcast.Sound,
		BatchSize:     cfg.Broadcast.BatchSize,
		MaxRetries:    cfg.Broadcast.MaxRetries,
		RetryInterval: cfg.Broadcast.RetryInterval,
	}, logger)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis broadcast lock...", "addr", cfg.Redis.Addr)
		redisClient, err := runlock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		runner = runlock.NewLockedRunner(runner, redisClient, runlock.Config{TTL: cfg.Redis.LockTTL}, logger)
		logger.Info("Runner upgraded", "type", "redis_locked", "lock_ttl", cfg.Redis.LockTTL)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT config discovery failed", "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("Auth middleware creation failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer & Service ---
	consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
	if err != nil {
		logger.Error("Consumer creation failed", "err", err)
		os.Exit(1)
	}

	service, err := broadcastservice.New(cfg, consumer, runner, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "store", cfg.Store.Kind, "gateway", cfg.Gateway.Kind)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "err", err)
	}
}

func newTokenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bc.TokenStore, func(), error) {
	switch cfg.Store.Kind {
	case config.StoreMemory:
		logger.Warn("Using in-memory TokenStore; state is lost on restart")
		return memory.NewTokenStore(), func() {}, nil

	case config.StorePostgres:
		db, err := pgStore.Open(cfg.Store.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("TokenStore initialized", "type", "postgres")
		return pgStore.NewTokenStore(db), func() { _ = pgStore.Close(db) }, nil

	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("TokenStore initialized", "type", "firestore")
		return fsStore.NewFirestoreStore(fsClient), func() { _ = fsClient.Close() }, nil
	}
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bc.Gateway, error) {
	switch cfg.Gateway.Kind {
	case config.GatewayFCM:
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
		}
		fcmMessaging, err := fbApp.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		return fcm.NewGateway(fcmMessaging, logger), nil

	case config.GatewayAPNS:
		return apns.NewGateway(apns.Config{
			KeyID:        cfg.Apns.KeyID,
			TeamID:       cfg.Apns.TeamID,
			BundleID:     cfg.Apns.BundleID,
			P8KeyContent: cfg.Apns.P8KeyContent,
			Sandbox:      cfg.Apns.Sandbox,
		}, logger)

	default:
		return expo.NewGateway(expo.Config{
			Endpoint:    cfg.Gateway.URL,
			AccessToken: cfg.Gateway.AccessToken,
			Timeout:     cfg.Gateway.Timeout,
		}, logger)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    60,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
