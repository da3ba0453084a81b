package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// Config holds the tunables of a broadcast run.
type Config struct {
	TokenPrefixes []string
	Sound         string
	BatchSize     int
	MaxRetries    int
	RetryInterval time.Duration
}

// Broadcaster runs the reset -> select -> build -> dispatch -> reconcile pipeline.
// Runs on one Broadcaster take turns; each one resets state the previous one wrote.
type Broadcaster struct {
	mu      sync.Mutex
	store   broadcast.TokenStore
	gateway broadcast.Gateway
	cfg     Config
	logger  *slog.Logger
}

var _ broadcast.Runner = (*Broadcaster)(nil)

func NewBroadcaster(store broadcast.TokenStore, gateway broadcast.Gateway, cfg Config, logger *slog.Logger) *Broadcaster {
	if len(cfg.TokenPrefixes) == 0 {
		cfg.TokenPrefixes = []string{DefaultTokenPrefix}
	}
	return &Broadcaster{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With("component", "Broadcaster"),
	}
}

// Run executes one broadcast for the event. Storage failures abort the run and are
// returned; gateway failures are absorbed into the report.
func (b *Broadcaster) Run(ctx context.Context, event broadcast.Event) (*broadcast.Report, error) {
	report := &broadcast.Report{RunID: uuid.NewString()}
	runLogger := b.logger.With("run_id", report.RunID, "event", event.Event, "type", event.Type)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ResetTokens(ctx, b.store, runLogger); err != nil {
		return report, err
	}

	tokens, err := SelectTokens(ctx, b.store, b.cfg.TokenPrefixes, runLogger)
	if err != nil {
		return report, err
	}
	report.Selected = len(tokens)
	if len(tokens) == 0 {
		runLogger.Info("No eligible tokens; nothing to send")
		return report, nil
	}

	messages := BuildMessages(tokens, event, b.cfg.Sound)

	result := SendBatches(ctx, b.gateway, messages, DispatchOptions{
		BatchSize:     b.cfg.BatchSize,
		MaxRetries:    b.cfg.MaxRetries,
		RetryInterval: b.cfg.RetryInterval,
	}, runLogger)
	report.Sent = len(result.Sent)
	report.Invalid = len(result.Invalid)
	report.Dropped = len(result.Dropped)

	if err := Reconcile(ctx, b.store, result, runLogger); err != nil {
		return report, err
	}

	runLogger.Info("Broadcast complete",
		"selected", report.Selected,
		"sent", report.Sent,
		"invalid", report.Invalid,
		"dropped", report.Dropped,
	)
	return report, nil
}
