package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// DefaultBatchSize is the maximum number of messages per gateway request.
const DefaultBatchSize = 100

// DispatchOptions controls how messages are chunked and sent.
type DispatchOptions struct {
	BatchSize int
	// MaxRetries is the number of extra attempts for a chunk that failed at the
	// transport level. Zero means a single attempt.
	MaxRetries    int
	RetryInterval time.Duration
}

func (o DispatchOptions) withDefaults() DispatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	return o
}

// SendBatches sends the messages in sequential chunks and classifies every token.
// Tickets are matched to messages by position within the chunk.
func SendBatches(
	ctx context.Context,
	gateway broadcast.Gateway,
	messages []broadcast.Message,
	opts DispatchOptions,
	logger *slog.Logger,
) broadcast.BatchResult {
	opts = opts.withDefaults()
	var result broadcast.BatchResult

	for start := 0; start < len(messages); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(messages))
		chunk := messages[start:end]
		chunkLogger := logger.With("chunk_start", start, "chunk_size", len(chunk))

		tickets, err := sendChunk(ctx, gateway, chunk, opts, chunkLogger)
		if err != nil {
			chunkLogger.Error("Gateway request failed; chunk dropped", "err", err)
			result.Dropped = append(result.Dropped, tokensOf(chunk)...)
			continue
		}

		if len(tickets) > len(chunk) {
			chunkLogger.Warn("Gateway returned more tickets than messages", "tickets", len(tickets))
		}

		for i, msg := range chunk {
			if i >= len(tickets) {
				chunkLogger.Warn("No ticket returned for token", "token", msg.To)
				result.Dropped = append(result.Dropped, msg.To)
				continue
			}
			ticket := tickets[i]
			if ticket.OK() {
				result.Sent = append(result.Sent, msg.To)
				continue
			}
			chunkLogger.Warn("Token rejected by gateway", "reason", ticket.Reason(), "token", msg.To)
			result.Invalid = append(result.Invalid, msg.To)
		}
	}

	return result
}

func sendChunk(
	ctx context.Context,
	gateway broadcast.Gateway,
	chunk []broadcast.Message,
	opts DispatchOptions,
	logger *slog.Logger,
) ([]broadcast.Ticket, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.RetryInterval
	policy.MaxElapsedTime = 0

	var tickets []broadcast.Ticket
	operation := func() error {
		var err error
		tickets, err = gateway.Send(ctx, chunk)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var te broadcast.TransientError
		if errors.As(err, &te) && !te.IsTransient() {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("Retrying gateway request", "err", err, "wait", wait)
	}

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(opts.MaxRetries)), ctx),
		notify,
	)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func tokensOf(messages []broadcast.Message) []string {
	tokens := make([]string, 0, len(messages))
	for _, m := range messages {
		tokens = append(tokens, m.To)
	}
	return tokens
}
