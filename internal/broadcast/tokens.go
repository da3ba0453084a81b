// Package broadcast implements the broadcast run: token reset, token selection,
// message building, chunked dispatch and state reconciliation.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// DefaultTokenPrefix is the prefix of every well-formed Expo push token.
const DefaultTokenPrefix = "ExponentPushToken"

// broadcastQuery is the business-rule filter for tokens eligible for a broadcast.
var broadcastQuery = broadcast.TokenQuery{IsForTest: true, Status: broadcast.StatusPublished}

// ResetTokens clears the notified flag on every tracked token.
func ResetTokens(ctx context.Context, store broadcast.TokenStore, logger *slog.Logger) error {
	if err := store.ResetNotified(ctx); err != nil {
		return fmt.Errorf("failed to reset notified tokens: %w", err)
	}
	logger.Info("Reset notified flag on all tokens")
	return nil
}

// SelectTokens returns the distinct published test tokens that match one of the prefixes.
func SelectTokens(ctx context.Context, store broadcast.TokenStore, prefixes []string, logger *slog.Logger) ([]string, error) {
	tokens, err := store.FindTokens(ctx, broadcastQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens: %w", err)
	}

	seen := make(map[string]struct{}, len(tokens))
	valid := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !hasAnyPrefix(t, prefixes) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		valid = append(valid, t)
	}

	logger.Info("Selected valid tokens", "found", len(tokens), "valid", len(valid))
	return valid, nil
}

func hasAnyPrefix(token string, prefixes []string) bool {
	if token == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(token, p) {
			return true
		}
	}
	return false
}
