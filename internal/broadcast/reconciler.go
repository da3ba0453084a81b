package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// Reconcile persists the outcome of a dispatch. The two updates are independent:
// a failure of one does not prevent the other, and both errors are returned.
func Reconcile(ctx context.Context, store broadcast.TokenStore, result broadcast.BatchResult, logger *slog.Logger) error {
	var errs []error

	if len(result.Sent) > 0 {
		if err := store.MarkNotified(ctx, result.Sent); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark %d tokens notified: %w", len(result.Sent), err))
		} else {
			logger.Info("Marked tokens as notified", "count", len(result.Sent))
		}
	}

	if len(result.Invalid) > 0 {
		if err := store.MarkInvalid(ctx, result.Invalid); err != nil {
			errs = append(errs, fmt.Errorf("failed to demote %d invalid tokens: %w", len(result.Invalid), err))
		} else {
			logger.Info("Demoted invalid tokens to draft", "count", len(result.Invalid))
		}
	}

	if len(result.Dropped) > 0 {
		logger.Warn("Tokens with unknown outcome left untouched", "count", len(result.Dropped))
	}

	return errors.Join(errs...)
}
