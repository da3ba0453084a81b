// --- File: pkg/broadcast/interfaces.go ---
package broadcast

import (
	"context"
)

// TokenStore defines the contract for the persisted push token table.
// Every method is a bulk operation; none of them are transactional across calls.
type TokenStore interface {
	// ResetNotified sets notified=false on every token record.
	ResetNotified(ctx context.Context) error

	// FindTokens returns the push tokens of every record matching the query.
	// Duplicates and malformed tokens are returned as stored.
	FindTokens(ctx context.Context, query TokenQuery) ([]string, error)

	// MarkNotified sets notified=true on the given tokens.
	MarkNotified(ctx context.Context, tokens []string) error

	// MarkInvalid sets notified=false and status=draft on the given tokens.
	MarkInvalid(ctx context.Context, tokens []string) error
}

// Gateway defines the contract for a push delivery service.
type Gateway interface {
	// Send delivers one chunk of messages in a single request.
	// The returned tickets are positional: tickets[i] is the result for messages[i].
	// A non-nil error means the outcome of the whole chunk is unknown.
	Send(ctx context.Context, messages []Message) ([]Ticket, error)
}

// Runner executes one broadcast run for a triggering event.
type Runner interface {
	Run(ctx context.Context, event Event) (*Report, error)
}

// TransientError is implemented by gateway errors that know whether a later
// attempt could succeed. Errors that do not implement it are treated as transient.
type TransientError interface {
	error
	IsTransient() bool
}
