// --- File: internal/platform/apns/gateway.go ---
// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	Sandbox      bool
}

type Gateway struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

var _ broadcast.Gateway = (*Gateway)(nil)

// NewGateway parses the P8 key immediately to fail fast on bad credentials.
func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return NewGatewayWithClient(client, cfg.BundleID, logger), nil
}

func NewGatewayWithClient(client APNSClient, topic string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSGateway"),
	}
}

// Send pushes each message in order. APNs has no multicast endpoint, so a
// transport failure part-way through abandons the rest of the chunk.
func (g *Gateway) Send(ctx context.Context, messages []broadcast.Message) ([]broadcast.Ticket, error) {
	tickets := make([]broadcast.Ticket, 0, len(messages))

	for _, m := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := g.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: m.To,
			Topic:       g.topic,
			Payload:     buildPayload(m),
		})
		if err != nil {
			return nil, fmt.Errorf("apns transport failed after %d of %d messages: %w", len(tickets), len(messages), err)
		}

		if res.Sent() {
			tickets = append(tickets, broadcast.Ticket{Status: broadcast.TicketStatusOK, ID: res.ApnsID})
			continue
		}
		tickets = append(tickets, broadcast.Ticket{
			Status:  broadcast.TicketStatusError,
			Message: fmt.Sprintf("apns status %d", res.StatusCode),
			Details: &broadcast.TicketDetails{Error: res.Reason},
		})
	}

	return tickets, nil
}

func buildPayload(m broadcast.Message) *payload.Payload {
	return payload.NewPayload().
		AlertTitle(m.Title).
		AlertBody(m.Body).
		Sound(m.Sound).
		Custom("type", m.Data.Type).
		Custom("event", m.Data.Event)
}
