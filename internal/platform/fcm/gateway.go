// --- File: internal/platform/fcm/gateway.go ---
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

type Gateway struct {
	client MessagingClient
	logger *slog.Logger
}

var _ broadcast.Gateway = (*Gateway)(nil)

func NewGateway(client MessagingClient, logger *slog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With("component", "FCMGateway"),
	}
}

// Send delivers the chunk with one SendEach call. FCM answers positionally.
func (g *Gateway) Send(ctx context.Context, messages []broadcast.Message) ([]broadcast.Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	batch := make([]*messaging.Message, 0, len(messages))
	for _, m := range messages {
		batch = append(batch, toFCMMessage(m))
	}

	br, err := g.client.SendEach(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	tickets := make([]broadcast.Ticket, 0, len(br.Responses))
	for _, resp := range br.Responses {
		if resp.Success {
			tickets = append(tickets, broadcast.Ticket{Status: broadcast.TicketStatusOK, ID: resp.MessageID})
			continue
		}
		tickets = append(tickets, failureTicket(resp.Error))
	}

	g.logger.Debug("FCM chunk sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return tickets, nil
}

func toFCMMessage(m broadcast.Message) *messaging.Message {
	return &messaging.Message{
		Token: m.To,
		Data: map[string]string{
			"type":  m.Data.Type,
			"event": m.Data.Event,
		},
		Notification: &messaging.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Sound: m.Sound},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: m.Sound}},
		},
	}
}

func failureTicket(err error) broadcast.Ticket {
	ticket := broadcast.Ticket{Status: broadcast.TicketStatusError}
	if err == nil {
		return ticket
	}
	ticket.Message = err.Error()
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		ticket.Details = &broadcast.TicketDetails{Error: "DeviceNotRegistered"}
	case messaging.IsInvalidArgument(err):
		ticket.Details = &broadcast.TicketDetails{Error: "InvalidArgument"}
	}
	return ticket
}
