// Package expo provides the client for the Expo push notification service.
package expo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

const (
	DefaultEndpoint = "https://exp.host/--/api/v2/push/send"
	defaultTimeout  = 30 * time.Second
)

// Config holds the connection settings for the Expo push API.
type Config struct {
	Endpoint string
	// AccessToken is only required when enhanced push security is enabled on the Expo project.
	AccessToken string
	Timeout     time.Duration
}

// pushResponse mirrors the body returned by the push endpoint.
type pushResponse struct {
	Data   []broadcast.Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

type Gateway struct {
	client      *resty.Client
	endpoint    string
	accessToken string
	logger      *slog.Logger
}

var _ broadcast.Gateway = (*Gateway)(nil)

func NewGateway(cfg Config, logger *slog.Logger) (*Gateway, error) {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client.SetTimeout(timeout)
	return NewGatewayWithClient(cfg, client, logger)
}

// NewGatewayWithClient allows tests to inject a preconfigured resty client.
func NewGatewayWithClient(cfg Config, client *resty.Client, logger *slog.Logger) (*Gateway, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid expo endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTimeout)
	}
	// Retries are owned by the dispatcher.
	client.SetRetryCount(0)

	return &Gateway{
		client:      client,
		endpoint:    endpoint,
		accessToken: cfg.AccessToken,
		logger:      logger.With("component", "ExpoGateway"),
	}, nil
}

// Send posts the chunk as a JSON array and returns the tickets in request order.
func (g *Gateway) Send(ctx context.Context, messages []broadcast.Message) ([]broadcast.Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	req := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(messages)
	if g.accessToken != "" {
		req.SetAuthToken(g.accessToken)
	}

	res, err := req.Post(g.endpoint)
	if err != nil {
		return nil, &GatewayError{
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	status := res.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &GatewayError{
			StatusCode: status,
			Message:    strings.TrimSpace(res.String()),
			Transient:  isTransientHTTPStatus(status),
		}
	}

	var body pushResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		// Usually an intermediary answering in place of the gateway.
		return nil, &GatewayError{StatusCode: status, Message: "response is not valid json", Transient: true, Cause: err}
	}
	if body.Data == nil && len(body.Errors) > 0 {
		return nil, &GatewayError{StatusCode: status, Message: fmt.Sprintf("%s: %s", body.Errors[0].Code, body.Errors[0].Message)}
	}

	g.logger.Debug("Expo chunk accepted", "messages", len(messages), "tickets", len(body.Data))
	return body.Data, nil
}
