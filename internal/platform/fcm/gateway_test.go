// --- File: internal/platform/fcm/gateway_test.go ---
package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-broadcast-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) SendEach(ctx context.Context, msgs []*messaging.Message) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msgs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMGateway_Send(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()
	messages := []broadcast.Message{
		{To: "token-1", Title: "Test", Body: "Body", Data: broadcast.MessageData{Type: "news", Event: "e"}, Sound: "default"},
		{To: "token-2", Title: "Test", Body: "Body", Data: broadcast.MessageData{Type: "news", Event: "e"}, Sound: "default"},
	}

	t.Run("Happy Path - Tickets follow request order", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		mockResponse := &messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: false, Error: errors.New("boom")},
			},
		}
		mockClient.On("SendEach", ctx, mock.MatchedBy(func(msgs []*messaging.Message) bool {
			return len(msgs) == 2 &&
				msgs[0].Token == "token-1" &&
				msgs[1].Token == "token-2" &&
				msgs[0].Data["event"] == "e" &&
				msgs[0].Notification.Title == "Test"
		})).Return(mockResponse, nil)

		tickets, err := gateway.Send(ctx, messages)

		require.NoError(t, err)
		require.Len(t, tickets, 2)
		assert.True(t, tickets[0].OK())
		assert.Equal(t, "msg-1", tickets[0].ID)
		assert.False(t, tickets[1].OK())
		assert.Equal(t, "boom", tickets[1].Reason())
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)
		mockClient.On("SendEach", ctx, mock.Anything).Return(nil, errors.New("network down"))

		_, err := gateway.Send(ctx, messages)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "transport failed")
	})

	t.Run("Empty chunk skips the client", func(t *testing.T) {
		mockClient := new(MockClient)
		gateway := fcm.NewGateway(mockClient, logger)

		tickets, err := gateway.Send(ctx, nil)

		require.NoError(t, err)
		assert.Empty(t, tickets)
		mockClient.AssertNotCalled(t, "SendEach", mock.Anything, mock.Anything)
	})
}
