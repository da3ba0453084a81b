package broadcast_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) ResetNotified(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTokenStore) FindTokens(ctx context.Context, query broadcast.TokenQuery) ([]string, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockTokenStore) MarkNotified(ctx context.Context, tokens []string) error {
	return m.Called(ctx, tokens).Error(0)
}

func (m *mockTokenStore) MarkInvalid(ctx context.Context, tokens []string) error {
	return m.Called(ctx, tokens).Error(0)
}

// fakeGateway records every chunk and answers through respond.
// The default answer is an "ok" ticket per message.
type fakeGateway struct {
	mu      sync.Mutex
	calls   [][]broadcast.Message
	respond func(call int, chunk []broadcast.Message) ([]broadcast.Ticket, error)
}

func (g *fakeGateway) Send(_ context.Context, messages []broadcast.Message) ([]broadcast.Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	chunk := append([]broadcast.Message(nil), messages...)
	g.calls = append(g.calls, chunk)
	if g.respond != nil {
		return g.respond(len(g.calls), chunk)
	}
	return okTickets(len(chunk)), nil
}

func (g *fakeGateway) chunkSizes() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	sizes := make([]int, 0, len(g.calls))
	for _, c := range g.calls {
		sizes = append(sizes, len(c))
	}
	return sizes
}

func okTickets(n int) []broadcast.Ticket {
	tickets := make([]broadcast.Ticket, n)
	for i := range tickets {
		tickets[i] = broadcast.Ticket{Status: broadcast.TicketStatusOK}
	}
	return tickets
}

func expoTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ExponentPushToken[%04d]", i)
	}
	return tokens
}

func messagesFor(tokens []string) []broadcast.Message {
	msgs := make([]broadcast.Message, len(tokens))
	for i, t := range tokens {
		msgs[i] = broadcast.Message{To: t, Title: "t", Body: "b", Sound: "default"}
	}
	return msgs
}

// classifiedError reports whether it is worth retrying, like the gateway errors do.
type classifiedError struct {
	transient bool
}

func (e *classifiedError) Error() string     { return fmt.Sprintf("gateway failure (transient=%t)", e.transient) }
func (e *classifiedError) IsTransient() bool { return e.transient }
