package broadcast_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-broadcast-service/internal/broadcast"
	"github.com/tinywideclouds/go-broadcast-service/internal/storage/memory"
	pb "github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

func TestBroadcaster_Run(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	event := pb.Event{Title: "Hello", Body: "World", Type: "news", Event: "created"}

	t.Run("End-to-end: only published test tokens with a valid prefix are notified", func(t *testing.T) {
		t1 := pb.TokenRecord{PushToken: "ExponentPushToken[T1]", Notified: true, IsForTest: true, Status: pb.StatusPublished}
		t2 := pb.TokenRecord{PushToken: "ExponentPushToken[T2]", IsForTest: true, Status: pb.StatusDraft}
		t3 := pb.TokenRecord{PushToken: "bogus-T3", IsForTest: true, Status: pb.StatusPublished}
		store := memory.NewTokenStore(t1, t2, t3)
		gateway := &fakeGateway{}

		b := broadcast.NewBroadcaster(store, gateway, broadcast.Config{}, logger)
		report, err := b.Run(ctx, event)

		require.NoError(t, err)
		require.Len(t, gateway.calls, 1)
		require.Len(t, gateway.calls[0], 1)
		assert.Equal(t, pb.Message{
			To:    t1.PushToken,
			Title: "Hello",
			Body:  "World",
			Data:  pb.MessageData{Type: "news", Event: "created"},
			Sound: broadcast.DefaultSound,
		}, gateway.calls[0][0])

		got1, _ := store.Get(t1.PushToken)
		assert.Equal(t, pb.TokenRecord{PushToken: t1.PushToken, Notified: true, IsForTest: true, Status: pb.StatusPublished}, got1)
		got2, _ := store.Get(t2.PushToken)
		assert.Equal(t, t2, got2)
		got3, _ := store.Get(t3.PushToken)
		assert.Equal(t, t3, got3)

		assert.NotEmpty(t, report.RunID)
		assert.Equal(t, 1, report.Selected)
		assert.Equal(t, 1, report.Sent)
	})

	t.Run("Invalid tokens are demoted to draft", func(t *testing.T) {
		store := memory.NewTokenStore(
			pb.TokenRecord{PushToken: "ExponentPushToken[ok]", IsForTest: true, Status: pb.StatusPublished},
			pb.TokenRecord{PushToken: "ExponentPushToken[bad]", IsForTest: true, Status: pb.StatusPublished},
		)
		gateway := &fakeGateway{respond: func(_ int, chunk []pb.Message) ([]pb.Ticket, error) {
			tickets := make([]pb.Ticket, len(chunk))
			for i, m := range chunk {
				if m.To == "ExponentPushToken[bad]" {
					tickets[i] = pb.Ticket{Status: pb.TicketStatusError, Details: &pb.TicketDetails{Error: "DeviceNotRegistered"}}
					continue
				}
				tickets[i] = pb.Ticket{Status: pb.TicketStatusOK}
			}
			return tickets, nil
		}}

		report, err := broadcast.NewBroadcaster(store, gateway, broadcast.Config{}, logger).Run(ctx, event)

		require.NoError(t, err)
		assert.Equal(t, 1, report.Sent)
		assert.Equal(t, 1, report.Invalid)

		bad, _ := store.Get("ExponentPushToken[bad]")
		assert.Equal(t, pb.StatusDraft, bad.Status)
		assert.False(t, bad.Notified)
		ok, _ := store.Get("ExponentPushToken[ok]")
		assert.True(t, ok.Notified)
	})

	t.Run("No eligible tokens short-circuits the run", func(t *testing.T) {
		store := memory.NewTokenStore(
			pb.TokenRecord{PushToken: "ExponentPushToken[x]", Notified: true, IsForTest: false, Status: pb.StatusPublished},
		)
		gateway := &fakeGateway{}

		report, err := broadcast.NewBroadcaster(store, gateway, broadcast.Config{}, logger).Run(ctx, event)

		require.NoError(t, err)
		assert.Empty(t, gateway.calls)
		assert.Equal(t, 0, report.Selected)

		x, _ := store.Get("ExponentPushToken[x]")
		assert.False(t, x.Notified, "reset still runs before selection")
	})

	t.Run("Reset failure aborts before dispatch", func(t *testing.T) {
		store := new(mockTokenStore)
		store.On("ResetNotified", mock.Anything).Return(errors.New("db down"))
		gateway := &fakeGateway{}

		_, err := broadcast.NewBroadcaster(store, gateway, broadcast.Config{}, logger).Run(ctx, event)

		require.Error(t, err)
		assert.Empty(t, gateway.calls)
		store.AssertNotCalled(t, "FindTokens", mock.Anything, mock.Anything)
	})

	t.Run("Reconcile failure is returned with the report", func(t *testing.T) {
		store := new(mockTokenStore)
		store.On("ResetNotified", mock.Anything).Return(nil)
		store.On("FindTokens", mock.Anything, mock.Anything).Return([]string{"ExponentPushToken[1]"}, nil)
		store.On("MarkNotified", mock.Anything, []string{"ExponentPushToken[1]"}).Return(errors.New("write failed"))

		report, err := broadcast.NewBroadcaster(store, &fakeGateway{}, broadcast.Config{}, logger).Run(ctx, event)

		require.Error(t, err)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.Sent)
	})

	t.Run("Tokens added between runs are selected by the next run", func(t *testing.T) {
		store := memory.NewTokenStore(
			pb.TokenRecord{PushToken: "ExponentPushToken[a]", IsForTest: true, Status: pb.StatusPublished},
		)
		gateway := &fakeGateway{}
		b := broadcast.NewBroadcaster(store, gateway, broadcast.Config{}, logger)

		first, err := b.Run(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Selected)

		store.Put(pb.TokenRecord{PushToken: "ExponentPushToken[b]", IsForTest: true, Status: pb.StatusPublished})

		second, err := b.Run(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, 2, second.Selected)
		require.Len(t, gateway.calls, 2)
		assert.ElementsMatch(t,
			[]string{"ExponentPushToken[a]", "ExponentPushToken[b]"},
			[]string{gateway.calls[1][0].To, gateway.calls[1][1].To})
	})
}

// overlapGateway holds each Send briefly and records the highest number of
// Sends it saw in flight at once.
type overlapGateway struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (g *overlapGateway) Send(_ context.Context, messages []pb.Message) ([]pb.Ticket, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	g.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return okTickets(len(messages)), nil
}

func TestBroadcaster_ConcurrentRunsTakeTurns(t *testing.T) {
	store := memory.NewTokenStore(
		pb.TokenRecord{PushToken: "ExponentPushToken[a]", IsForTest: true, Status: pb.StatusPublished},
		pb.TokenRecord{PushToken: "ExponentPushToken[b]", IsForTest: true, Status: pb.StatusPublished},
	)
	gateway := &overlapGateway{}
	b := broadcast.NewBroadcaster(store, gateway, broadcast.Config{BatchSize: 1}, newTestLogger())
	event := pb.Event{Title: "Hello", Body: "World"}

	const runs = 5
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Run(context.Background(), event)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(runs*2), gateway.calls.Load())
	assert.Equal(t, int32(1), gateway.maxSeen.Load(), "sends from different runs must not interleave")

	a, _ := store.Get("ExponentPushToken[a]")
	assert.True(t, a.Notified)
}
