package bus

import (
	"context"
	"testing"
	"time"

	"agri-price/internal/cache"
	"agri-price/internal/logger"
	"agri-price/internal/realtime"
)

func TestLocalBusFeedsSubscribers(t *testing.T) {
	b := NewLocalBus()
	feed := realtime.NewFeed(b, logger.Nop(), realtime.WithBackoff(time.Millisecond, 5*time.Millisecond))

	connected := make(chan struct{}, 4)
	feed.OnStateChange(func(s realtime.ConnState) {
		if s == realtime.StateConnected {
			connected <- struct{}{}
		}
	})

	got := make(chan realtime.ChangeEvent, 4)
	sub, err := feed.Subscribe(realtime.TableMarketNews, func(ev realtime.ChangeEvent) { got <- ev })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	feed.Start(context.Background())
	defer feed.Stop()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed never connected")
	}

	if err := b.Publish(context.Background(), realtime.ChangeEvent{Table: realtime.TableMarketNews, Type: realtime.EventInsert, RecordID: "n1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.RecordID != "n1" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}

	b.Drop()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed did not reconnect after drop")
	}
}

func TestLocalBusRejectsUnknownTable(t *testing.T) {
	b := NewLocalBus()
	if err := b.Publish(context.Background(), realtime.ChangeEvent{Table: "profiles"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLocalBusClosed(t *testing.T) {
	b := NewLocalBus()
	b.Close()
	if err := b.Publish(context.Background(), realtime.ChangeEvent{Table: realtime.TablePriceData}); err != ErrClosed {
		t.Fatalf("publish after close: %v", err)
	}
	if err := b.Listen(context.Background(), nil, func(realtime.ChangeEvent) {}); err != ErrClosed {
		t.Fatalf("listen after close: %v", err)
	}
}

func TestNewSelectsTransport(t *testing.T) {
	bus, err := New(Options{Transport: "local"}, nil, logger.Nop())
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if _, ok := bus.(*LocalBus); !ok {
		t.Fatalf("got %T", bus)
	}
	if _, err := New(Options{Transport: "postgres"}, nil, logger.Nop()); err == nil {
		t.Fatalf("postgres without db should fail")
	}
	if _, err := New(Options{Transport: "carrier-pigeon"}, nil, logger.Nop()); err == nil {
		t.Fatalf("unknown transport should fail")
	}
}

func waitFor(t *testing.T, states <-chan realtime.ConnState, want realtime.ConnState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestOutageResyncsCachedReads(t *testing.T) {
	b := NewLocalBus()
	feed := realtime.NewFeed(b, logger.Nop(), realtime.WithBackoff(200*time.Millisecond, 200*time.Millisecond))
	qc := cache.New()
	ctx := context.Background()

	region, err := realtime.Mount(ctx, feed, qc, realtime.Tables)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	defer region.Unmount()

	// registered after the region so its watchers have reacted first
	states := make(chan realtime.ConnState, 16)
	feed.OnStateChange(func(s realtime.ConnState) { states <- s })
	feed.Start(ctx)
	defer feed.Stop()
	waitFor(t, states, realtime.StateConnected)

	var calls int
	load := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	key := cache.K(realtime.KeyPriceData)
	cache.Fetch(ctx, qc, key, load)
	cache.Fetch(ctx, qc, key, load)
	if calls != 1 {
		t.Fatalf("connected reads should be cached: calls=%d", calls)
	}

	b.Drop()
	waitFor(t, states, realtime.StateReconnecting)
	if !qc.Suspended(key) {
		t.Fatalf("price queries should bypass the cache while reconnecting")
	}
	// nobody is listening, so this event is lost
	if err := b.Publish(ctx, realtime.ChangeEvent{Table: realtime.TablePriceData, Type: realtime.EventInsert}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got, _ := cache.Fetch(ctx, qc, key, load); got != 2 {
		t.Fatalf("read during outage should reload, got %d", got)
	}

	waitFor(t, states, realtime.StateConnected)
	if qc.Suspended(key) {
		t.Fatalf("cache should be live again after reconnect")
	}
	if !qc.Stale(key) {
		t.Fatalf("entries from before the outage must be stale after reconnect")
	}
	cache.Fetch(ctx, qc, key, load)
	cache.Fetch(ctx, qc, key, load)
	if calls != 3 {
		t.Fatalf("reads after reconnect should reload once then cache: calls=%d", calls)
	}
}
