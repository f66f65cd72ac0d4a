package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"agri-price/internal/logger"

	"github.com/cenkalti/backoff/v4"
)

type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnected ConnState = "disconnected"
	StateFailed       ConnState = "failed"
)

// Feed multiplexes one transport connection into per-table channels.
// Subscriptions on the same table share a channel; the channel goes away
// when its last subscription closes.
type Feed struct {
	bus Bus
	log *logger.Logger

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.RWMutex
	channels map[Table]*channel
	nextID   uint64

	stateMu     sync.Mutex
	state       ConnState
	stateSubs   map[uint64]func(ConnState)
	nextStateID uint64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type channel struct {
	table Table
	subs  map[uint64]*Subscription
}

type FeedOption func(*Feed)

// WithMaxAttempts sets how many consecutive failed connections move the
// feed to StateFailed. Zero retries forever.
func WithMaxAttempts(n int) FeedOption {
	return func(f *Feed) { f.maxAttempts = n }
}

func WithBackoff(initial, max time.Duration) FeedOption {
	return func(f *Feed) {
		f.initialBackoff = initial
		f.maxBackoff = max
	}
}

func NewFeed(bus Bus, log *logger.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		bus:            bus,
		log:            log.With("component", "RealtimeFeed"),
		maxAttempts:    10,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		channels:       make(map[Table]*channel),
		state:          StateDisconnected,
		stateSubs:      make(map[uint64]func(ConnState)),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start runs the connection loop until ctx is done or Stop is called.
func (f *Feed) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		ctx, f.cancel = context.WithCancel(ctx)
		go f.run(ctx)
	})
}

// Stop tears the connection down and waits for the loop to exit.
func (f *Feed) Stop() {
	started := false
	f.startOnce.Do(func() { close(f.done) })
	if f.cancel != nil {
		started = true
		f.cancel()
	}
	if started {
		<-f.done
	}
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialBackoff
	b.MaxInterval = f.maxBackoff
	b.Reset()

	attempts := 0
	f.setState(StateConnecting)
	for {
		err := f.bus.Listen(ctx, func() {
			attempts = 0
			b.Reset()
			f.setState(StateConnected)
		}, f.dispatch)
		if ctx.Err() != nil {
			f.setState(StateDisconnected)
			return
		}

		attempts++
		f.log.Warn("Realtime connection lost", "error", err, "attempt", attempts)
		if f.maxAttempts > 0 && attempts >= f.maxAttempts {
			f.setState(StateFailed)
			return
		}
		f.setState(StateReconnecting)

		wait := b.NextBackOff()
		if wait < 0 {
			wait = f.maxBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.setState(StateDisconnected)
			return
		case <-timer.C:
		}
	}
}

// Subscribe registers fn for every change on table.
func (f *Feed) Subscribe(table Table, fn func(ChangeEvent)) (*Subscription, error) {
	if !table.Valid() {
		return nil, fmt.Errorf("realtime: unknown table %q", table)
	}
	if fn == nil {
		return nil, fmt.Errorf("realtime: callback required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[table]
	if !ok {
		ch = &channel{table: table, subs: make(map[uint64]*Subscription)}
		f.channels[table] = ch
		f.log.Debug("Realtime channel opened", "table", table)
	}
	f.nextID++
	sub := &Subscription{id: f.nextID, table: table, feed: f, fn: fn}
	ch.subs[sub.id] = sub
	return sub, nil
}

// Listeners reports how many subscriptions are open on table.
func (f *Feed) Listeners(table Table) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if ch, ok := f.channels[table]; ok {
		return len(ch.subs)
	}
	return 0
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[sub.table]
	if !ok {
		return
	}
	delete(ch.subs, sub.id)
	if len(ch.subs) == 0 {
		delete(f.channels, sub.table)
		f.log.Debug("Realtime channel closed", "table", sub.table)
	}
}

func (f *Feed) dispatch(ev ChangeEvent) {
	f.mu.RLock()
	ch := f.channels[ev.Table]
	var subs []*Subscription
	if ch != nil {
		subs = make([]*Subscription, 0, len(ch.subs))
		for _, s := range ch.subs {
			subs = append(subs, s)
		}
	}
	f.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	for _, s := range subs {
		s.deliver(ev)
	}
}

func (f *Feed) State() ConnState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

// OnStateChange calls fn on every connection state transition until the
// returned cancel func is called. Callbacks run in registration order on
// the connection goroutine.
func (f *Feed) OnStateChange(fn func(ConnState)) (cancel func()) {
	f.stateMu.Lock()
	f.nextStateID++
	id := f.nextStateID
	f.stateSubs[id] = fn
	f.stateMu.Unlock()

	return func() {
		f.stateMu.Lock()
		delete(f.stateSubs, id)
		f.stateMu.Unlock()
	}
}

func (f *Feed) setState(s ConnState) {
	f.stateMu.Lock()
	if f.state == s {
		f.stateMu.Unlock()
		return
	}
	f.state = s
	ids := make([]uint64, 0, len(f.stateSubs))
	for id := range f.stateSubs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(ConnState), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.stateSubs[id])
	}
	f.stateMu.Unlock()

	f.log.Info("Realtime state changed", "state", s)
	for _, fn := range fns {
		fn(s)
	}
}

// Subscription is one listener on a table channel.
type Subscription struct {
	id    uint64
	table Table
	feed  *Feed
	fn    func(ChangeEvent)

	mu     sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func (s *Subscription) Table() Table { return s.table }

// Close stops delivery. It is safe to call more than once and returns after
// any in-flight callback has finished, so it must not be called from inside
// the subscription's own callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.feed.remove(s)
		s.mu.Lock()
		s.mu.Unlock()
	})
}

func (s *Subscription) deliver(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.feed.log.Error("Realtime callback panicked", "table", s.table, "panic", r)
		}
	}()
	s.fn(ev)
}
