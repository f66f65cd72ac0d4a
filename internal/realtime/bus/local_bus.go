package bus

import (
	"context"
	"errors"
	"sync"

	"agri-price/internal/realtime"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrConnectionLost = errors.New("connection lost")
)

// LocalBus is an in-process transport for single-node runs and tests.
type LocalBus struct {
	mu        sync.Mutex
	listeners map[uint64]*localListener
	nextID    uint64
	closed    bool
	buffer    int
}

type localListener struct {
	events chan realtime.ChangeEvent
	lost   chan struct{}
	done   chan struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{listeners: make(map[uint64]*localListener), buffer: 256}
}

func (b *LocalBus) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	if !ev.Table.Valid() {
		_, err := realtime.Encode(ev)
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*localListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		targets = append(targets, l)
	}
	b.mu.Unlock()

	for _, l := range targets {
		select {
		case l.events <- ev:
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBus) Listen(ctx context.Context, ready func(), onEvent func(realtime.ChangeEvent)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	l := &localListener{
		events: make(chan realtime.ChangeEvent, b.buffer),
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.listeners[id] = l
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
		close(l.done)
	}()

	if ready != nil {
		ready()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.lost:
			return ErrConnectionLost
		case ev := <-l.events:
			onEvent(ev)
		}
	}
}

// Drop disconnects every active listener, as a network failure would.
func (b *LocalBus) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, l := range b.listeners {
		close(l.lost)
		delete(b.listeners, id)
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, l := range b.listeners {
		close(l.lost)
		delete(b.listeners, id)
	}
	return nil
}
