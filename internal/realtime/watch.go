package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agri-price/internal/cache"
)

type watchConfig struct {
	now      func() time.Time
	onChange func(ChangeEvent, time.Time)
}

type WatchOption func(*watchConfig)

func WithClock(now func() time.Time) WatchOption {
	return func(c *watchConfig) { c.now = now }
}

// OnChange runs after the freshness update and cache invalidation of every
// event.
func OnChange(fn func(ev ChangeEvent, at time.Time)) WatchOption {
	return func(c *watchConfig) { c.onChange = fn }
}

// Watcher ties one subscription to a freshness tracker and the cached
// queries of its table. While the feed is down its keys are suspended in
// caches that support it, and they are invalidated once the feed is back,
// since events published during the outage are lost.
type Watcher struct {
	table Table
	sub   *Subscription
	fresh *Freshness
	keys  []cache.Key
	inv   cache.Invalidator

	mu        sync.Mutex
	down      bool
	closed    bool
	stopState func()
}

func Watch(feed *Feed, inv cache.Invalidator, table Table, opts ...WatchOption) (*Watcher, error) {
	cfg := watchConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &Watcher{table: table, fresh: NewFreshness(cfg.now), keys: InvalidationKeys(table), inv: inv}
	sub, err := feed.Subscribe(table, func(ev ChangeEvent) {
		at := w.fresh.Touch()
		inv.Invalidate(w.keys...)
		if cfg.onChange != nil {
			cfg.onChange(ev, at)
		}
	})
	if err != nil {
		return nil, err
	}
	w.sub = sub

	w.mu.Lock()
	w.stopState = feed.OnStateChange(w.stateChanged)
	if s := feed.State(); s == StateConnecting || s == StateReconnecting || s == StateFailed {
		w.goDownLocked()
	}
	w.mu.Unlock()
	return w, nil
}

func (w *Watcher) stateChanged(s ConnState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if s == StateConnected {
		if w.down {
			w.down = false
			if sus, ok := w.inv.(cache.Suspender); ok {
				sus.Resume(w.keys...)
			} else {
				w.inv.Invalidate(w.keys...)
			}
		}
		return
	}
	w.goDownLocked()
}

func (w *Watcher) goDownLocked() {
	if w.down {
		return
	}
	w.down = true
	if sus, ok := w.inv.(cache.Suspender); ok {
		sus.Suspend(w.keys...)
	} else {
		w.inv.Invalidate(w.keys...)
	}
}

func (w *Watcher) Table() Table { return w.table }

func (w *Watcher) LastUpdate() *time.Time { return w.fresh.LastUpdate() }

// Close is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.stopState != nil {
		w.stopState()
	}
	if w.down {
		w.down = false
		if sus, ok := w.inv.(cache.Suspender); ok {
			sus.Resume(w.keys...)
		}
	}
	w.mu.Unlock()
	w.sub.Close()
}

// LastUpdates is the per-table freshness shown next to live panels.
type LastUpdates struct {
	Price       *time.Time `json:"priceLastUpdate"`
	Predictions *time.Time `json:"predictionsLastUpdate"`
	News        *time.Time `json:"newsLastUpdate"`
}

// Region is a mounted consumer: a websocket client or the server's own
// cache keeper. Everything it mounted is released by Unmount.
type Region struct {
	mu       sync.Mutex
	mounted  bool
	watchers map[Table]*Watcher
	ctx      context.Context
	cancel   context.CancelFunc
}

// Mount subscribes to every table in tables. On error nothing stays
// subscribed.
func Mount(ctx context.Context, feed *Feed, inv cache.Invalidator, tables []Table, opts ...WatchOption) (*Region, error) {
	r := &Region{mounted: true, watchers: make(map[Table]*Watcher, len(tables))}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for _, table := range tables {
		if _, dup := r.watchers[table]; dup {
			continue
		}
		w, err := Watch(feed, inv, table, opts...)
		if err != nil {
			r.Unmount()
			return nil, fmt.Errorf("mount %s: %w", table, err)
		}
		r.watchers[table] = w
	}
	return r, nil
}

// Context is cancelled on Unmount.
func (r *Region) Context() context.Context { return r.ctx }

func (r *Region) Mounted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounted
}

// Commit runs fn only while the region is mounted, so results of reads
// that finish after Unmount are dropped.
func (r *Region) Commit(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mounted {
		return false
	}
	fn()
	return true
}

func (r *Region) LastUpdate(table Table) *time.Time {
	if w, ok := r.watchers[table]; ok {
		return w.LastUpdate()
	}
	return nil
}

func (r *Region) LastUpdates() LastUpdates {
	return LastUpdates{
		Price:       r.LastUpdate(TablePriceData),
		Predictions: r.LastUpdate(TablePredictions),
		News:        r.LastUpdate(TableMarketNews),
	}
}

// Unmount closes every subscription. Safe to call more than once.
func (r *Region) Unmount() {
	r.mu.Lock()
	if !r.mounted {
		r.mu.Unlock()
		return
	}
	r.mounted = false
	r.cancel()
	r.mu.Unlock()

	for _, w := range r.watchers {
		w.Close()
	}
}
