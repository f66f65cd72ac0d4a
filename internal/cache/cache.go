// Package cache is the process-wide query cache shared by every mounted
// region. Reads go through Fetch, change events go through Invalidate.
//
// Each read is stamped with a sequence number when it is dispatched. A
// response whose stamp is older than the latest invalidation of its key (or
// of the key's name) is handed back to its caller but never stored, so an
// in-flight read cannot resurrect data that a newer event already made
// stale.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached query: a primary name plus an optional parameter
// such as a commodity id.
type Key struct {
	Name  string
	Param string
}

// K builds a key; only the first param is used.
func K(name string, param ...string) Key {
	k := Key{Name: name}
	if len(param) > 0 {
		k.Param = strings.TrimSpace(param[0])
	}
	return k
}

func (k Key) String() string {
	if k.Param == "" {
		return k.Name
	}
	return k.Name + ":" + k.Param
}

// Invalidator marks cached queries stale. Invalidating a key without a
// parameter invalidates every parameterized variant of the same name.
type Invalidator interface {
	Invalidate(keys ...Key)
}

// Suspender is implemented by caches that can stop serving stored entries
// while the change feed that keeps them current is down.
type Suspender interface {
	Suspend(keys ...Key)
	Resume(keys ...Key)
}

type entry struct {
	value    any
	stamp    uint64
	storedAt time.Time
	stale    bool
}

type QueryCache struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
	byName  map[string]map[string]struct{}

	nameInvalidated map[string]uint64
	keyInvalidated  map[string]uint64

	// held counts Suspend calls per key string; a held name covers every
	// parameterized variant.
	held map[string]int

	ttl         time.Duration
	loadTimeout time.Duration
	now         func() time.Time
	group       singleflight.Group
}

type Option func(*QueryCache)

// WithTTL makes entries stale after d even without an invalidation.
func WithTTL(d time.Duration) Option {
	return func(c *QueryCache) { c.ttl = d }
}

// WithLoadTimeout bounds a shared load. Loads run detached from the
// caller that dispatched them, so this is their only deadline.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *QueryCache) { c.loadTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) { c.now = now }
}

func New(opts ...Option) *QueryCache {
	c := &QueryCache{
		entries:         make(map[string]*entry),
		byName:          make(map[string]map[string]struct{}),
		nameInvalidated: make(map[string]uint64),
		keyInvalidated:  make(map[string]uint64),
		held:            make(map[string]int),
		loadTimeout:     30 * time.Second,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *QueryCache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(keys)
}

// Suspend stops Fetch from serving or storing entries under keys until a
// matching Resume. Calls nest.
func (c *QueryCache) Suspend(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if k.Name == "" {
			continue
		}
		c.held[k.String()]++
	}
	c.invalidateLocked(keys)
}

// Resume undoes one Suspend and invalidates keys, since changes may have
// been missed while they were held.
func (c *QueryCache) Resume(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		ks := k.String()
		if c.held[ks] <= 1 {
			delete(c.held, ks)
			continue
		}
		c.held[ks]--
	}
	c.invalidateLocked(keys)
}

// Suspended reports whether reads of key bypass the cache.
func (c *QueryCache) Suspended(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heldLocked(key)
}

func (c *QueryCache) heldLocked(key Key) bool {
	return c.held[key.Name] > 0 || (key.Param != "" && c.held[key.String()] > 0)
}

func (c *QueryCache) invalidateLocked(keys []Key) {
	for _, k := range keys {
		if k.Name == "" {
			continue
		}
		c.seq++
		if k.Param == "" {
			c.nameInvalidated[k.Name] = c.seq
			for ks := range c.byName[k.Name] {
				if e, ok := c.entries[ks]; ok {
					e.stale = true
				}
			}
			continue
		}
		ks := k.String()
		c.keyInvalidated[ks] = c.seq
		if e, ok := c.entries[ks]; ok {
			e.stale = true
		}
	}
}

// Fetch returns the cached value for key or runs load. Concurrent callers
// of the same key and invalidation epoch share one load.
func Fetch[T any](ctx context.Context, c *QueryCache, key Key, load func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T", key, v)
	}
	return t, nil
}

func (c *QueryCache) fetch(ctx context.Context, key Key, load func(context.Context) (any, error)) (any, error) {
	ks := key.String()

	c.mu.Lock()
	if c.heldLocked(key) {
		c.mu.Unlock()
		return load(ctx)
	}
	if e, ok := c.entries[ks]; ok && c.freshLocked(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.seq++
	stamp := c.seq
	epoch := c.epochLocked(key)
	c.mu.Unlock()

	flight := ks + "@" + strconv.FormatUint(epoch, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		if c.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, c.loadTimeout)
			defer cancel()
		}
		res, err := load(lctx)
		if err != nil {
			return nil, err
		}
		c.store(key, res, stamp)
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// store writes value unless the key was invalidated after stamp was taken
// or a later dispatch already stored its result.
func (c *QueryCache) store(key Key, value any, stamp uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochLocked(key) > stamp || c.heldLocked(key) {
		return false
	}
	ks := key.String()
	if e, ok := c.entries[ks]; ok && e.stamp > stamp {
		return false
	}
	c.entries[ks] = &entry{value: value, stamp: stamp, storedAt: c.now()}
	names, ok := c.byName[key.Name]
	if !ok {
		names = make(map[string]struct{})
		c.byName[key.Name] = names
	}
	names[ks] = struct{}{}
	return true
}

// Peek reports the stored value for key without loading. fresh is false
// for stale or expired entries.
func (c *QueryCache) Peek(key Key) (value any, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false, false
	}
	return e.value, c.freshLocked(e), true
}

// Stale reports whether a stored entry exists and needs a refetch.
func (c *QueryCache) Stale(key Key) bool {
	_, fresh, ok := c.Peek(key)
	return ok && !fresh
}

func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) epochLocked(key Key) uint64 {
	epoch := c.nameInvalidated[key.Name]
	if k := c.keyInvalidated[key.String()]; k > epoch {
		epoch = k
	}
	return epoch
}

func (c *QueryCache) freshLocked(e *entry) bool {
	if e.stale {
		return false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl {
		return false
	}
	return true
}
