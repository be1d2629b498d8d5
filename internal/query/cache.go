// Package query caches the results of read queries by logical identity.
//
// Every query has a Key. Callers go through Fetch, which serves a fresh
// cached result, or runs the fetch function (at most one in flight per key)
// with a bounded number of retries and records the outcome. A caller that
// gives up waiting only stops waiting; the fetch keeps running for the
// others and is cancelled once nobody waits for it. Mutations call
// Invalidate with the keys they affect; the next Fetch of those keys goes
// back to the backend.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	KindPosts            = "posts"
	KindCommunities      = "communities"
	KindCommunityOptions = "communityOptions"
	KindCommunity        = "community"
	KindCommunityPosts   = "communityPosts"
)

// Key is the identity of a query: its kind plus its parameter.
type Key struct {
	Kind string
	ID   int64
}

func (k Key) String() string {
	if k.ID == 0 {
		return k.Kind
	}
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

func Posts() Key                  { return Key{Kind: KindPosts} }
func Communities() Key            { return Key{Kind: KindCommunities} }
func CommunityOptions() Key       { return Key{Kind: KindCommunityOptions} }
func Community(id int64) Key      { return Key{Kind: KindCommunity, ID: id} }
func CommunityPosts(id int64) Key { return Key{Kind: KindCommunityPosts, ID: id} }

// Policy bounds retries of a query fetch. Retries counts extra attempts after
// the first one.
type Policy struct {
	Retries    int
	RetryDelay time.Duration
}

// DefaultFetchTimeout bounds one shared fetch, retries included.
const DefaultFetchTimeout = 30 * time.Second

var (
	PostsPolicy     = Policy{Retries: 1, RetryDelay: time.Second}
	CommunityPolicy = Policy{Retries: 2, RetryDelay: time.Second}
)

// State is a snapshot of one cache entry.
type State struct {
	Loading   bool
	Data      any
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

type entry struct {
	loading   bool
	hasData   bool
	data      any
	err       error
	stale     bool
	updatedAt time.Time
	// gen counts invalidations so a fetch that started before one cannot
	// mark the entry fresh.
	gen uint64
	// flight is the fetch in progress, nil when idle.
	flight *flight
}

func (e *entry) fresh() bool {
	return e.hasData && !e.stale && e.err == nil
}

// flight is one shared fetch. done is closed once data and err are set.
type flight struct {
	done    chan struct{}
	data    any
	err     error
	waiters int
	cancel  context.CancelFunc
}

type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	log     *zap.Logger
	timeout time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		entries: map[Key]*entry{},
		log:     log,
		timeout: DefaultFetchTimeout,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Peek returns the current state of key without fetching.
func (c *Cache) Peek(key Key) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return State{}
	}
	return State{
		Loading:   e.loading,
		Data:      e.data,
		Err:       e.err,
		Stale:     e.stale,
		UpdatedAt: e.updatedAt,
	}
}

// Invalidate marks the entries of keys stale. Keys that were never fetched
// are ignored.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if e, ok := c.entries[key]; ok {
			e.stale = true
			e.gen++
		}
		c.log.Debug("query invalidated", zap.Stringer("key", key))
	}
}

// join returns fresh data for key, or the flight to wait on, starting one
// when none is running. The returned flight counts the caller as a waiter.
func (c *Cache) join(ctx context.Context, key Key, policy Policy, fn func(context.Context) (any, error)) (any, *flight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	if e.fresh() {
		return e.data, nil, true
	}
	f := e.flight
	if f == nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		f = &flight{done: make(chan struct{}), cancel: cancel}
		e.flight = f
		e.loading = true
		go c.run(fctx, key, e.gen, f, policy, fn)
	}
	f.waiters++
	return nil, f, false
}

// leave drops a waiter that stopped waiting. The last one to go cancels the
// flight, which then records nothing.
func (c *Cache) leave(key Key, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if e := c.entries[key]; e.flight == f {
		e.flight = nil
		e.loading = false
	}
	c.log.Debug("query abandoned", zap.Stringer("key", key))
}

func (c *Cache) run(ctx context.Context, key Key, gen uint64, f *flight, policy Policy, fn func(context.Context) (any, error)) {
	defer f.cancel()

	attempts := policy.Retries + 1
	var data any
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		data, err = fn(ctx)
		if err == nil {
			break
		}
		if attempt == attempts {
			break
		}
		c.log.Debug("query attempt failed",
			zap.Stringer("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if sleepErr := c.sleep(ctx, policy.RetryDelay); sleepErr != nil {
			break
		}
	}
	if err != nil {
		data = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.entries[key]; e.flight == f {
		e.flight = nil
		e.loading = false
		e.err = err
		if err == nil {
			e.data = data
			e.hasData = true
			e.stale = e.gen != gen
			e.updatedAt = time.Now()
		} else {
			c.log.Warn("query failed", zap.Stringer("key", key), zap.Error(err))
		}
	}
	f.data, f.err = data, err
	close(f.done)
}

// Fetch returns the result for key, from cache when fresh. Concurrent calls
// with the same key share one in-flight fetch. The outcome, success or
// error, is recorded on the entry before any waiter returns. When ctx ends
// first Fetch returns ctx.Err() without affecting the other waiters.
func Fetch[T any](ctx context.Context, c *Cache, key Key, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	data, f, ok := c.join(ctx, key, policy, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if ok {
		return data.(T), nil
	}

	select {
	case <-f.done:
	case <-ctx.Done():
		c.leave(key, f)
		return zero, ctx.Err()
	}
	if f.err != nil {
		return zero, f.err
	}
	return f.data.(T), nil
}
