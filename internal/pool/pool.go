// Package pool owns the lifetimes of upstream MCP clients. It is a keyed
// LRU with a last-use TTL: clients are created on demand by a caller-supplied
// factory, concurrent acquires for the same key coalesce on one factory run,
// and cold or evicted clients are closed through a disposal hook.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxClients = 10
	DefaultTTL        = 30 * time.Minute
)

// ErrClosed is returned by Acquire after Clear until Reset is called.
var ErrClosed = errors.New("pool: closed")

// Client is the pooled resource. The pool is the only component allowed to
// call Close on it.
type Client interface {
	Close() error
}

// Factory creates the client for a key when none is cached.
type Factory func(ctx context.Context) (Client, error)

// entry is one pooled client with its lifecycle timestamps.
type entry struct {
	client     Client
	createdAt  time.Time
	lastUsedAt time.Time
}

// Options configures a Pool. Zero values take the defaults above.
type Options struct {
	MaxClients int
	TTL        time.Duration

	// Now overrides the clock, for TTL tests.
	Now func() time.Time

	// OnDispose, when set, observes every disposal after the client is
	// closed. Close errors are logged and swallowed; disposal never blocks
	// the eviction that caused it.
	OnDispose func(key string)
}

// Pool is safe for concurrent use. Acquires on distinct keys proceed
// independently; acquires on the same key share one factory run.
type Pool struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, *entry]
	max       int
	ttl       time.Duration
	now       func() time.Time
	onDispose func(key string)
	closed    bool

	flight    singleflight.Group
	disposals sync.WaitGroup

	// reaper shutdown
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Pool and starts its background reaper.
func New(opts Options) *Pool {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, err := lru.New[string, *entry](opts.MaxClients)
	if err != nil {
		// Only reachable with a non-positive size, which is normalized above.
		panic(fmt.Sprintf("pool: lru init: %v", err))
	}
	p := &Pool{
		cache:     cache,
		max:       opts.MaxClients,
		ttl:       opts.TTL,
		now:       opts.Now,
		onDispose: opts.OnDispose,
		done:      make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire returns the live client for key, creating it via factory when the
// key is absent or its entry has gone cold. Access refreshes recency. When
// creating would exceed capacity, the least recently used client is evicted
// and fully closed before the new one occupies its slot.
//
// A factory error propagates to the caller and leaves the key unpopulated.
func (p *Pool) Acquire(ctx context.Context, key string, factory Factory) (Client, error) {
	// Coalesce concurrent acquires per key; unrelated keys never wait on
	// this flight.
	v, err, _ := p.flight.Do(key, func() (any, error) {
		return p.acquire(ctx, key, factory)
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (p *Pool) acquire(ctx context.Context, key string, factory Factory) (Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := p.cache.Get(key); ok {
		if p.now().Sub(e.lastUsedAt) < p.ttl {
			e.lastUsedAt = p.now()
			p.mu.Unlock()
			return e.client, nil
		}
		// Cold entry: dispose and fall through to recreate.
		p.cache.Remove(key)
		p.dispose(key, e)
	}
	p.mu.Unlock()

	// Run the factory outside the pool lock so a slow connect cannot block
	// acquires on other keys.
	client, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: create client for %q: %w", key, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Lost the race with Clear; the pool no longer owns this client.
		p.closeClient(key, client)
		return nil, ErrClosed
	}
	var evicted <-chan struct{}
	if p.cache.Len() >= p.max {
		if oldKey, oldEntry, ok := p.cache.RemoveOldest(); ok {
			evicted = p.dispose(oldKey, oldEntry)
		}
	}
	now := p.now()
	p.cache.Add(key, &entry{client: client, createdAt: now, lastUsedAt: now})
	p.mu.Unlock()

	// The evicted client must be fully closed before its slot is considered
	// reused; other keys are unaffected because the lock is already released.
	if evicted != nil {
		<-evicted
	}
	return client, nil
}

// Invalidate removes and disposes the entry for key, if present. Used after
// a transport failure so the next acquire reconnects.
func (p *Pool) Invalidate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.cache.Peek(key); ok {
		p.cache.Remove(key)
		p.dispose(key, e)
	}
}

// Len returns the number of live clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Keys returns the cached keys, least recently used first.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Keys()
}

// Clear evicts every entry, waits for all disposals to finish, and marks the
// pool closed: subsequent acquires fail with ErrClosed until Reset.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.closed = true
	for _, key := range p.cache.Keys() {
		if e, ok := p.cache.Peek(key); ok {
			p.dispose(key, e)
		}
	}
	p.cache.Purge()
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.done) })
	p.disposals.Wait()
}

// Reset reopens a cleared pool with an empty table.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}

// dispose submits the asynchronous close of a removed entry and returns a
// channel that is closed when the disposal has run to completion. Disposals
// are never cancellable.
func (p *Pool) dispose(key string, e *entry) <-chan struct{} {
	done := make(chan struct{})
	p.disposals.Add(1)
	go func() {
		defer close(done)
		defer p.disposals.Done()
		p.closeClient(key, e.client)
	}()
	return done
}

func (p *Pool) closeClient(key string, c Client) {
	if err := c.Close(); err != nil {
		// Disposal errors never fail the eviction that caused them.
		log.Printf("[Pool] close %q: %v", key, err)
	}
	if p.onDispose != nil {
		p.onDispose(key)
	}
}

// reapLoop evicts cold entries in the background so idle connections do not
// linger until the next acquire happens to touch them.
func (p *Pool) reapLoop() {
	interval := p.ttl / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reap()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	now := p.now()
	for _, key := range p.cache.Keys() {
		if e, ok := p.cache.Peek(key); ok && now.Sub(e.lastUsedAt) >= p.ttl {
			p.cache.Remove(key)
			p.dispose(key, e)
		}
	}
}
