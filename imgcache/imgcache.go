// Package imgcache provides an in-process content cache for remote image
// resources. Eligible images are fetched once and inlined as base64 data
// URIs; signed storage URLs that cross-origin policy forbids re-encoding
// are tracked for freshness only. Entries expire after a TTL enforced by
// a background sweeper.
package imgcache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Defaults for the reference deployment.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Stats is a point-in-time snapshot of the cache counters. Size reflects
// the number of stored entries at snapshot time.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// entry is a stored resource. An empty payload means the source is
// restricted and only its freshness is tracked.
type entry struct {
	insertedAt time.Time
	payload    string
}

// Cache deduplicates and accelerates repeated loads of remote images.
// All methods are safe for concurrent use. Construct with New and stop
// the background sweeper with Close.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	hits    uint64
	misses  uint64
	closed  bool

	ttl        time.Duration
	sweepEvery time.Duration
	fetcher    Fetcher
	restricted func(string) bool
	log        zerolog.Logger
	now        func() time.Time

	group singleflight.Group
	done  chan struct{}
	wg    sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithSweepInterval overrides the sweeper period. Zero disables the
// background sweeper; stale entries are then replaced lazily on access.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.sweepEvery = d }
}

// WithFetcher replaces the transport used to retrieve image bytes.
func WithFetcher(f Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

// WithRestricted replaces the predicate deciding which sources must not
// be re-encoded. The predicate must be pure: same input, same answer,
// no side effects.
func WithRestricted(fn func(string) bool) Option {
	return func(c *Cache) { c.restricted = fn }
}

// WithLogger attaches a logger. Fetch failures are reported at warn level.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New creates a cache and starts its background sweeper.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		ttl:        DefaultTTL,
		sweepEvery: DefaultSweepInterval,
		restricted: SignedStorageURL,
		log:        zerolog.Nop(),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(nil)
	}
	if c.sweepEvery > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c
}

// Close stops the background sweeper. It is safe to call more than once;
// the cache itself remains usable after Close.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
}

// Resolve returns a renderable representation of src: the cached data URI
// when a fresh one exists, a newly fetched and encoded one on a miss, or
// src itself for restricted sources and fetch failures. Failures are
// never stored, so the next call retries from scratch.
func (c *Cache) Resolve(ctx context.Context, src string) string {
	c.mu.Lock()
	if e, ok := c.entries[src]; ok && c.now().Sub(e.insertedAt) < c.ttl {
		c.hits++
		c.mu.Unlock()
		if e.payload != "" {
			return e.payload
		}
		return src
	}
	c.misses++

	if c.restricted(src) {
		// Cross-origin policy forbids reading the bytes; remember the
		// source for freshness bookkeeping only and let the browser
		// load it directly.
		c.entries[src] = entry{insertedAt: c.now()}
		c.mu.Unlock()
		return src
	}
	c.mu.Unlock()

	// Concurrent misses on one key share a single fetch. The fetch is
	// detached from the caller's cancellation so an abandoning caller
	// cannot fail the waiters coalesced behind it.
	v, err, _ := c.group.Do(src, func() (any, error) {
		c.mu.Lock()
		if e, ok := c.entries[src]; ok && c.now().Sub(e.insertedAt) < c.ttl && e.payload != "" {
			c.mu.Unlock()
			return e.payload, nil
		}
		c.mu.Unlock()

		data, ctype, err := c.fetcher.Fetch(context.WithoutCancel(ctx), src)
		if err != nil {
			return nil, err
		}
		uri := DataURI(ctype, data)
		c.mu.Lock()
		c.entries[src] = entry{insertedAt: c.now(), payload: uri}
		c.mu.Unlock()
		return uri, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("src", src).Msg("image fetch failed, falling back to remote URL")
		return src
	}
	return v.(string)
}

// Preload warms the cache for a set of sources. Each source is resolved
// concurrently; individual failures are observed and discarded. Preload
// returns once every resolution has settled.
func (c *Cache) Preload(ctx context.Context, srcs []string) {
	var wg sync.WaitGroup
	for _, src := range srcs {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			c.Resolve(ctx, src)
		}(src)
	}
	wg.Wait()
}

// Stats returns a snapshot of the hit/miss counters and entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}

// Clear empties the store and zeroes the counters in one critical
// section, so no reader can observe the counters reset without the size
// resetting too.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.hits = 0
	c.misses = 0
}
