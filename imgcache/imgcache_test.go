package imgcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, src string) ([]byte, string, error)

func (f fetcherFunc) Fetch(ctx context.Context, src string) ([]byte, string, error) {
	return f(ctx, src)
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// newTestCache builds a cache with no background sweeper and a fetcher
// that serves fixed bytes per source, counting calls.
func newTestCache(fetch Fetcher, opts ...Option) (*Cache, *fakeClock) {
	clk := newFakeClock()
	opts = append([]Option{WithSweepInterval(0), WithFetcher(fetch)}, opts...)
	c := New(opts...)
	c.now = clk.Now
	return c, clk
}

func countingFetcher(calls *atomic.Int64, body []byte, ctype string) Fetcher {
	return fetcherFunc(func(ctx context.Context, src string) ([]byte, string, error) {
		calls.Add(1)
		return body, ctype, nil
	})
}

func TestResolveMissEncodesAndStores(t *testing.T) {
	var calls atomic.Int64
	body := []byte{0x89, 'P', 'N', 'G'}
	c, clk := newTestCache(countingFetcher(&calls, body, "image/png"))
	defer c.Close()

	got := c.Resolve(context.Background(), "https://cdn.example/img1.png")

	require.Equal(t, DataURI("image/png", body), got)
	require.EqualValues(t, 1, calls.Load())
	assert.Equal(t, Stats{Hits: 0, Misses: 1, Size: 1}, c.Stats())

	c.mu.Lock()
	e, ok := c.entries["https://cdn.example/img1.png"]
	c.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, clk.Now(), e.insertedAt)
	assert.NotEmpty(t, e.payload)
}

func TestResolveSecondCallHits(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestCache(countingFetcher(&calls, []byte("jpg"), "image/jpeg"))
	defer c.Close()

	first := c.Resolve(context.Background(), "https://cdn.example/a.jpg")
	second := c.Resolve(context.Background(), "https://cdn.example/a.jpg")

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load(), "fresh hit must not refetch")
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Size: 1}, c.Stats())
}

func TestResolveExpiredIsMissAgain(t *testing.T) {
	var calls atomic.Int64
	c, clk := newTestCache(countingFetcher(&calls, []byte("jpg"), "image/jpeg"))
	defer c.Close()

	src := "https://cdn.example/a.jpg"
	c.Resolve(context.Background(), src)
	c.Resolve(context.Background(), src)

	clk.Advance(DefaultTTL + time.Minute)
	c.Resolve(context.Background(), src)

	assert.EqualValues(t, 2, calls.Load(), "stale entry must be refetched")
	assert.Equal(t, Stats{Hits: 1, Misses: 2, Size: 1}, c.Stats())

	c.mu.Lock()
	e := c.entries[src]
	c.mu.Unlock()
	assert.Equal(t, clk.Now(), e.insertedAt, "refetch refreshes the entry")
}

func TestRestrictedSourceTracksFreshnessOnly(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestCache(countingFetcher(&calls, []byte("x"), "image/png"))
	defer c.Close()

	src := "https://x.supabase.co/object/signed?token=abc"
	for i := 0; i < 3; i++ {
		got := c.Resolve(context.Background(), src)
		require.Equal(t, src, got, "restricted sources come back verbatim")
	}

	assert.EqualValues(t, 0, calls.Load(), "restricted sources are never fetched")
	assert.Equal(t, Stats{Hits: 2, Misses: 1, Size: 1}, c.Stats())

	c.mu.Lock()
	e := c.entries[src]
	c.mu.Unlock()
	assert.Empty(t, e.payload)
}

func TestResolveFetchFailureFallsBack(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int64
	fetch := fetcherFunc(func(ctx context.Context, src string) ([]byte, string, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, "", errors.New("connection refused")
		}
		return []byte("ok"), "image/png", nil
	})
	c, _ := newTestCache(fetch)
	defer c.Close()

	src := "https://cdn.example/flaky.png"
	got := c.Resolve(context.Background(), src)
	assert.Equal(t, src, got, "failure falls back to the original URL")
	assert.Equal(t, Stats{Hits: 0, Misses: 1, Size: 0}, c.Stats(), "failures are not stored")

	// The failure was not memoized: the next call fetches again and
	// succeeds.
	fail.Store(false)
	got = c.Resolve(context.Background(), src)
	assert.Equal(t, DataURI("image/png", []byte("ok")), got)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, Stats{Hits: 0, Misses: 2, Size: 1}, c.Stats())
}

func TestPreloadWarmsAllDespiteFailure(t *testing.T) {
	fetch := fetcherFunc(func(ctx context.Context, src string) ([]byte, string, error) {
		if src == "https://cdn.example/b.png" {
			return nil, "", errors.New("boom")
		}
		return []byte(src), "image/png", nil
	})
	c, _ := newTestCache(fetch)
	defer c.Close()

	c.Preload(context.Background(), []string{
		"https://cdn.example/a.png",
		"https://cdn.example/b.png",
		"https://cdn.example/c.png",
	})

	stats := c.Stats()
	assert.Equal(t, 2, stats.Size, "the failing source must not block the others")
	assert.EqualValues(t, 3, stats.Misses)

	// a and c are now warm.
	c.Resolve(context.Background(), "https://cdn.example/a.png")
	c.Resolve(context.Background(), "https://cdn.example/c.png")
	assert.EqualValues(t, 2, c.Stats().Hits)
}

func TestClearResetsCountersAndStore(t *testing.T) {
	c, _ := newTestCache(countingFetcher(new(atomic.Int64), []byte("x"), "image/png"))
	defer c.Close()

	src := "https://cdn.example/a.png"
	c.Resolve(context.Background(), src)
	c.Resolve(context.Background(), src)
	require.NotEqual(t, Stats{}, c.Stats())

	c.Clear()
	assert.Equal(t, Stats{Hits: 0, Misses: 0, Size: 0}, c.Stats())

	// A previously cached key misses after Clear.
	c.Resolve(context.Background(), src)
	assert.Equal(t, Stats{Hits: 0, Misses: 1, Size: 1}, c.Stats())
}

func TestConcurrentResolveCoalesces(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	fetch := fetcherFunc(func(ctx context.Context, src string) ([]byte, string, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), "image/png", nil
	})
	c, _ := newTestCache(fetch)
	defer c.Close()

	const n = 8
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Resolve(context.Background(), "https://cdn.example/hot.png")
		}(i)
	}

	// Give every goroutine time to reach the in-flight group before the
	// single fetch completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent misses share one fetch")
	want := DataURI("image/png", []byte("shared"))
	for _, got := range results {
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, c.Stats().Size)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	c, clk := newTestCache(countingFetcher(new(atomic.Int64), []byte("x"), "image/png"))
	defer c.Close()

	c.Resolve(context.Background(), "https://cdn.example/old.png")
	clk.Advance(DefaultTTL - time.Minute)
	c.Resolve(context.Background(), "https://cdn.example/new.png")
	clk.Advance(2 * time.Minute) // old is now past the TTL, new is not

	removed := c.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Stats().Size)

	// The surviving entry still serves hits.
	c.Resolve(context.Background(), "https://cdn.example/new.png")
	assert.EqualValues(t, 1, c.Stats().Hits)
}

func TestSweeperRunsInBackground(t *testing.T) {
	var calls atomic.Int64
	c := New(
		WithFetcher(countingFetcher(&calls, []byte("x"), "image/png")),
		WithTTL(10*time.Millisecond),
		WithSweepInterval(5*time.Millisecond),
	)
	defer c.Close()

	c.Resolve(context.Background(), "https://cdn.example/a.png")
	require.Equal(t, 1, c.Stats().Size)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Stats().Size > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, c.Stats().Size, "the sweeper should evict the stale entry")
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestCache(countingFetcher(new(atomic.Int64), []byte("x"), "image/png"))
	c.Close()
	c.Close()

	// The store still answers after shutdown; only the sweeper stops.
	got := c.Resolve(context.Background(), "https://cdn.example/late.png")
	assert.NotEqual(t, "https://cdn.example/late.png", got)
}

func TestDataURIDeterministic(t *testing.T) {
	a := DataURI("image/png", []byte{1, 2, 3})
	b := DataURI("image/png", []byte{1, 2, 3})
	assert.Equal(t, "data:image/png;base64,AQID", a)
	assert.Equal(t, a, b)
}
