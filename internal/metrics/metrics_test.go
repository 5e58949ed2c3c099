package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analogous-app/analogous/imgcache"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestScrapeReportsCacheStats(t *testing.T) {
	stats := imgcache.Stats{Hits: 3, Misses: 2, Size: 1}
	m := New("analogous", func() imgcache.Stats { return stats })

	body := scrape(t, m)
	assert.Contains(t, body, "analogous_imgcache_hits 3")
	assert.Contains(t, body, "analogous_imgcache_misses 2")
	assert.Contains(t, body, "analogous_imgcache_entries 1")
}

func TestScrapeTracksCurrentValues(t *testing.T) {
	stats := imgcache.Stats{}
	m := New("analogous", func() imgcache.Stats { return stats })

	body := scrape(t, m)
	assert.Contains(t, body, "analogous_imgcache_hits 0")

	// The gauges read live stats, so a purge shows up on the next
	// scrape without re-registering anything.
	stats = imgcache.Stats{Hits: 9, Misses: 4, Size: 7}
	body = scrape(t, m)
	assert.Contains(t, body, "analogous_imgcache_hits 9")
	assert.Contains(t, body, "analogous_imgcache_entries 7")
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := New("analogous", func() imgcache.Stats { return imgcache.Stats{} })
	b := New("analogous", func() imgcache.Stats { return imgcache.Stats{} })
	assert.NotNil(t, a)
	assert.NotNil(t, b)
}
