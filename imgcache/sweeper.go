package imgcache

import "time"

// sweepLoop periodically evicts entries older than the TTL. It runs
// until Close and is the only goroutine the cache owns.
func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes every entry whose age has reached the TTL and returns
// how many were dropped. Fresh entries are never touched, and callers of
// Resolve are only blocked for the duration of the scan itself.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debug().Int("removed", removed).Int("size", size).Msg("swept expired image cache entries")
	}
	return removed
}
