package marketdata

import (
	"sync"
	"time"
)

// barCache keeps the most recent bars per symbol behind a RWMutex. A cached
// window is considered fresh while its newest bar is younger than one bar
// interval; after that a scan must refetch.
type barCache struct {
	mu       sync.RWMutex
	bars     map[string][]Bar
	maxBars  int
	now      func() time.Time // test seam
	freshFor time.Duration
}

func newBarCache(maxBars int) *barCache {
	return &barCache{
		bars:     make(map[string][]Bar),
		maxBars:  maxBars,
		now:      time.Now,
		freshFor: BarInterval,
	}
}

// Replace swaps the cached window for a symbol. The slice is copied so callers
// cannot mutate cache contents afterwards.
func (c *barCache) Replace(symbol string, bars []Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(bars) > c.maxBars {
		bars = bars[len(bars)-c.maxBars:]
	}
	window := make([]Bar, len(bars))
	copy(window, bars)
	c.bars[symbol] = window
}

// Recent returns the newest count bars for a symbol if the cache holds at
// least that many and the window is still fresh.
func (c *barCache) Recent(symbol string, count int) ([]Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	window, exists := c.bars[symbol]
	if !exists || len(window) < count || count <= 0 {
		return nil, false
	}
	newest := window[len(window)-1].Timestamp
	if c.now().Sub(newest) >= c.freshFor {
		return nil, false
	}

	result := make([]Bar, count)
	copy(result, window[len(window)-count:])
	return result, true
}
