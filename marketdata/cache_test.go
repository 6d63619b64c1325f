package marketdata

import (
	"testing"
	"time"
)

func cacheBars(n int, newest time.Time) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{
			Symbol:    "TEST",
			Timestamp: newest.Add(-time.Duration(n-1-i) * BarInterval),
			Close:     100 + float64(i),
			Volume:    1000,
		}
	}
	return bars
}

func TestCacheServesFreshWindow(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c := newBarCache(100)
	c.now = func() time.Time { return now }
	c.Replace("TEST", cacheBars(20, now))

	got, ok := c.Recent("TEST", 10)
	if !ok {
		t.Fatal("fresh window not served")
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[9].Timestamp != now {
		t.Errorf("newest bar at %v, want %v", got[9].Timestamp, now)
	}
	if got[0].Close != 110 {
		t.Errorf("oldest returned close = %v, want 110", got[0].Close)
	}
}

func TestCacheExpiresAfterOneInterval(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c := newBarCache(100)
	c.Replace("TEST", cacheBars(20, now))

	c.now = func() time.Time { return now.Add(BarInterval - time.Second) }
	if _, ok := c.Recent("TEST", 10); !ok {
		t.Error("window inside the interval not served")
	}

	c.now = func() time.Time { return now.Add(BarInterval) }
	if _, ok := c.Recent("TEST", 10); ok {
		t.Error("stale window served")
	}
}

func TestCacheMissesOnShortOrUnknown(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c := newBarCache(100)
	c.now = func() time.Time { return now }
	c.Replace("TEST", cacheBars(5, now))

	if _, ok := c.Recent("TEST", 10); ok {
		t.Error("served more bars than cached")
	}
	if _, ok := c.Recent("OTHER", 1); ok {
		t.Error("served an unknown symbol")
	}
}

func TestCacheTrimsToMaxBars(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c := newBarCache(10)
	c.now = func() time.Time { return now }
	c.Replace("TEST", cacheBars(25, now))

	if _, ok := c.Recent("TEST", 11); ok {
		t.Error("cache held more than maxBars")
	}
	got, ok := c.Recent("TEST", 10)
	if !ok || len(got) != 10 {
		t.Fatalf("trimmed window not served: ok=%v len=%d", ok, len(got))
	}
}

func TestCacheCopiesOnReadAndWrite(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c := newBarCache(100)
	c.now = func() time.Time { return now }

	src := cacheBars(5, now)
	c.Replace("TEST", src)
	src[4].Close = -1

	got, ok := c.Recent("TEST", 5)
	if !ok {
		t.Fatal("window not served")
	}
	if got[4].Close == -1 {
		t.Error("cache aliases the caller's slice")
	}

	got[0].Close = -2
	again, _ := c.Recent("TEST", 5)
	if again[0].Close == -2 {
		t.Error("returned window aliases cache storage")
	}
}

func TestValidateBars(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	bars := cacheBars(5, now)
	if !validateBars(bars) {
		t.Error("ordered bars rejected")
	}
	bars[2].Timestamp = bars[1].Timestamp
	if validateBars(bars) {
		t.Error("duplicate timestamp accepted")
	}
}
