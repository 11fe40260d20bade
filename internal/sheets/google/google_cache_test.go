package google

import (
	"context"
	"testing"
	"time"
)

func TestNextRowUsesCache(t *testing.T) {
	c := &Client{cacheValidDuration: 2 * time.Minute}

	tests := []struct {
		name           string
		cachedRowCount int
		expectedNext   int
	}{
		{"empty sheet", 0, 1},
		{"one row", 1, 2},
		{"header plus ten rows", 11, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.mu.Lock()
			c.cachedRowCount = tt.cachedRowCount
			c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
			c.mu.Unlock()

			// svc is nil: a cache miss would panic, so this proves the cache path.
			nextRow, err := c.nextRow(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if nextRow != tt.expectedNext {
				t.Errorf("expected next row %d, got %d", tt.expectedNext, nextRow)
			}
		})
	}
}

func TestInvalidateRowCache(t *testing.T) {
	c := &Client{cacheValidDuration: 10 * time.Minute}
	c.cachedRowCount = 42
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)

	c.InvalidateRowCache()

	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().Before(c.cacheExpiresAt) {
		t.Error("cache should be expired after invalidation")
	}
	if c.cachedRowCount != 42 {
		t.Errorf("invalidation must keep the last count, got %d", c.cachedRowCount)
	}
}
