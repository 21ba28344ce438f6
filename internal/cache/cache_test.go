package cache

import (
	"sync"
	"testing"
)

func TestAverageCache_EmptyUntilSet(t *testing.T) {
	c := NewAverageCache()

	if _, _, ok := c.Get(); ok {
		t.Fatalf("empty cache must report no value")
	}

	c.Set(7.5, 4)

	avg, games, ok := c.Get()
	if !ok {
		t.Fatalf("cache must report a value after Set")
	}
	if avg != 7.5 || games != 4 {
		t.Fatalf("Get() = (%v, %d), want (7.5, 4)", avg, games)
	}
}

func TestAverageCache_ConcurrentAccess(t *testing.T) {
	c := NewAverageCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			c.Set(v, int(v))
		}(float64(i))
		go func() {
			defer wg.Done()
			c.Get()
		}()
	}
	wg.Wait()

	if _, _, ok := c.Get(); !ok {
		t.Fatalf("cache must hold a value after concurrent writes")
	}
}
