package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrLoad_PopulatesOnce(t *testing.T) {
	c := New[string]()

	var loads int32
	load := func() (string, error) {
		atomic.AddInt32(&loads, 1)
		return "value", nil
	}

	v, err := c.GetOrLoad("k", load)
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if v != "value" {
		t.Errorf("Expected value, got %q", v)
	}

	// Second call must hit the cache.
	if _, err := c.GetOrLoad("k", load); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if loads != 1 {
		t.Errorf("Expected 1 load, got %d", loads)
	}
}

func TestGetOrLoad_ErrorNotCached(t *testing.T) {
	c := New[int]()

	calls := 0
	_, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	if err == nil {
		t.Fatal("Expected error")
	}

	v, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if v != 42 {
		t.Errorf("Expected 42, got %d", v)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

type countingObserver struct {
	events map[string]int
}

func (o *countingObserver) RecordCacheEvent(cache, event string) {
	if o.events == nil {
		o.events = make(map[string]int)
	}
	o.events[cache+"/"+event]++
}

func TestGetOrLoad_ReportsHitsAndMisses(t *testing.T) {
	obs := &countingObserver{}
	c := NewObserved[string]("definitions", obs)

	load := func() (string, error) { return "value", nil }
	if _, err := c.GetOrLoad("k", load); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}
	if _, err := c.GetOrLoad("k", load); err != nil {
		t.Fatalf("GetOrLoad failed: %v", err)
	}

	if got := obs.events["definitions/miss"]; got != 1 {
		t.Errorf("Expected 1 miss, got %d", got)
	}
	if got := obs.events["definitions/hit"]; got != 1 {
		t.Errorf("Expected 1 hit, got %d", got)
	}
}

func TestGetOrLoad_ConcurrentSameKey(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad("k", func() (int, error) { return 7, nil })
			if err != nil {
				t.Errorf("GetOrLoad failed: %v", err)
			}
			if v != 7 {
				t.Errorf("Expected 7, got %d", v)
			}
		}()
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Len())
	}
}
