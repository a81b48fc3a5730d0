package resource

import (
	"maps"
	"slices"
	"sync"
	"testing"
)

func assertPool(t *testing.T, what string, got, want Pool) {
	t.Helper()
	if !maps.Equal(got, want) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestAllocator_GrantSubtractsAndReleaseRestores(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 10, "mem": 4})

	alloc, denial := a.Request("t1", Pool{"cpu": 6, "mem": 1})
	if denial != nil || alloc == nil {
		t.Fatalf("Request() = %v, %v, want grant", alloc, denial)
	}
	assertPool(t, "demand", alloc.Demand, Pool{"cpu": 6, "mem": 1})
	assertPool(t, "available", a.Available(), Pool{"cpu": 4, "mem": 3})

	held, ok := a.Held("t1")
	if !ok {
		t.Fatal("Held() reported no allocation")
	}
	assertPool(t, "held", held, Pool{"cpu": 6, "mem": 1})

	if !a.Release("t1") {
		t.Error("Release() = false, want true")
	}
	assertPool(t, "available after release", a.Available(), Pool{"cpu": 10, "mem": 4})
}

func TestAllocator_AllOrNothing(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 10, "mem": 2})
	before := a.Available()

	alloc, denial := a.Request("t1", Pool{"cpu": 5, "mem": 3})
	if alloc != nil {
		t.Errorf("Request() granted %v", alloc)
	}
	if denial == nil {
		t.Fatal("Request() denial = nil")
	}
	assertPool(t, "shortfall", denial.Shortfall, Pool{"mem": 1})
	// A denied request leaves the pool untouched.
	assertPool(t, "available", a.Available(), before)

	if _, holding := a.Held("t1"); holding {
		t.Error("denied task holds an allocation")
	}
}

func TestAllocator_ShortfallPerType(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 2})

	_, denial := a.Request("t1", Pool{"cpu": 5, "gpu": 1})
	if denial == nil {
		t.Fatal("Request() denial = nil")
	}
	assertPool(t, "shortfall", denial.Shortfall, Pool{"cpu": 3, "gpu": 1})
	if got, want := denial.String(), `task "t1" short of cpu=3,gpu=1`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAllocator_TwoTasksCompeteForCPU(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 10})

	if _, d := a.Request("high", Pool{"cpu": 6}); d != nil {
		t.Fatalf("high denied: %v", d)
	}

	_, d := a.Request("low", Pool{"cpu": 6})
	if d == nil {
		t.Fatal("low granted against an exhausted pool")
	}
	assertPool(t, "shortfall", d.Shortfall, Pool{"cpu": 2})

	a.Release("high")
	if _, d := a.Request("low", Pool{"cpu": 6}); d != nil {
		t.Errorf("freed capacity not re-requestable: %v", d)
	}
}

func TestAllocator_ReleaseExactlyOnce(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 4})
	_, _ = a.Request("t1", Pool{"cpu": 3})

	if !a.Release("t1") {
		t.Error("first Release() = false")
	}
	if a.Release("t1") {
		t.Error("second Release() = true, want no-op")
	}
	if a.Release("never-held") {
		t.Error("Release() of unknown task = true")
	}
	assertPool(t, "available", a.Available(), Pool{"cpu": 4})
}

func TestAllocator_DuplicateRequestDenied(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 10})
	_, _ = a.Request("t1", Pool{"cpu": 2})

	alloc, denial := a.Request("t1", Pool{"cpu": 2})
	if alloc != nil {
		t.Errorf("duplicate Request() granted %v", alloc)
	}
	if denial == nil {
		t.Fatal("duplicate Request() denial = nil")
	}
	if len(denial.Shortfall) != 0 {
		t.Errorf("shortfall = %v, want empty", denial.Shortfall)
	}
	assertPool(t, "available", a.Available(), Pool{"cpu": 8})
}

func TestAllocator_EmptyDemandAlwaysGranted(t *testing.T) {
	a := NewAllocator(Pool{})

	alloc, denial := a.Request("t1", nil)
	if denial != nil || alloc == nil {
		t.Fatalf("Request(nil) = %v, %v, want grant", alloc, denial)
	}
	if len(alloc.Demand) != 0 {
		t.Errorf("demand = %v, want empty", alloc.Demand)
	}

	// Non-positive quantities are ignored.
	if _, denial = a.Request("t2", Pool{"cpu": 0, "mem": -3}); denial != nil {
		t.Errorf("Request() denial = %v", denial)
	}
}

func TestAllocator_Fits(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 4})
	_, _ = a.Request("t1", Pool{"cpu": 4})

	tests := []struct {
		demand Pool
		want   bool
	}{
		{Pool{"cpu": 4}, true}, // capacity, even while exhausted
		{Pool{"cpu": 5}, false},
		{Pool{"gpu": 1}, false},
	}
	for _, tt := range tests {
		if got := a.Fits(tt.demand); got != tt.want {
			t.Errorf("Fits(%v) = %v, want %v", tt.demand, got, tt.want)
		}
	}
}

func TestAllocator_Usage(t *testing.T) {
	a := NewAllocator(Pool{"mem": 8, "cpu": 4, "bad": -2})
	_, _ = a.Request("t1", Pool{"cpu": 1, "mem": 5})

	want := []Usage{
		{Type: "bad", Capacity: 0, Available: 0, InUse: 0},
		{Type: "cpu", Capacity: 4, Available: 3, InUse: 1},
		{Type: "mem", Capacity: 8, Available: 3, InUse: 5},
	}
	if got := a.Usage(); !slices.Equal(got, want) {
		t.Errorf("Usage() = %+v, want %+v", got, want)
	}
}

func TestAllocator_ConcurrentRequestsNeverOvercommit(t *testing.T) {
	a := NewAllocator(Pool{"cpu": 10})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i))
			if _, d := a.Request(id, Pool{"cpu": 3}); d == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if granted != 3 {
		t.Errorf("granted = %d, want 3", granted)
	}
	assertPool(t, "available", a.Available(), Pool{"cpu": 1})
}
