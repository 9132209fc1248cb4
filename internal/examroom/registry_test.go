package examroom

import (
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
)

func TestRegistry_ReplacingClosesPreviousRoom(t *testing.T) {
	fc := clockwork.NewFakeClock()
	g := NewRegistry()

	first := Open(&recordingSink{}, Options{Clock: fc, Remaining: 60}, Hooks{})
	second := Open(&recordingSink{}, Options{Clock: fc, Remaining: 60}, Hooks{})
	defer second.Close()

	g.Add("a", first)
	g.Add("a", second)
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}

	// Removing the stale room must not drop the newer one.
	g.Remove("a", first)
	if g.Len() != 1 {
		t.Fatalf("Len after stale Remove = %d, want 1", g.Len())
	}

	g.CloseRoom("a")
	g.CloseRoom("a")
	if g.Len() != 0 {
		t.Fatalf("Len after CloseRoom = %d, want 0", g.Len())
	}
}

func TestRegistry_ReplacedRoomIsEvicted(t *testing.T) {
	fc := clockwork.NewFakeClock()
	g := NewRegistry()

	var firstEvicted, secondEvicted atomic.Int32
	first := Open(&recordingSink{}, Options{Clock: fc, Remaining: 60}, Hooks{
		Evicted: func() { firstEvicted.Add(1) },
	})
	second := Open(&recordingSink{}, Options{Clock: fc, Remaining: 60}, Hooks{
		Evicted: func() { secondEvicted.Add(1) },
	})

	g.Add("a", first)
	g.Add("a", first)
	if n := firstEvicted.Load(); n != 0 {
		t.Fatalf("re-adding the same room evicted it %d times", n)
	}

	g.Add("a", second)
	first.Evict()
	if n := firstEvicted.Load(); n != 1 {
		t.Errorf("first room evicted %d times, want 1", n)
	}

	// Closing the live room on purpose is not an eviction.
	g.CloseRoom("a")
	if n := secondEvicted.Load(); n != 0 {
		t.Errorf("second room evicted %d times, want 0", n)
	}
}
