package cluster

import (
	"testing"
	"time"
)

func TestDedupCacheDropsRepeat(t *testing.T) {
	c := newDedupCache(time.Minute, 100)
	id := [16]byte{1, 2, 3}
	now := time.Now()

	if c.SeenOrAdd(id, now) {
		t.Fatal("first insert should not be reported as seen")
	}
	if !c.SeenOrAdd(id, now) {
		t.Fatal("second insert of same id should be reported as seen")
	}
}

func TestDedupCacheExpires(t *testing.T) {
	c := newDedupCache(10*time.Millisecond, 100)
	id := [16]byte{9}
	t0 := time.Now()
	c.SeenOrAdd(id, t0)

	later := t0.Add(20 * time.Millisecond)
	if c.SeenOrAdd(id, later) {
		t.Fatal("expired id should be treated as unseen")
	}
}

func TestDedupCacheEvictsOldestOverCapacity(t *testing.T) {
	c := newDedupCache(time.Hour, 2)
	now := time.Now()
	c.SeenOrAdd([16]byte{1}, now)
	c.SeenOrAdd([16]byte{2}, now)
	c.SeenOrAdd([16]byte{3}, now)

	if c.Len() > 2 {
		t.Fatalf("expected cache bounded to 2 entries, got %d", c.Len())
	}
	if c.SeenOrAdd([16]byte{1}, now) {
		t.Fatal("oldest entry should have been evicted")
	}
}
