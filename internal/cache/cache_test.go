package cache

import (
	"testing"
	"time"
)

func TestGetReturnsSameReference(t *testing.T) {
	c := New[*[]int](time.Minute, time.Minute)
	defer c.Stop()

	v := &[]int{1, 2, 3}
	c.Set("k", v)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got != v {
		t.Error("Get() returned a different reference; cache must not copy")
	}
}

func TestExpiry(t *testing.T) {
	c := New[string](20*time.Millisecond, time.Hour)
	defer c.Stop()

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("Get() within TTL should hit")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after TTL should miss")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	c := New[string](10*time.Millisecond, 20*time.Millisecond)
	defer c.Stop()

	c.Set("a", "1")
	c.Set("b", "2")

	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not remove expired entries, Len() = %d", c.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeleteAndDeletePrefix(t *testing.T) {
	c := New[string](time.Minute, time.Minute)
	defer c.Stop()

	c.Set("doc:1", "a")
	c.Set("doc:2", "b")
	c.Set("search:conv1:q", "c")
	c.Set("search:conv1:r", "d")

	c.Delete("doc:1")
	if _, ok := c.Get("doc:1"); ok {
		t.Error("Delete() left the key behind")
	}
	if _, ok := c.Get("doc:2"); !ok {
		t.Error("Delete() removed an unrelated key")
	}

	if n := c.DeletePrefix("search:conv1:"); n != 2 {
		t.Errorf("DeletePrefix() removed %d keys, want 2", n)
	}
	if _, ok := c.Get("doc:2"); !ok {
		t.Error("DeletePrefix() removed a key outside the prefix")
	}
}

func TestFlush(t *testing.T) {
	c := New[int](time.Minute, time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	if n := c.Flush(); n != 2 {
		t.Errorf("Flush() = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() after Flush = %d, want 0", c.Len())
	}
}

func TestStopTwice(t *testing.T) {
	c := New[int](time.Minute, time.Minute)
	c.Stop()
	// Must not panic.
	c.Stop()
}
