// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import (
	"sync"
	"testing"
)

func TestSessionCache_SetGetClear(t *testing.T) {
	c := NewSessionCache()

	if _, ok := c.Get(); ok {
		t.Fatalf("expected empty cache")
	}

	c.Set(Session{Database: "fleet", UserName: "svc", Server: "my3.geotab.com", ID: "abc"})
	got, ok := c.Get()
	if !ok {
		t.Fatalf("expected session after Set")
	}
	if got.ID != "abc" || got.Server != "my3.geotab.com" {
		t.Fatalf("unexpected session: %+v", got)
	}

	c.Clear()
	if _, ok := c.Get(); ok {
		t.Fatalf("expected empty cache after Clear")
	}
}

func TestSessionCache_InvalidateOnlyMatching(t *testing.T) {
	c := NewSessionCache()
	c.Set(Session{ID: "old"})

	if !c.Invalidate("old") {
		t.Fatalf("expected first invalidate to drop the session")
	}
	c.Set(Session{ID: "new"})
	if c.Invalidate("old") {
		t.Fatalf("stale invalidate must not drop a newer session")
	}
	if got, ok := c.Get(); !ok || got.ID != "new" {
		t.Fatalf("expected new session to survive, got %+v %v", got, ok)
	}
}

func TestSessionCache_ConcurrentAccess(t *testing.T) {
	c := NewSessionCache()
	c.Set(Session{ID: "concurrent"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, ok := c.Get(); ok && s.ID != "concurrent" {
				t.Errorf("unexpected id %q", s.ID)
			}
		}()
	}
	wg.Wait()
}
