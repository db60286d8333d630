package mux

import (
	"context"
	"testing"

	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/session"
)

func TestMux_PutAcquireReleaseRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(t.TempDir())
	p := provider.NewFake("fake")

	var evicted []string
	m := New(1, store, func(id string, size int) { evicted = append(evicted, id) })

	s1 := session.New("s1", "fake", "m")
	s1.Activate()
	store.Save(s1)
	ps1, err := p.Create(ctx, "m", "sys", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, s1.ID, ps1); err != nil {
		t.Fatal(err)
	}
	m.Release(s1.ID)

	s2 := session.New("s2", "fake", "m")
	s2.Activate()
	store.Save(s2)
	ps2, err := p.Create(ctx, "m", "sys", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, s2.ID, ps2); err != nil {
		t.Fatalf("put s2 should evict s1: %v", err)
	}

	if m.Contains(s1.ID) {
		t.Fatal("expected s1 evicted when s2 took the only slot")
	}
	if len(evicted) != 1 || evicted[0] != "s1" {
		t.Fatalf("expected onEvict(s1), got %v", evicted)
	}

	reloaded, err := store.Load(s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.State != session.StateSuspended {
		t.Fatalf("expected s1 SUSPENDED on disk, got %s", reloaded.State)
	}
	if len(reloaded.ProviderState) == 0 {
		t.Fatal("expected non-empty suspended state blob")
	}
}

func TestMux_AcquireRestoresEvictedSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(t.TempDir())
	p := provider.NewFake("fake")
	m := New(1, store, nil)

	s1 := session.New("s1", "fake", "m")
	s1.Activate()
	store.Save(s1)
	ps1, _ := p.Create(ctx, "m", "sys", nil)
	m.Put(ctx, s1.ID, ps1)
	m.Release(s1.ID)

	s2 := session.New("s2", "fake", "m")
	s2.Activate()
	store.Save(s2)
	ps2, _ := p.Create(ctx, "m", "sys", nil)
	m.Put(ctx, s2.ID, ps2)
	m.Release(s2.ID)

	reloadedS1, err := store.Load(s1.ID)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := m.Acquire(ctx, reloadedS1, p, nil)
	if err != nil {
		t.Fatalf("Acquire should transparently restore: %v", err)
	}
	if restored == nil {
		t.Fatal("expected a restored provider session")
	}
	if !m.Contains(s1.ID) {
		t.Fatal("expected s1 re-slotted after acquire")
	}
	if m.Contains(s2.ID) {
		t.Fatal("expected s2 evicted to make room for s1")
	}
}

func TestMux_ReleaseIsIdempotentInLRU(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(t.TempDir())
	p := provider.NewFake("fake")
	m := New(2, store, nil)

	s1 := session.New("s1", "fake", "m")
	ps1, _ := p.Create(ctx, "m", "sys", nil)
	m.Put(ctx, s1.ID, ps1)
	m.Release(s1.ID)
	m.Release(s1.ID) // must not duplicate in the LRU queue

	if m.lru.Len() != 1 {
		t.Fatalf("expected LRU queue length 1 after double release, got %d", m.lru.Len())
	}
}

func TestMux_RemoveStopsSession(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(t.TempDir())
	p := provider.NewFake("fake")
	m := New(1, store, nil)

	s1 := session.New("s1", "fake", "m")
	ps1, _ := p.Create(ctx, "m", "sys", nil)
	m.Put(ctx, s1.ID, ps1)

	if err := m.Remove(ctx, s1.ID); err != nil {
		t.Fatal(err)
	}
	if m.Contains(s1.ID) {
		t.Fatal("expected session removed from slots")
	}
	if err := m.Remove(ctx, s1.ID); err != nil {
		t.Fatalf("Remove should be a no-op the second time, got %v", err)
	}
}

func TestMux_AllHeldWhenNoneEvictable(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(t.TempDir())
	p := provider.NewFake("fake")
	m := New(1, store, nil)

	s1 := session.New("s1", "fake", "m")
	ps1, _ := p.Create(ctx, "m", "sys", nil)
	m.Put(ctx, s1.ID, ps1) // held, never released

	s2 := session.New("s2", "fake", "m")
	ps2, _ := p.Create(ctx, "m", "sys", nil)
	if err := m.Put(ctx, s2.ID, ps2); err == nil {
		t.Fatal("expected AllHeld error when the sole slot is held")
	} else if err != ErrAllHeld {
		t.Fatalf("expected ErrAllHeld, got %v", err)
	}
}
