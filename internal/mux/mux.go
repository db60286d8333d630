// Package mux implements the fixed-slot, LRU-suspending session
// multiplexer: at most max_slots live provider sessions at a time, with
// transparent suspend-to-store eviction and restore.
package mux

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/session"
)

// ErrAllHeld is returned when a slot is needed, the mux is at capacity, and
// every occupied slot is currently held (none are LRU-evictable).
var ErrAllHeld = errors.New("mux: all slots held")

// OnEvict is invoked after a session is suspended and dropped from the slot
// table, with the evicted id and the size of its serialized state blob.
type OnEvict func(id string, stateSize int)

// Mux owns the slot table and LRU queue. It does not own the event-log
// handles; callers (the scheduler) pass in whatever *durable.Log should
// observe a given provider call.
type Mux struct {
	maxSlots int
	store    *session.Store
	onEvict  OnEvict

	mu    sync.Mutex
	slots map[string]provider.Session
	held  map[string]struct{}
	lru   *list.List               // front = next victim
	elems map[string]*list.Element // id -> lru element, only while released
}

// New constructs a Mux with a fixed number of slots backed by store for
// suspend/restore persistence.
func New(maxSlots int, store *session.Store, onEvict OnEvict) *Mux {
	return &Mux{
		maxSlots: maxSlots,
		store:    store,
		onEvict:  onEvict,
		slots:    make(map[string]provider.Session),
		held:     make(map[string]struct{}),
		lru:      list.New(),
		elems:    make(map[string]*list.Element),
	}
}

// Put slots a freshly-created provider session, evicting the LRU head first
// if at capacity.
func (m *Mux) Put(ctx context.Context, id string, ps provider.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureSlot(ctx); err != nil {
		return err
	}
	m.slots[id] = ps
	m.held[id] = struct{}{}
	return nil
}

// Acquire returns id's live provider session, restoring it from store if it
// was evicted. sess must be SUSPENDED when a restore is needed; on success
// sess transitions to ACTIVE and is persisted.
func (m *Mux) Acquire(ctx context.Context, sess *session.Session, p provider.Provider, log *durable.Log) (provider.Session, error) {
	m.mu.Lock()

	if ps, ok := m.slots[id(sess)]; ok {
		if elem, ok := m.elems[id(sess)]; ok {
			m.lru.Remove(elem)
			delete(m.elems, id(sess))
		}
		m.held[id(sess)] = struct{}{}
		m.mu.Unlock()
		return ps, nil
	}

	if sess.State != session.StateSuspended {
		m.mu.Unlock()
		return nil, fmt.Errorf("mux: cannot acquire session %s in state %s", sess.ID, sess.State)
	}

	if err := m.ensureSlot(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	ps, err := p.Restore(ctx, sess.ProviderState, log)
	if err != nil {
		return nil, fmt.Errorf("mux: restore session %s: %w", sess.ID, err)
	}

	m.mu.Lock()
	m.slots[sess.ID] = ps
	m.held[sess.ID] = struct{}{}
	m.mu.Unlock()

	if err := sess.Activate(); err != nil {
		return nil, fmt.Errorf("mux: activate restored session %s: %w", sess.ID, err)
	}
	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("mux: persist restored session %s: %w", sess.ID, err)
	}

	return ps, nil
}

func id(sess *session.Session) string { return sess.ID }

// Release clears id from held and, if still slotted, appends it to the LRU
// tail (victim-eligible). After Release, id appears at most once in the LRU
// queue.
func (m *Mux) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, id)
	if _, slotted := m.slots[id]; !slotted {
		return
	}
	if _, already := m.elems[id]; already {
		return
	}
	elem := m.lru.PushBack(id)
	m.elems[id] = elem
}

// Remove drops id from the slot table, held set, and LRU queue (if present),
// then stops its provider session. No-op if id is not slotted.
func (m *Mux) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	ps, ok := m.slots[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.slots, id)
	delete(m.held, id)
	if elem, ok := m.elems[id]; ok {
		m.lru.Remove(elem)
		delete(m.elems, id)
	}
	m.mu.Unlock()

	return ps.Stop(ctx)
}

// Contains reports whether id currently occupies a slot.
func (m *Mux) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[id]
	return ok
}

// Len reports the number of occupied slots.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// ensureSlot evicts the LRU head if the mux is at capacity. Caller must hold
// m.mu.
func (m *Mux) ensureSlot(ctx context.Context) error {
	if len(m.slots) < m.maxSlots {
		return nil
	}
	return m.evictLocked(ctx)
}

// evictLocked suspends and persists the LRU head, firing onEvict and
// stopping its provider session. Caller must hold m.mu; it is released
// around the (suspending) provider call and store write, then re-acquired
// before returning. The victim is only removed from lru/elems/slots once
// every step has succeeded, so a failed eviction leaves the victim exactly
// as evictable as it was before the attempt.
func (m *Mux) evictLocked(ctx context.Context) error {
	front := m.lru.Front()
	if front == nil {
		return ErrAllHeld
	}
	victimID := front.Value.(string)
	ps := m.slots[victimID]

	m.mu.Unlock()
	blob, err := ps.Suspend(ctx)
	if err != nil {
		m.mu.Lock()
		return fmt.Errorf("mux: suspend victim %s: %w", victimID, err)
	}

	sess, err := m.store.Load(victimID)
	if err != nil {
		m.mu.Lock()
		return fmt.Errorf("mux: load victim %s for suspend: %w", victimID, err)
	}
	if err := sess.Suspend(blob); err != nil {
		m.mu.Lock()
		return fmt.Errorf("mux: suspend transition for %s: %w", victimID, err)
	}
	if err := m.store.Save(sess); err != nil {
		m.mu.Lock()
		return fmt.Errorf("mux: persist suspended %s: %w", victimID, err)
	}

	if m.onEvict != nil {
		m.onEvict(victimID, len(blob))
	}

	if err := ps.Stop(ctx); err != nil {
		m.mu.Lock()
		return fmt.Errorf("mux: stop victim %s: %w", victimID, err)
	}

	m.mu.Lock()
	m.lru.Remove(front)
	delete(m.elems, victimID)
	delete(m.slots, victimID)
	return nil
}
