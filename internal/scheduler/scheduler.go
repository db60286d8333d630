// Package scheduler couples mux slot acquisition to prompt execution: it
// creates sessions, runs turns, drains deferred work queued by tool
// handlers, and owns the per-session event-log handles.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/mux"
	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/session"
)

// ErrUnknownProvider is returned by CreateSession when the requested
// provider name has no registered backend.
var ErrUnknownProvider = errors.New("scheduler: unknown provider")

// ErrNotFound is returned when an operation references a session id the
// scheduler has no cached entry for.
var ErrNotFound = errors.New("scheduler: session not found")

// Deferred is a unit of work queued during a turn, to run strictly after the
// mux slot is released.
type Deferred func(ctx context.Context) error

// Supervisor optionally wraps every turn. PreTurn returning an error aborts
// the turn before any provider call, exactly like a provider error (SPEC_FULL
// §5.12). The scheduler passes the turn's session id as the agentID argument
// of both hooks.
type Supervisor interface {
	PreTurn(ctx context.Context, agentID, prompt string) error
	PostTurn(ctx context.Context, agentID, prompt, response string, turnErr error)
}

type noopSupervisor struct{}

func (noopSupervisor) PreTurn(context.Context, string, string) error            { return nil }
func (noopSupervisor) PostTurn(context.Context, string, string, string, error) {}

type cached struct {
	sess *session.Session
	prov provider.Provider
	log  *durable.Log

	turns       int
	lastEventAt time.Time
}

// Scheduler owns the in-memory session cache, per-session event logs, and
// the deferred-callback queue. It is not safe for concurrent use from
// multiple goroutines without external serialization (spec §5).
type Scheduler struct {
	store      *session.Store
	mux        *mux.Mux
	providers  map[string]provider.Provider
	logRoot    string // empty disables per-session logs
	supervisor Supervisor

	mu       sync.Mutex
	sessions map[string]*cached
	deferred []Deferred
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithSupervisor attaches a turn supervisor (SPEC_FULL §5.12).
func WithSupervisor(s Supervisor) Option {
	return func(sch *Scheduler) { sch.supervisor = s }
}

// New constructs a Scheduler. logRoot, when non-empty, is the directory
// under which each session gets its own events.jsonl (spec §6); maxSlots
// bounds the mux.
func New(store *session.Store, providers []provider.Provider, maxSlots int, logRoot string, opts ...Option) *Scheduler {
	sch := &Scheduler{
		store:      store,
		providers:  make(map[string]provider.Provider, len(providers)),
		logRoot:    logRoot,
		supervisor: noopSupervisor{},
		sessions:   make(map[string]*cached),
	}
	for _, p := range providers {
		sch.providers[p.Name()] = p
	}
	sch.mux = mux.New(maxSlots, store, func(id string, stateSize int) {
		sch.mu.Lock()
		c, ok := sch.sessions[id]
		sch.mu.Unlock()
		if ok && c.log != nil {
			c.log.Log("suspend.result", map[string]any{"state_size": stateSize})
		}
	})
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

func newSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateSession validates providerName, mints a new Session, opens its event
// log, creates the provider-side session, slots it, activates and persists
// the record, and releases the slot.
func (s *Scheduler) CreateSession(ctx context.Context, providerName, model, systemPrompt string) (*session.Session, error) {
	p, ok := s.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerName)
	}

	sess := session.New(newSessionID(), providerName, model)

	var log *durable.Log
	if s.logRoot != "" {
		dir := filepath.Join(s.logRoot, sess.ID)
		l, err := durable.NewLog(dir, map[string]any{"session_id": sess.ID})
		if err != nil {
			return nil, err
		}
		if err := l.Open(); err != nil {
			return nil, fmt.Errorf("scheduler: open log for %s: %w", sess.ID, err)
		}
		log = l
	}

	ps, err := p.Create(ctx, model, systemPrompt, log)
	if err != nil {
		if log != nil {
			log.Close()
		}
		return nil, fmt.Errorf("scheduler: provider create: %w", err)
	}

	if err := s.mux.Put(ctx, sess.ID, ps); err != nil {
		if log != nil {
			log.Close()
		}
		return nil, fmt.Errorf("scheduler: slot new session: %w", err)
	}

	if err := sess.Activate(); err != nil {
		return nil, fmt.Errorf("scheduler: activate new session: %w", err)
	}
	if err := s.store.Save(sess); err != nil {
		return nil, fmt.Errorf("scheduler: persist new session: %w", err)
	}
	s.mux.Release(sess.ID)

	if log != nil {
		log.Log("session.created", map[string]any{"provider": providerName, "model": model})
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &cached{sess: sess, prov: p, log: log}
	s.mu.Unlock()

	return sess, nil
}

// RestoreSession installs a recovered session into the cache and opens its
// event log, without creating a provider session — the provider session is
// restored lazily on the next SendTurn (used by recovery, spec §4.10).
func (s *Scheduler) RestoreSession(sess *session.Session) error {
	p, ok := s.providers[sess.ProviderName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, sess.ProviderName)
	}

	var log *durable.Log
	if s.logRoot != "" {
		dir := filepath.Join(s.logRoot, sess.ID)
		l, err := durable.NewLog(dir, map[string]any{"session_id": sess.ID})
		if err != nil {
			return err
		}
		if err := l.Open(); err != nil {
			return fmt.Errorf("scheduler: open log for %s: %w", sess.ID, err)
		}
		log = l
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &cached{sess: sess, prov: p, log: log}
	s.mu.Unlock()
	return nil
}

// SendTurn runs one turn of conversation, acquiring the mux slot (restoring
// from store if the session had been evicted), streaming the provider's
// response, and draining deferred work after the slot is released. On
// provider error, deferred work accumulated during the aborted turn is
// dropped (spec §7).
func (s *Scheduler) SendTurn(ctx context.Context, sessionID, prompt string) (string, error) {
	s.mu.Lock()
	c, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if c.log != nil {
		c.log.Log("turn.start", map[string]any{"prompt": prompt})
	}

	if err := s.supervisor.PreTurn(ctx, sessionID, prompt); err != nil {
		s.supervisor.PostTurn(ctx, sessionID, prompt, "", err)
		return "", fmt.Errorf("scheduler: pre-turn supervision: %w", err)
	}

	if !s.mux.Contains(sessionID) {
		reloaded, err := s.store.Load(sessionID)
		if err != nil {
			return "", fmt.Errorf("scheduler: reload evicted session %s: %w", sessionID, err)
		}
		c.sess = reloaded
	}

	wasEvicted := !s.mux.Contains(sessionID)
	ps, err := s.mux.Acquire(ctx, c.sess, c.prov, c.log)
	if err != nil {
		return "", fmt.Errorf("scheduler: acquire slot for %s: %w", sessionID, err)
	}
	if wasEvicted && c.log != nil {
		c.log.Log("session.restored", map[string]any{"provider": c.sess.ProviderName, "model": c.sess.Model})
	}

	var response string
	var sendErr error
	func() {
		defer s.mux.Release(sessionID)
		for chunk := range ps.Send(ctx, prompt) {
			if chunk.Err != nil {
				sendErr = chunk.Err
				return
			}
			response += chunk.Text
		}
	}()

	if sendErr != nil {
		s.mu.Lock()
		s.deferred = nil
		s.mu.Unlock()
		s.supervisor.PostTurn(ctx, sessionID, prompt, response, sendErr)
		return "", fmt.Errorf("scheduler: send turn: %w", sendErr)
	}

	if c.log != nil {
		c.log.Log("turn.complete", map[string]any{"response": response})
	}
	s.mu.Lock()
	c.turns++
	c.lastEventAt = time.Now().UTC()
	s.mu.Unlock()

	s.drainDeferred(ctx)

	s.supervisor.PostTurn(ctx, sessionID, prompt, response, nil)
	return response, nil
}

// Defer enqueues a unit of work to run after the current turn releases its
// slot, in FIFO order relative to other deferred work from the same turn.
func (s *Scheduler) Defer(d Deferred) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, d)
}

func (s *Scheduler) drainDeferred(ctx context.Context) {
	s.mu.Lock()
	queue := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	for _, d := range queue {
		_ = d(ctx)
	}
}

// TerminateSession removes the session from the mux (stopping its provider
// session), transitions it to TERMINATED, persists the change, and closes
// and drops its event log.
func (s *Scheduler) TerminateSession(ctx context.Context, sessionID string) error {
	if err := s.mux.Remove(ctx, sessionID); err != nil {
		return fmt.Errorf("scheduler: remove from mux: %w", err)
	}

	s.mu.Lock()
	c, ok := s.sessions[sessionID]
	s.mu.Unlock()

	var sess *session.Session
	if ok {
		sess = c.sess
	} else {
		loaded, err := s.store.Load(sessionID)
		if err != nil {
			return fmt.Errorf("scheduler: load session to terminate: %w", err)
		}
		sess = loaded
	}

	if err := sess.Terminate(); err != nil {
		return fmt.Errorf("scheduler: terminate: %w", err)
	}
	if err := s.store.Save(sess); err != nil {
		return fmt.Errorf("scheduler: persist terminated session: %w", err)
	}

	s.mu.Lock()
	if ok && c.log != nil {
		c.log.Close()
	}
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return nil
}

// LogEvent lets external callers (the orchestrator) append lifecycle events
// to a session's log.
func (s *Scheduler) LogEvent(sessionID, event string, data map[string]any) error {
	s.mu.Lock()
	c, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || c.log == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return c.log.Log(event, data)
}

// Summarize reports how many turns a session has completed through this
// Scheduler and when the last one completed, for host-side status reporting.
// It reads in-memory counters that each successful SendTurn advances; it does
// not read the event log, so the counters start at zero whenever the session
// is cached anew and turns run before that are not counted. It is never
// consulted by recovery or routing logic.
func (s *Scheduler) Summarize(sessionID string) (turns int, lastEventAt time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[sessionID]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return c.turns, c.lastEventAt, nil
}

// Session returns the cached session record for id, if any.
func (s *Scheduler) Session(id string) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return c.sess, true
}
