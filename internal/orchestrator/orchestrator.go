// Package orchestrator is the composition root: it owns the agent tree, the
// inbox registry, and the tool-handler registry, and bridges agent
// lifecycle operations to the session scheduler.
package orchestrator

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
	"github.com/vinayprograms/agentmux/internal/inbox"
	"github.com/vinayprograms/agentmux/internal/scheduler"
	"github.com/vinayprograms/agentmux/internal/session"
	"github.com/vinayprograms/agentmux/internal/toolhandler"
	"github.com/vinayprograms/agentmux/internal/tree"
)

// ErrHasChildren is returned by TerminateAgent when the node still has
// children.
var ErrHasChildren = errors.New("orchestrator: agent has children")

func newID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

type providerModel struct {
	provider string
	model    string
}

// Orchestrator is the single composition root for one agent tree. It is not
// safe for concurrent use without external serialization (spec §5).
type Orchestrator struct {
	tree      *tree.Tree
	inboxes   *inbox.Registry
	scheduler *scheduler.Scheduler
	store     *session.Store
	logRoot   string

	defaultProvider string
	defaultModel    string

	mu         sync.Mutex
	handlers   map[string]*toolhandler.Handler
	providerOf map[string]providerModel
	mirror     toolhandler.MirrorFunc
}

// New constructs an Orchestrator. logRoot must match the one the scheduler
// was built with, so recovery can read event logs directly.
func New(sch *scheduler.Scheduler, store *session.Store, logRoot, defaultProvider, defaultModel string) *Orchestrator {
	return &Orchestrator{
		tree:            tree.New(),
		inboxes:         inbox.NewRegistry(),
		scheduler:       sch,
		store:           store,
		logRoot:         logRoot,
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
		handlers:        make(map[string]*toolhandler.Handler),
		providerOf:      make(map[string]providerModel),
	}
}

// SetMirror attaches an optional bus mirror; every handler installed from
// this point forward (and any installed already) forwards envelopes to it
// alongside normal in-process delivery.
func (o *Orchestrator) SetMirror(m toolhandler.MirrorFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mirror = m
	for _, h := range o.handlers {
		h.SetMirror(m)
	}
}

// Tree exposes the underlying tree for read-only inspection by callers.
func (o *Orchestrator) Tree() *tree.Tree { return o.tree }

// Handler returns the tool handler installed for id, if any.
func (o *Orchestrator) Handler(id string) (*toolhandler.Handler, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handlers[id]
	return h, ok
}

func (o *Orchestrator) logCallback() toolhandler.LogFunc {
	return func(recipientID, event string, data map[string]any) {
		node, err := o.tree.Get(recipientID)
		if err != nil {
			return
		}
		o.scheduler.LogEvent(node.SessionID, event, data)
	}
}

func (o *Orchestrator) spawnCallback(parentID string) toolhandler.SpawnFunc {
	return func(child *tree.AgentNode) {
		ctx := context.Background()

		o.mu.Lock()
		pm, ok := o.providerOf[parentID]
		o.mu.Unlock()
		if !ok {
			pm = providerModel{provider: o.defaultProvider, model: o.defaultModel}
		}

		sess, err := o.scheduler.CreateSession(ctx, pm.provider, pm.model, child.Instructions)
		if err != nil {
			return
		}
		child.SessionID = sess.ID

		var parentSessionID any
		if parent, err := o.tree.Get(parentID); err == nil {
			parentSessionID = parent.SessionID
		}

		o.scheduler.LogEvent(sess.ID, "agent.created", map[string]any{
			"agent_id":          child.ID,
			"name":              child.Name,
			"parent_session_id": parentSessionID,
			"instructions":      child.Instructions,
		})

		o.installHandler(child.ID, pm)
	}
}

func (o *Orchestrator) installHandler(id string, pm providerModel) {
	o.mu.Lock()
	o.providerOf[id] = pm
	h := toolhandler.New(o.tree, o.inboxes, id, o.spawnCallback(id), o.logCallback())
	if o.mirror != nil {
		h.SetMirror(o.mirror)
	}
	o.handlers[id] = h
	o.mu.Unlock()
}

// CreateRootAgent creates a fresh session, installs a root node, and wires
// its inbox and tool handler. On tree-insertion failure the just-created
// session is terminated so no orphan is left behind.
func (o *Orchestrator) CreateRootAgent(ctx context.Context, name, instructions, provider, model string) (*tree.AgentNode, error) {
	if provider == "" {
		provider = o.defaultProvider
	}
	if model == "" {
		model = o.defaultModel
	}

	sess, err := o.scheduler.CreateSession(ctx, provider, model, instructions)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create root session: %w", err)
	}

	node := &tree.AgentNode{
		ID:           newID(),
		Name:         name,
		HasParent:    false,
		SessionID:    sess.ID,
		Instructions: instructions,
		State:        tree.StateIdle,
		CreatedAt:    time.Now().UTC(),
	}

	if err := o.tree.Add(node); err != nil {
		o.scheduler.TerminateSession(ctx, sess.ID)
		return nil, fmt.Errorf("orchestrator: insert root agent: %w", err)
	}

	o.scheduler.LogEvent(sess.ID, "agent.created", map[string]any{
		"agent_id":          node.ID,
		"name":              node.Name,
		"parent_session_id": nil,
		"instructions":      instructions,
	})

	o.inboxes.Create(node.ID)
	o.installHandler(node.ID, providerModel{provider: provider, model: model})

	return node, nil
}

// RunTurn activates the agent, runs one turn via the scheduler, and resets it
// to IDLE on success or failure. On success it runs its handler's deferred
// queue; on failure the queue is discarded without running.
func (o *Orchestrator) RunTurn(ctx context.Context, agentID, prompt string) (string, error) {
	node, err := o.tree.Get(agentID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: run turn: %w", err)
	}
	if err := node.Activate(); err != nil {
		return "", fmt.Errorf("orchestrator: activate %s: %w", agentID, err)
	}

	response, err := o.scheduler.SendTurn(ctx, node.SessionID, prompt)
	if err != nil {
		if node.State == tree.StateBusy {
			node.Finish()
		}
		if h, ok := o.Handler(agentID); ok {
			h.DrainDeferred()
		}
		return "", fmt.Errorf("orchestrator: send turn: %w", err)
	}

	if err := node.Finish(); err != nil {
		return "", fmt.Errorf("orchestrator: finish turn: %w", err)
	}

	o.drainDeferred(agentID)

	return response, nil
}

func (o *Orchestrator) drainDeferred(agentID string) {
	h, ok := o.Handler(agentID)
	if !ok {
		return
	}
	for _, callback := range h.DrainDeferred() {
		callback()
	}
}

// TerminateAgent fails with ErrHasChildren if the node still has children;
// otherwise it marks the node TERMINATED, logs agent.terminated, asks the
// scheduler to terminate the session, and removes the agent from every
// registry.
func (o *Orchestrator) TerminateAgent(ctx context.Context, agentID string) error {
	node, err := o.tree.Get(agentID)
	if err != nil {
		return fmt.Errorf("orchestrator: terminate: %w", err)
	}
	if len(node.Children) > 0 {
		return fmt.Errorf("%w: %s", ErrHasChildren, agentID)
	}

	if err := node.MarkTerminated(); err != nil {
		return fmt.Errorf("orchestrator: mark terminated: %w", err)
	}
	o.scheduler.LogEvent(node.SessionID, "agent.terminated", map[string]any{"agent_id": agentID})

	if err := o.scheduler.TerminateSession(ctx, node.SessionID); err != nil {
		return fmt.Errorf("orchestrator: terminate session: %w", err)
	}

	if err := o.tree.Remove(agentID); err != nil {
		return fmt.Errorf("orchestrator: remove from tree: %w", err)
	}
	o.mu.Lock()
	delete(o.handlers, agentID)
	delete(o.providerOf, agentID)
	o.mu.Unlock()
	o.inboxes.Delete(agentID)

	return nil
}

// recoveredAgent is the candidate node reconstructed from a session's
// agent.created record, before topological placement.
type recoveredAgent struct {
	node            *tree.AgentNode
	parentSessionID string
	hasParentSID    bool
	sess            *session.Session
}

// Recover rebuilds the tree, inboxes, handler registry, and pending
// messages from persisted session records and event logs. Run once at
// startup on a fresh Orchestrator. Every recovered agent starts IDLE: an
// agent that was mid-turn at a crash is not told apart from one that was
// shut down cleanly.
func (o *Orchestrator) Recover(ctx context.Context) error {
	sessions, err := o.store.Recover()
	if err != nil {
		return fmt.Errorf("orchestrator: recover sessions: %w", err)
	}

	sessionToAgent := make(map[string]string)
	candidates := make(map[string]*recoveredAgent)

	for _, sess := range sessions {
		if sess.State == session.StateTerminated {
			continue
		}

		entries, err := durable.ReadLog(o.logDir(sess.ID))
		if err != nil {
			return fmt.Errorf("orchestrator: read log for %s: %w", sess.ID, err)
		}

		created, terminated := lastLifecycleEvents(entries)
		if created == nil {
			o.terminateOrphan(sess)
			continue
		}
		if terminated {
			continue
		}

		agentID, _ := created.Data["agent_id"].(string)
		name, _ := created.Data["name"].(string)
		instructions, _ := created.Data["instructions"].(string)
		parentSessionID, hasParent := created.Data["parent_session_id"].(string)

		node := &tree.AgentNode{
			ID:           agentID,
			Name:         name,
			HasParent:    hasParent,
			ParentID:     parentSessionID, // resolved to an agent id below
			SessionID:    sess.ID,
			Instructions: instructions,
			State:        tree.StateIdle,
			CreatedAt:    sess.CreatedAt,
		}

		sessionToAgent[sess.ID] = agentID
		candidates[agentID] = &recoveredAgent{node: node, parentSessionID: parentSessionID, hasParentSID: hasParent, sess: sess}
	}

	// Drop agents whose declared parent session id does not resolve.
	for agentID, cand := range candidates {
		if !cand.hasParentSID {
			continue
		}
		if _, ok := sessionToAgent[cand.parentSessionID]; !ok {
			o.terminateOrphan(cand.sess)
			delete(candidates, agentID)
		}
	}

	// Resolve ParentID from session id to agent id now that orphans are gone.
	for _, cand := range candidates {
		if cand.hasParentSID {
			cand.node.ParentID = sessionToAgent[cand.parentSessionID]
		}
	}

	placed := make(map[string]bool)
	for {
		progressed := false
		for agentID, cand := range candidates {
			if placed[agentID] {
				continue
			}
			if cand.node.HasParent && !placed[cand.node.ParentID] {
				continue
			}
			if err := o.tree.Add(cand.node); err != nil {
				o.terminateOrphan(cand.sess)
				placed[agentID] = true
				progressed = true
				continue
			}
			o.inboxes.Create(agentID)
			pm := providerModel{provider: cand.sess.ProviderName, model: cand.sess.Model}
			o.installHandler(agentID, pm)
			if err := o.scheduler.RestoreSession(cand.sess); err != nil {
				return fmt.Errorf("orchestrator: restore session %s: %w", cand.sess.ID, err)
			}
			placed[agentID] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for agentID, cand := range candidates {
		if !placed[agentID] {
			o.terminateOrphan(cand.sess)
		}
	}

	return o.recoverMessages(candidates, placed)
}

func (o *Orchestrator) recoverMessages(candidates map[string]*recoveredAgent, placed map[string]bool) error {
	for agentID, cand := range candidates {
		if !placed[agentID] {
			continue
		}
		entries, err := durable.ReadLog(o.logDir(cand.sess.ID))
		if err != nil {
			return fmt.Errorf("orchestrator: replay log for %s: %w", agentID, err)
		}

		ib, ok := o.inboxes.Get(agentID)
		if !ok {
			continue
		}

		for _, e := range entries {
			switch e.Event {
			case "message.enqueued":
				env, ok := envelopeFromData(e.Data, agentID)
				if ok {
					ib.Deliver(env)
				}
			case "message.delivered":
				if id, ok := e.Data["message_id"].(string); ok {
					ib.Remove(id)
				}
			}
		}
	}
	return nil
}

func envelopeFromData(data map[string]any, recipientID string) (inbox.Envelope, bool) {
	sender, _ := data["sender"].(string)
	id, _ := data["message_id"].(string)
	payload, _ := data["payload"].(string)
	kind, _ := data["kind"].(string)
	tsStr, _ := data["timestamp"].(string)
	if id == "" {
		return inbox.Envelope{}, false
	}

	ts, _ := time.Parse(time.RFC3339Nano, tsStr)

	metadata := map[string]string{}
	if raw, ok := data["metadata"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				metadata[k] = s
			}
		}
	}

	return inbox.Envelope{
		ID:        id,
		Timestamp: ts,
		Sender:    sender,
		Recipient: recipientID,
		Kind:      inbox.Kind(kind),
		Payload:   payload,
		Metadata:  metadata,
	}, true
}

func (o *Orchestrator) terminateOrphan(sess *session.Session) {
	sess.Terminate()
	o.store.Save(sess)
}

func (o *Orchestrator) logDir(sessionID string) string {
	return filepath.Join(o.logRoot, sessionID)
}

func lastLifecycleEvents(entries []durable.Entry) (created *durable.Entry, terminated bool) {
	for i := range entries {
		e := &entries[i]
		switch e.Event {
		case "agent.created":
			created = e
		case "agent.terminated":
			terminated = true
		}
	}
	return created, terminated
}
