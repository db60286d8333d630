// Package toolhandler implements the per-agent facade exposed to a running
// turn: send_message, broadcast, check_inbox, spawn_agent, inspect_agent.
// It performs no I/O itself — lifecycle events go through a caller-supplied
// log callback, and child-session creation goes through a deferred queue the
// orchestrator drains after the turn releases its slot.
package toolhandler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentmux/internal/inbox"
	"github.com/vinayprograms/agentmux/internal/router"
	"github.com/vinayprograms/agentmux/internal/tree"
)

// LogFunc records a structured lifecycle event against recipientID's
// session log. Handlers never touch a log directly (design note: "log
// callback vs direct coupling").
type LogFunc func(recipientID, event string, data map[string]any)

// SpawnFunc is invoked once a child node has been inserted into the tree;
// handlers enqueue a call to it as deferred work rather than running it
// inline.
type SpawnFunc func(child *tree.AgentNode)

// MirrorFunc optionally mirrors an envelope to an external transport (see
// internal/bus). A nil MirrorFunc disables mirroring; single-process
// delivery through inbox.Registry happens unconditionally either way.
type MirrorFunc func(env inbox.Envelope)

// Result is the success/error mapping every tool-handler operation returns.
// On success it holds the fields that the given operation documents; on
// failure it holds only "error".
type Result map[string]any

func errorResult(err error) Result { return Result{"error": err.Error()} }

func newID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// newMessageID mints a message or broadcast identifier using google/uuid.
// Agent and session ids are random hex strings instead (see newID).
func newMessageID() string {
	return uuid.New().String()
}

// Handler is the per-agent tool facade. CallerID identifies the agent it was
// constructed for; every operation resolves names relative to that agent.
type Handler struct {
	tree     *tree.Tree
	inboxes  *inbox.Registry
	callerID string
	spawn    SpawnFunc
	log      LogFunc
	mirror   MirrorFunc

	mu       sync.Mutex
	deferred []func()
}

// New constructs a Handler for callerID. spawn and log are both optional;
// a nil spawn means spawn_agent never enqueues deferred work, and a nil log
// silently drops every lifecycle event.
func New(t *tree.Tree, inboxes *inbox.Registry, callerID string, spawn SpawnFunc, log LogFunc) *Handler {
	return &Handler{tree: t, inboxes: inboxes, callerID: callerID, spawn: spawn, log: log}
}

// SetMirror attaches an optional bus mirror, called alongside (never
// instead of) in-process delivery for every envelope this handler sends.
func (h *Handler) SetMirror(m MirrorFunc) { h.mirror = m }

func (h *Handler) deliver(ib *inbox.Inbox, env inbox.Envelope) {
	ib.Deliver(env)
	if h.mirror != nil {
		h.mirror(env)
	}
}

func (h *Handler) emit(recipientID, event string, data map[string]any) {
	if h.log != nil {
		h.log(recipientID, event, data)
	}
}

// resolveOneHop looks up name among the caller's parent, children, then
// siblings, in that check order, returning the first id whose node's Name
// matches.
func (h *Handler) resolveOneHop(name string) (string, error) {
	caller, err := h.tree.Get(h.callerID)
	if err != nil {
		return "", err
	}

	if caller.HasParent {
		if parent, err := h.tree.Get(caller.ParentID); err == nil && parent.Name == name {
			return parent.ID, nil
		}
	}
	children, err := h.tree.Children(h.callerID)
	if err == nil {
		for _, c := range children {
			if c.Name == name {
				return c.ID, nil
			}
		}
	}
	team, err := h.tree.Team(h.callerID)
	if err == nil {
		for _, sib := range team {
			if sib.Name == name {
				return sib.ID, nil
			}
		}
	}
	return "", fmt.Errorf("toolhandler: no agent named %q reachable from %s", name, h.callerID)
}

// SendMessage resolves name in the caller's one-hop neighborhood, validates
// the route, constructs a REQUEST envelope, and delivers it — emitting
// message.enqueued before the envelope lands in the recipient's inbox.
func (h *Handler) SendMessage(name, text string, sync bool) Result {
	recipientID, err := h.resolveOneHop(name)
	if err != nil {
		return errorResult(err)
	}
	if err := router.ValidateRoute(h.tree, h.callerID, recipientID); err != nil {
		return errorResult(err)
	}

	env := inbox.Envelope{
		ID:        newMessageID(),
		Timestamp: time.Now().UTC(),
		Sender:    h.callerID,
		Recipient: recipientID,
		Kind:      inbox.KindRequest,
		Payload:   text,
		Metadata:  map[string]string{"sync": fmt.Sprintf("%t", sync)},
	}

	h.emit(recipientID, "message.enqueued", envelopeFields(env))
	ib := h.inboxes.Create(recipientID)
	h.deliver(ib, env)

	return Result{"status": "sent", "message_id": env.ID, "waiting_for_reply": sync}
}

// Broadcast fans text out to every sibling as a MULTICAST envelope sharing a
// single broadcast id. The sender never receives its own broadcast.
func (h *Handler) Broadcast(text string) Result {
	siblingIDs, err := router.ResolveBroadcast(h.tree, h.callerID)
	if err != nil {
		return errorResult(err)
	}

	broadcastID := newMessageID()
	for _, recipientID := range siblingIDs {
		env := inbox.Envelope{
			ID:        newMessageID(),
			Timestamp: time.Now().UTC(),
			Sender:    h.callerID,
			Recipient: recipientID,
			Kind:      inbox.KindMulticast,
			Payload:   text,
			Metadata:  map[string]string{"broadcast_id": broadcastID},
		}
		h.emit(recipientID, "message.enqueued", envelopeFields(env))
		ib := h.inboxes.Create(recipientID)
		h.deliver(ib, env)
	}

	return Result{"status": "sent", "message_id": broadcastID, "recipient_count": len(siblingIDs)}
}

// CheckInbox drains the caller's inbox in FIFO order, emitting
// message.delivered per message and resolving each sender to its agent name
// (falling back to the raw identifier for sentinels or agents no longer in
// the tree).
func (h *Handler) CheckInbox() []Result {
	ib, ok := h.inboxes.Get(h.callerID)
	if !ok {
		return nil
	}
	envelopes := ib.Collect()

	out := make([]Result, 0, len(envelopes))
	for _, env := range envelopes {
		h.emit(h.callerID, "message.delivered", map[string]any{
			"message_id": env.ID,
			"from":       env.Sender,
			"text":       env.Payload,
		})
		out = append(out, Result{
			"from":       h.senderDisplayName(env.Sender),
			"text":       env.Payload,
			"message_id": env.ID,
			"metadata":   env.Metadata,
		})
	}
	return out
}

func (h *Handler) senderDisplayName(senderID string) string {
	if node, err := h.tree.Get(senderID); err == nil {
		return node.Name
	}
	return senderID
}

// SpawnAgent inserts a new child node under the caller with a placeholder
// session id, eagerly creates its inbox, and — if a spawn callback is
// configured — enqueues it as deferred work.
func (h *Handler) SpawnAgent(name, instructions, workspaceSubdir string) Result {
	child := &tree.AgentNode{
		ID:              newID(),
		Name:            name,
		ParentID:        h.callerID,
		HasParent:       true,
		SessionID:       newID(), // placeholder, spec §9
		Instructions:    instructions,
		State:           tree.StateIdle,
		CreatedAt:       time.Now().UTC(),
		WorkspaceSubdir: workspaceSubdir,
	}

	if err := h.tree.Add(child); err != nil {
		return errorResult(err)
	}
	h.inboxes.Create(child.ID)

	if h.spawn != nil {
		h.mu.Lock()
		h.deferred = append(h.deferred, func() { h.spawn(child) })
		h.mu.Unlock()
	}

	return Result{"status": "accepted", "agent_id": child.ID, "name": child.Name}
}

// InspectAgent resolves name strictly among the caller's direct children and
// returns its state and a non-destructive snapshot of its inbox.
func (h *Handler) InspectAgent(name string) Result {
	children, err := h.tree.Children(h.callerID)
	if err != nil {
		return errorResult(err)
	}
	for _, c := range children {
		if c.Name != name {
			continue
		}
		ib, ok := h.inboxes.Get(c.ID)
		if !ok {
			return errorResult(fmt.Errorf("toolhandler: no inbox yet for %q", name))
		}
		recent := make([]map[string]any, 0)
		for _, env := range ib.Peek() {
			recent = append(recent, map[string]any{
				"from": h.senderDisplayName(env.Sender),
				"text": env.Payload,
			})
		}
		return Result{"state": string(c.State), "recent_messages": recent}
	}
	return errorResult(fmt.Errorf("toolhandler: %q is not a child of %s", name, h.callerID))
}

// DrainDeferred returns and clears the accumulated deferred callbacks.
func (h *Handler) DrainDeferred() []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.deferred
	h.deferred = nil
	return out
}

func envelopeFields(env inbox.Envelope) map[string]any {
	return map[string]any{
		"sender":    env.Sender,
		"recipient": env.Recipient,
		"kind":      string(env.Kind),
		"payload":   env.Payload,
		"message_id": env.ID,
		"timestamp":  env.Timestamp.Format(time.RFC3339Nano),
		"metadata":   env.Metadata,
	}
}
