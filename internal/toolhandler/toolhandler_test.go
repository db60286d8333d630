package toolhandler

import (
	"testing"
	"time"

	"github.com/vinayprograms/agentmux/internal/inbox"
	"github.com/vinayprograms/agentmux/internal/tree"
)

func newTestTree(t *testing.T) (*tree.Tree, *inbox.Registry) {
	t.Helper()
	tr := tree.New()
	reg := inbox.NewRegistry()
	return tr, reg
}

func addAgent(t *testing.T, tr *tree.Tree, reg *inbox.Registry, id, name, parentID string, hasParent bool) *tree.AgentNode {
	t.Helper()
	node := &tree.AgentNode{
		ID:        id,
		Name:      name,
		ParentID:  parentID,
		HasParent: hasParent,
		State:     tree.StateIdle,
		CreatedAt: time.Now().UTC(),
	}
	if err := tr.Add(node); err != nil {
		t.Fatal(err)
	}
	reg.Create(id)
	return node
}

func TestHandler_SendMessageToChild(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)
	addAgent(t, tr, reg, "child", "worker", "parent", true)

	var logged []string
	h := New(tr, reg, "parent", nil, func(recipientID, event string, data map[string]any) {
		logged = append(logged, event)
	})

	res := h.SendMessage("worker", "hello", true)
	if res["status"] != "sent" {
		t.Fatalf("expected sent status, got %v", res)
	}
	if res["waiting_for_reply"] != true {
		t.Fatalf("expected waiting_for_reply true, got %v", res)
	}
	if len(logged) != 1 || logged[0] != "message.enqueued" {
		t.Fatalf("expected one message.enqueued log, got %v", logged)
	}

	ib, _ := reg.Get("child")
	if ib.Len() != 1 {
		t.Fatalf("expected one delivered message, got %d", ib.Len())
	}
}

func TestHandler_SendMessageUnreachableErrors(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "a", "alice", "", false)
	addAgent(t, tr, reg, "b", "bob", "", false)

	h := New(tr, reg, "a", nil, nil)
	res := h.SendMessage("bob", "hi", true)
	if _, ok := res["error"]; !ok {
		t.Fatalf("expected error result for unreachable root bob, got %v", res)
	}
}

func TestHandler_BroadcastExcludesSender(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)
	addAgent(t, tr, reg, "a", "a", "parent", true)
	addAgent(t, tr, reg, "b", "b", "parent", true)
	addAgent(t, tr, reg, "c", "c", "parent", true)

	h := New(tr, reg, "a", nil, nil)
	res := h.Broadcast("team update")
	if res["recipient_count"] != 2 {
		t.Fatalf("expected 2 recipients, got %v", res)
	}

	ibA, _ := reg.Get("a")
	if ibA.Len() != 0 {
		t.Fatal("sender must not receive its own broadcast")
	}

	ibB, _ := reg.Get("b")
	ibC, _ := reg.Get("c")
	msgsB := ibB.Peek()
	msgsC := ibC.Peek()
	if len(msgsB) != 1 || len(msgsC) != 1 {
		t.Fatalf("expected exactly one envelope each, got b=%d c=%d", len(msgsB), len(msgsC))
	}
	if msgsB[0].Metadata["broadcast_id"] != msgsC[0].Metadata["broadcast_id"] {
		t.Fatal("expected both recipients to share the same broadcast id")
	}
}

func TestHandler_CheckInboxDrainsAndLogs(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)
	addAgent(t, tr, reg, "child", "worker", "parent", true)

	var delivered []string
	hParent := New(tr, reg, "parent", nil, func(recipientID, event string, data map[string]any) {
		if event == "message.delivered" {
			delivered = append(delivered, event)
		}
	})
	hChild := New(tr, reg, "child", nil, func(recipientID, event string, data map[string]any) {
		if event == "message.delivered" {
			delivered = append(delivered, event)
		}
	})

	hParent.SendMessage("worker", "hello from root", true)

	msgs := hChild.CheckInbox()
	if len(msgs) != 1 || msgs[0]["text"] != "hello from root" {
		t.Fatalf("expected one message with matching text, got %v", msgs)
	}
	if msgs[0]["from"] != "root" {
		t.Fatalf("expected sender resolved to agent name, got %v", msgs[0]["from"])
	}
	if len(delivered) != 1 {
		t.Fatalf("expected one message.delivered log, got %d", len(delivered))
	}

	ib, _ := reg.Get("child")
	if !ib.Empty() {
		t.Fatal("expected inbox empty after check_inbox")
	}
}

func TestHandler_SpawnAgentEnqueuesDeferred(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)

	var spawned []*tree.AgentNode
	h := New(tr, reg, "parent", func(child *tree.AgentNode) {
		spawned = append(spawned, child)
	}, nil)

	res := h.SpawnAgent("child", "be helpful", "")
	if res["status"] != "accepted" {
		t.Fatalf("expected accepted status, got %v", res)
	}
	if !tr.Contains(res["agent_id"].(string)) {
		t.Fatal("expected child inserted into tree")
	}

	deferred := h.DrainDeferred()
	if len(deferred) != 1 {
		t.Fatalf("expected one deferred callback, got %d", len(deferred))
	}
	deferred[0]()
	if len(spawned) != 1 {
		t.Fatal("expected spawn callback invoked")
	}

	if more := h.DrainDeferred(); len(more) != 0 {
		t.Fatal("expected deferred queue cleared after drain")
	}
}

func TestHandler_SpawnAgentSiblingCollision(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)
	addAgent(t, tr, reg, "child1", "worker", "parent", true)

	h := New(tr, reg, "parent", nil, nil)
	res := h.SpawnAgent("worker", "dup name", "")
	if _, ok := res["error"]; !ok {
		t.Fatalf("expected sibling-name-collision error, got %v", res)
	}
}

func TestHandler_InspectAgentStrictlyDirectChildren(t *testing.T) {
	tr, reg := newTestTree(t)
	addAgent(t, tr, reg, "parent", "root", "", false)
	addAgent(t, tr, reg, "child", "worker", "parent", true)
	addAgent(t, tr, reg, "grandchild", "helper", "child", true)

	hParent := New(tr, reg, "parent", nil, nil)
	res := hParent.InspectAgent("worker")
	if res["state"] != "IDLE" {
		t.Fatalf("expected IDLE state, got %v", res)
	}

	if res := hParent.InspectAgent("helper"); res["error"] == nil {
		t.Fatal("expected error inspecting a non-direct descendant")
	}
}
