package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/scheduler"
	"github.com/vinayprograms/agentmux/internal/session"
)

func newTestOrchestrator(t *testing.T, maxSlots int, p *provider.Fake) (*Orchestrator, string, *session.Store) {
	t.Helper()
	sessionRoot := t.TempDir()
	logRoot := t.TempDir()
	store := session.NewStore(sessionRoot)
	sch := scheduler.New(store, []provider.Provider{p}, maxSlots, logRoot)
	return New(sch, store, logRoot, "fake", "model-x"), logRoot, store
}

func TestOrchestrator_BasicTurn(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")
	p.Chunks = []string{"response"}
	o, _, _ := newTestOrchestrator(t, 2, p)

	alpha, err := o.CreateRootAgent(ctx, "alpha", "do things", "", "")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := o.RunTurn(ctx, alpha.ID, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if resp != "response" {
		t.Fatalf("expected %q, got %q", "response", resp)
	}
}

func TestOrchestrator_SpawnAndGrandchild(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")
	o, _, _ := newTestOrchestrator(t, 4, p)

	root, err := o.CreateRootAgent(ctx, "root", "top", "", "")
	if err != nil {
		t.Fatal(err)
	}

	rootHandler, _ := o.Handler(root.ID)
	if res := rootHandler.SpawnAgent("child", "ci", ""); res["error"] != nil {
		t.Fatalf("spawn child failed: %v", res)
	}

	if _, err := o.RunTurn(ctx, root.ID, "go"); err != nil {
		t.Fatal(err)
	}

	children, err := o.Tree().Children(root.ID)
	if err != nil || len(children) != 1 {
		t.Fatalf("expected one child, got %v (%v)", children, err)
	}
	child := children[0]

	childHandler, ok := o.Handler(child.ID)
	if !ok {
		t.Fatal("expected child handler installed after deferred drain")
	}
	if res := childHandler.SpawnAgent("grandchild", "gi", ""); res["error"] != nil {
		t.Fatalf("spawn grandchild failed: %v", res)
	}
	if _, err := o.RunTurn(ctx, child.ID, "go"); err != nil {
		t.Fatal(err)
	}

	if len(o.Tree().All()) != 3 {
		t.Fatalf("expected 3 agents in tree, got %d", len(o.Tree().All()))
	}
	for _, n := range o.Tree().All() {
		if _, ok := o.Handler(n.ID); !ok {
			t.Fatalf("expected every agent to have a handler, missing for %s", n.Name)
		}
	}
}

func TestOrchestrator_LRUEvictionAndTransparentRestore(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")
	o, _, _ := newTestOrchestrator(t, 1, p)

	s1, err := o.CreateRootAgent(ctx, "s1", "a", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.CreateRootAgent(ctx, "s2", "b", "", ""); err != nil {
		t.Fatal(err)
	}

	resp, err := o.RunTurn(ctx, s1.ID, "hello")
	if err != nil {
		t.Fatalf("expected transparent restore of evicted session: %v", err)
	}
	if resp != "response" {
		t.Fatalf("expected default fake response, got %q", resp)
	}
}

func TestOrchestrator_ProviderFailureRollback(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")
	p.FailSend = errors.New("boom")
	o, _, _ := newTestOrchestrator(t, 2, p)

	x, err := o.CreateRootAgent(ctx, "x", "p", "", "")
	if err != nil {
		t.Fatal(err)
	}

	h, _ := o.Handler(x.ID)
	h.SpawnAgent("never-runs", "i", "")

	if _, err := o.RunTurn(ctx, x.ID, "go"); err == nil {
		t.Fatal("expected send failure to propagate")
	}

	node, err := o.Tree().Get(x.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(node.State) != "IDLE" {
		t.Fatalf("expected agent reset to IDLE after provider failure, got %s", node.State)
	}

	if deferred := h.DrainDeferred(); len(deferred) != 0 {
		t.Fatal("expected deferred work from the aborted turn to have been dropped, not merely undrained")
	}
}

func TestOrchestrator_TerminateAgentRejectsWithChildren(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")
	o, _, _ := newTestOrchestrator(t, 2, p)

	root, err := o.CreateRootAgent(ctx, "root", "top", "", "")
	if err != nil {
		t.Fatal(err)
	}
	h, _ := o.Handler(root.ID)
	h.SpawnAgent("child", "ci", "")
	o.RunTurn(ctx, root.ID, "go")

	if err := o.TerminateAgent(ctx, root.ID); !errors.Is(err, ErrHasChildren) {
		t.Fatalf("expected ErrHasChildren, got %v", err)
	}
}

func TestOrchestrator_RecoverRebuildsTreeAndMessages(t *testing.T) {
	ctx := context.Background()
	p := provider.NewFake("fake")

	sessionRoot := t.TempDir()
	logRoot := t.TempDir()
	store := session.NewStore(sessionRoot)
	sch := scheduler.New(store, []provider.Provider{p}, 4, logRoot)
	o := New(sch, store, logRoot, "fake", "model-x")

	root, err := o.CreateRootAgent(ctx, "root", "top", "", "")
	if err != nil {
		t.Fatal(err)
	}
	rh, _ := o.Handler(root.ID)
	rh.SpawnAgent("a", "ai", "")
	rh.SpawnAgent("b", "bi", "")
	rh.SpawnAgent("c", "ci", "")
	if _, err := o.RunTurn(ctx, root.ID, "go"); err != nil {
		t.Fatal(err)
	}

	children, err := o.Tree().Children(root.ID)
	if err != nil || len(children) != 3 {
		t.Fatalf("expected 3 children, got %v (%v)", children, err)
	}

	var aID string
	for _, c := range children {
		if c.Name == "a" {
			aID = c.ID
		}
	}
	aHandler, _ := o.Handler(aID)
	aHandler.Broadcast("team update")

	// Fresh orchestrator against the same store/log root, simulating a restart.
	sch2 := scheduler.New(store, []provider.Provider{p}, 4, logRoot)
	o2 := New(sch2, store, logRoot, "fake", "model-x")
	if err := o2.Recover(ctx); err != nil {
		t.Fatal(err)
	}

	if len(o2.Tree().All()) != 4 {
		t.Fatalf("expected 4 recovered agents, got %d", len(o2.Tree().All()))
	}

	recoveredChildren, err := o2.Tree().Children(o2.rootIDByName("root"))
	if err != nil || len(recoveredChildren) != 3 {
		t.Fatalf("expected 3 recovered children, got %v (%v)", recoveredChildren, err)
	}

	var bID, cID string
	for _, c := range recoveredChildren {
		switch c.Name {
		case "b":
			bID = c.ID
		case "c":
			cID = c.ID
		}
	}

	ibB, _ := o2.inboxes.Get(bID)
	ibC, _ := o2.inboxes.Get(cID)
	if ibB.Len() != 1 || ibC.Len() != 1 {
		t.Fatalf("expected b and c to each have one pending broadcast envelope, got b=%d c=%d", ibB.Len(), ibC.Len())
	}
	msgsB := ibB.Peek()
	msgsC := ibC.Peek()
	if msgsB[0].Metadata["broadcast_id"] != msgsC[0].Metadata["broadcast_id"] {
		t.Fatal("expected recovered envelopes to share the same broadcast id")
	}
}

// rootIDByName is a test helper; production code resolves agents by id, not
// name, so this lookup has no counterpart on Orchestrator itself.
func (o *Orchestrator) rootIDByName(name string) string {
	for _, n := range o.Tree().Roots() {
		if n.Name == name {
			return n.ID
		}
	}
	return ""
}
