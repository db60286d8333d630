package router

import (
	"testing"

	"github.com/vinayprograms/agentmux/internal/tree"
)

func buildTestTree(t *testing.T) *tree.Tree {
	t.Helper()
	tr := tree.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(tr.Add(&tree.AgentNode{ID: "root", Name: "root", HasParent: false}))
	must(tr.Add(&tree.AgentNode{ID: "a", Name: "a", ParentID: "root", HasParent: true}))
	must(tr.Add(&tree.AgentNode{ID: "b", Name: "b", ParentID: "root", HasParent: true}))
	must(tr.Add(&tree.AgentNode{ID: "c", Name: "c", ParentID: "root", HasParent: true}))
	return tr
}

func TestReachableSet(t *testing.T) {
	tr := buildTestTree(t)
	reachable, err := ReachableSet(tr, "a")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"root": true, "b": true, "c": true}
	if len(reachable) != len(want) {
		t.Fatalf("expected %d reachable, got %d: %v", len(want), len(reachable), reachable)
	}
	for _, id := range reachable {
		if !want[id] {
			t.Errorf("unexpected reachable id %s", id)
		}
	}
}

func TestValidateRoute_SentinelsBypass(t *testing.T) {
	tr := buildTestTree(t)
	if err := ValidateRoute(tr, SentinelSystem, "a"); err != nil {
		t.Fatalf("SYSTEM should bypass route check: %v", err)
	}
	if err := ValidateRoute(tr, SentinelUser, "a"); err != nil {
		t.Fatalf("USER should bypass route check: %v", err)
	}
}

func TestValidateRoute_UnreachableFails(t *testing.T) {
	tr := buildTestTree(t)
	tr.Add(&tree.AgentNode{ID: "grandchild", Name: "gc", ParentID: "a", HasParent: true})
	if err := ValidateRoute(tr, "grandchild", "b"); err == nil {
		t.Fatal("expected cannot-reach error: grandchild is two hops from b")
	}
}

func TestValidateRoute_RecipientMissing(t *testing.T) {
	tr := buildTestTree(t)
	if err := ValidateRoute(tr, "a", "ghost"); err == nil {
		t.Fatal("expected recipient-not-in-tree error")
	}
}

func TestResolveBroadcast(t *testing.T) {
	tr := buildTestTree(t)
	siblings, err := ResolveBroadcast(tr, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(siblings) != 2 {
		t.Fatalf("expected 2 siblings, got %d", len(siblings))
	}
}

func TestResolveBroadcast_SentinelFails(t *testing.T) {
	tr := buildTestTree(t)
	if _, err := ResolveBroadcast(tr, SentinelUser); err == nil {
		t.Fatal("expected sentinels-cannot-broadcast error")
	}
}

func TestResolveBroadcast_NoSiblingsFails(t *testing.T) {
	tr := buildTestTree(t)
	if _, err := ResolveBroadcast(tr, "root"); err == nil {
		t.Fatal("expected no-siblings error for sole root")
	}
}
