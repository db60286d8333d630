// Package router implements pure, side-effect-free routing functions over
// an agent tree: one-hop reachability and broadcast fan-out.
package router

import (
	"errors"
	"fmt"

	"github.com/vinayprograms/agentmux/internal/tree"
)

// ErrRouting wraps every routing failure; use errors.Is against it and read
// the message for the sub-reason (spec §7 lists them: "recipient not in
// tree", "sender not in tree", "cannot reach", "sentinels cannot broadcast",
// "no siblings").
var ErrRouting = errors.New("router: routing error")

// ReachableSet returns the union of id's parent (if any), children, and
// siblings, minus id itself.
func ReachableSet(t *tree.Tree, id string) ([]string, error) {
	node, err := t.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRouting, err)
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(other string) {
		if other == id {
			return
		}
		if _, dup := seen[other]; dup {
			return
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}

	if node.HasParent {
		add(node.ParentID)
	}
	for _, cid := range node.Children {
		add(cid)
	}
	if team, err := t.Team(id); err == nil {
		for _, sib := range team {
			add(sib.ID)
		}
	}

	return out, nil
}

// ValidateRoute succeeds iff recipient exists in the tree and either sender
// is a sentinel or sender exists in the tree with recipient in its reachable
// set.
func ValidateRoute(t *tree.Tree, sender, recipient string) error {
	if !t.Contains(recipient) {
		return fmt.Errorf("%w: recipient not in tree: %s", ErrRouting, recipient)
	}
	if IsSentinel(sender) {
		return nil
	}
	if !t.Contains(sender) {
		return fmt.Errorf("%w: sender not in tree: %s", ErrRouting, sender)
	}
	reachable, err := ReachableSet(t, sender)
	if err != nil {
		return err
	}
	for _, id := range reachable {
		if id == recipient {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot reach %s from %s", ErrRouting, recipient, sender)
}

// ResolveBroadcast returns sender's sibling ids, failing if sender is a
// sentinel, absent from the tree, or has no siblings.
func ResolveBroadcast(t *tree.Tree, sender string) ([]string, error) {
	if IsSentinel(sender) {
		return nil, fmt.Errorf("%w: sentinels cannot broadcast: %s", ErrRouting, sender)
	}
	if !t.Contains(sender) {
		return nil, fmt.Errorf("%w: sender not in tree: %s", ErrRouting, sender)
	}
	team, err := t.Team(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRouting, err)
	}
	if len(team) == 0 {
		return nil, fmt.Errorf("%w: no siblings: %s", ErrRouting, sender)
	}
	ids := make([]string, 0, len(team))
	for _, sib := range team {
		ids = append(ids, sib.ID)
	}
	return ids, nil
}
