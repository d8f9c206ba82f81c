package scene

import (
	"testing"

	"github.com/entman/server/internal/registry"
)

func TestCreateChildAndLookup(t *testing.T) {
	g := NewGraph()
	a := g.CreateChild(nil, "A")
	b := g.CreateChild(a, "B")

	if a.Parent() != g.Root() {
		t.Error("nil parent must mean root")
	}
	if b.Parent() != a {
		t.Error("wrong parent")
	}
	if g.Root().Child("A") != a {
		t.Error("Child lookup failed")
	}
	if g.Root().Child("B") != nil {
		t.Error("Child must not search grandchildren")
	}
}

func TestAttachDetachNotifications(t *testing.T) {
	g := NewGraph()
	var added, removed []*EntityRef
	g.OnRefAdded = func(r *EntityRef) { added = append(added, r) }
	g.OnRefRemoved = func(r *EntityRef) { removed = append(removed, r) }

	n := g.CreateChild(nil, "N")
	ref := NewRef(registry.NewEntity(1, 0))
	if !g.AttachRef(n, ref) {
		t.Fatal("attach refused")
	}
	if len(added) != 1 || added[0] != ref {
		t.Fatalf("added = %v", added)
	}
	if !ref.Alive() || ref.Node() != n {
		t.Error("ref not live after attach")
	}

	// Second ref on the same node is refused.
	if g.AttachRef(n, NewRef(registry.Nil)) {
		t.Error("node accepted a second reference")
	}

	g.DetachRef(n)
	if len(removed) != 1 || removed[0] != ref {
		t.Fatalf("removed = %v", removed)
	}
	if ref.Alive() {
		t.Error("ref alive after detach")
	}
	if n.Ref() != nil {
		t.Error("node still holds the detached ref")
	}
}

func TestRemoveSubtreeFiresPerRef(t *testing.T) {
	g := NewGraph()
	var removed []*EntityRef
	g.OnRefRemoved = func(r *EntityRef) {
		// The handle must still be readable at notification time.
		if r.Entity().IsNil() {
			t.Error("handle gone before detach notification")
		}
		removed = append(removed, r)
	}

	top := g.CreateChild(nil, "Top")
	mid := g.CreateChild(top, "Mid")
	leaf := g.CreateChild(mid, "Leaf")

	refTop := NewRef(registry.NewEntity(1, 0))
	refLeaf := NewRef(registry.NewEntity(2, 0))
	g.AttachRef(top, refTop)
	g.AttachRef(leaf, refLeaf)

	g.Remove(top)
	if len(removed) != 2 {
		t.Fatalf("removed %d refs, want 2", len(removed))
	}
	if !top.Removed() || !mid.Removed() || !leaf.Removed() {
		t.Error("subtree not fully marked removed")
	}
	if refTop.Alive() || refLeaf.Alive() {
		t.Error("refs alive after subtree removal")
	}
	if g.Root().Child("Top") != nil {
		t.Error("removed node still reachable")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	g := NewGraph()
	n := g.CreateChild(nil, "N")
	calls := 0
	g.OnRefRemoved = func(*EntityRef) { calls++ }
	g.AttachRef(n, NewRef(registry.NewEntity(1, 0)))

	g.Remove(n)
	g.Remove(n)
	if calls != 1 {
		t.Errorf("detach fired %d times, want 1", calls)
	}
}

func TestSetParentKeepsSubtree(t *testing.T) {
	g := NewGraph()
	a := g.CreateChild(nil, "A")
	b := g.CreateChild(nil, "B")
	child := g.CreateChild(a, "C")
	grand := g.CreateChild(child, "G")

	g.SetParent(child, b)
	if child.Parent() != b {
		t.Error("child not moved")
	}
	if a.Child("C") != nil {
		t.Error("child still under old parent")
	}
	if grand.Parent() != child {
		t.Error("grandchild detached by move")
	}
}

func TestMarkDirty(t *testing.T) {
	g := NewGraph()
	var dirty []*Node
	g.OnMarkedDirty = func(n *Node) { dirty = append(dirty, n) }

	n := g.CreateChild(nil, "N")
	n.MarkDirty()
	if len(dirty) != 1 || dirty[0] != n {
		t.Fatalf("dirty = %v", dirty)
	}

	g.Remove(n)
	n.MarkDirty()
	if len(dirty) != 1 {
		t.Error("removed node still reports dirty")
	}
}
