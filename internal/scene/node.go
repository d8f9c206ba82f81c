package scene

// Node is one element of the graph's hierarchy. A node carries at most one
// entity reference. Nodes are owned by the graph; other subsystems hold
// non-owning pointers and must check liveness through the reference.
type Node struct {
	graph    *Graph
	name     string
	parent   *Node
	children []*Node
	ref      *EntityRef
	removed  bool
}

func (n *Node) Name() string  { return n.name }
func (n *Node) Parent() *Node { return n.parent }
func (n *Node) Ref() *EntityRef { return n.ref }
func (n *Node) Removed() bool { return n.removed }

// Children returns the direct children in attachment order. The returned
// slice is shared; callers must not mutate it.
func (n *Node) Children() []*Node {
	return n.children
}

// Child finds a direct child by name, nil if absent.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// MarkDirty reports a spatial change on this node to the graph's dirty
// handler. The graph does not track transforms itself; consumers react to
// the notification.
func (n *Node) MarkDirty() {
	if n.removed || n.graph == nil {
		return
	}
	if n.graph.OnMarkedDirty != nil {
		n.graph.OnMarkedDirty(n)
	}
}
