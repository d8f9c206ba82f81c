// Package scene is a minimal scene-graph collaborator: a node hierarchy
// with entity-reference attachments and attach/detach/dirty notifications.
// It carries no rendering or transform state of its own.
package scene

// Graph owns the node tree. The three callbacks are consumed by the
// materialization engine; they fire synchronously from the mutating call.
type Graph struct {
	root *Node

	OnRefAdded    func(*EntityRef)
	OnRefRemoved  func(*EntityRef)
	OnMarkedDirty func(*Node)
}

func NewGraph() *Graph {
	g := &Graph{}
	g.root = &Node{graph: g, name: "Scene"}
	return g
}

func (g *Graph) Root() *Node { return g.root }

// CreateChild creates a named node under the given parent. A nil parent
// means the root.
func (g *Graph) CreateChild(parent *Node, name string) *Node {
	if parent == nil {
		parent = g.root
	}
	n := &Node{graph: g, name: name, parent: parent}
	parent.children = append(parent.children, n)
	return n
}

// SetParent moves a node under a new parent, keeping its subtree intact.
func (g *Graph) SetParent(node, newParent *Node) {
	if node == nil || node == g.root || node.removed {
		return
	}
	if newParent == nil {
		newParent = g.root
	}
	detachChild(node.parent, node)
	node.parent = newParent
	newParent.children = append(newParent.children, node)
}

// Remove detaches a node and tears down its whole subtree. A detach
// notification fires for every entity reference in the subtree before the
// reference goes dead; the reference still holds its handle at that point.
func (g *Graph) Remove(node *Node) {
	if node == nil || node == g.root || node.removed {
		return
	}
	detachChild(node.parent, node)
	node.parent = nil
	g.tearDown(node)
}

func (g *Graph) tearDown(node *Node) {
	node.removed = true
	if ref := node.ref; ref != nil {
		if g.OnRefRemoved != nil {
			g.OnRefRemoved(ref)
		}
		ref.detached = true
		node.ref = nil
	}
	for _, c := range node.children {
		g.tearDown(c)
	}
}

// AttachRef binds a reference to a node and fires the attach notification.
// A node carries at most one reference; attaching to an occupied or removed
// node is refused.
func (g *Graph) AttachRef(node *Node, ref *EntityRef) bool {
	if node == nil || node.removed || node.ref != nil || ref.node != nil {
		return false
	}
	node.ref = ref
	ref.node = node
	ref.detached = false
	if g.OnRefAdded != nil {
		g.OnRefAdded(ref)
	}
	return true
}

// DetachRef unbinds the node's reference, firing the detach notification
// first. The node itself stays in the tree.
func (g *Graph) DetachRef(node *Node) {
	if node == nil || node.ref == nil {
		return
	}
	ref := node.ref
	if g.OnRefRemoved != nil {
		g.OnRefRemoved(ref)
	}
	ref.detached = true
	node.ref = nil
}

func detachChild(parent, node *Node) {
	if parent == nil {
		return
	}
	for i, c := range parent.children {
		if c == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}
