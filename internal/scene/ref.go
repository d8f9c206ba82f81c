package scene

import "github.com/entman/server/internal/registry"

// EntityRef connects a node to a specific entity handle. It is created and
// destroyed by ordinary node lifecycle; the materialization engine only
// reacts to attach/detach notifications.
type EntityRef struct {
	node     *Node
	entity   registry.Entity
	detached bool
}

// NewRef creates an unattached reference holding the given handle. Pass
// registry.Nil for a reference whose entity is decided later.
func NewRef(entity registry.Entity) *EntityRef {
	return &EntityRef{entity: entity}
}

func (r *EntityRef) Entity() registry.Entity { return r.entity }

func (r *EntityRef) SetEntity(e registry.Entity) { r.entity = e }

// Node returns the node this reference is attached to, nil before attach.
// The node may already be removed; check Alive before dereferencing.
func (r *EntityRef) Node() *Node { return r.node }

// Alive reports whether the reference is still attached to a live node.
// A dangling reference must be treated as "not materialized".
func (r *EntityRef) Alive() bool {
	return r.node != nil && !r.detached && !r.node.removed
}
