package manager

import (
	"github.com/entman/server/internal/archive"
	"github.com/entman/server/internal/registry"
	"github.com/entman/server/internal/scene"
)

// MaterializationStatus records whether an entity should be materialized.
// It is the durable intent: persisted with the registry and compared
// against the live proxy link during reconciliation after a full decode.
type MaterializationStatus struct {
	Materialized bool
}

func statusCodec(a *archive.Archive, v *MaterializationStatus, version uint32) {
	a.Bool(&v.Materialized)
}

// TransformDirty tags entities whose proxy node reported a spatial change.
// Consumers clear it; the manager only sets it.
type TransformDirty struct{}

// statusStoreName is reserved; user factories must not claim it.
const statusStoreName = "materializationStatus"

// refTable is the live materialization relation: entity to its proxy's
// entity reference. The link is non-owning; callers check liveness before
// every dereference and treat a dangling reference as "not materialized".
// Registered as a store so destroying an entity drops its link.
type refTable struct {
	data map[registry.Entity]*scene.EntityRef
}

func newRefTable(r *registry.Registry) *refTable {
	t := &refTable{data: make(map[registry.Entity]*scene.EntityRef, 64)}
	r.AddStore("entityMaterialized", t)
	return t
}

func (t *refTable) get(e registry.Entity) (*scene.EntityRef, bool) {
	ref, ok := t.data[e]
	return ref, ok
}

func (t *refTable) set(e registry.Entity, ref *scene.EntityRef) {
	t.data[e] = ref
}

func (t *refTable) Contains(e registry.Entity) bool {
	_, ok := t.data[e]
	return ok
}

func (t *refTable) Remove(e registry.Entity) bool {
	if _, ok := t.data[e]; !ok {
		return false
	}
	delete(t.data, e)
	return true
}

func (t *refTable) Len() int { return len(t.data) }

func (t *refTable) Clear() { clear(t.data) }

func (t *refTable) each(fn func(registry.Entity, *scene.EntityRef)) {
	for e, ref := range t.data {
		fn(e, ref)
	}
}
