package manager

import (
	"go.uber.org/zap"

	"github.com/entman/server/internal/scene"
)

// handleRefAdded queues a proxy-added notification. Application is deferred
// to the next Synchronize pass because attach events fire from arbitrary
// external code.
func (m *Manager) handleRefAdded(ref *scene.EntityRef) {
	if m.suppressEvents {
		return
	}
	if _, ok := m.pendingAddedSet[ref]; ok {
		return
	}
	m.pendingAddedSet[ref] = struct{}{}
	m.pendingAdded = append(m.pendingAdded, ref)
}

// handleRefRemoved destroys the referenced entity immediately: by
// notification time the node and its reference value are already going
// away, so removal cannot be deferred.
func (m *Manager) handleRefRemoved(ref *scene.EntityRef) {
	if m.suppressEvents {
		return
	}
	if _, ok := m.pendingAddedSet[ref]; ok {
		delete(m.pendingAddedSet, ref)
		for i, pending := range m.pendingAdded {
			if pending == ref {
				m.pendingAdded = append(m.pendingAdded[:i], m.pendingAdded[i+1:]...)
				break
			}
		}
	}

	e := ref.Entity()
	if e.IsNil() {
		return
	}
	if err := m.reg.Destroy(e); err != nil {
		m.log.Error("cannot destroy entity of removed proxy",
			zap.Stringer("entity", e), zap.Error(err))
	}
}

// handleMarkedDirty tags the node's entity as transform-dirty. Consumers
// clear the tag.
func (m *Manager) handleMarkedDirty(n *scene.Node) {
	ref := n.Ref()
	if ref == nil {
		return
	}
	e := ref.Entity()
	if e.IsNil() || !m.reg.Valid(e) {
		return
	}
	m.dirty.Set(e, TransformDirty{})
}

// Synchronize reconciles pending proxy additions, queued entity decodes,
// and (after a full-registry decode) materialization status against the
// registry. Idempotent; safe to call with no pending work. Reentrant calls
// during an in-progress pass are no-ops.
func (m *Manager) Synchronize() {
	if m.syncInProgress {
		return
	}
	m.syncInProgress = true
	defer func() { m.syncInProgress = false }()

	for _, ref := range m.pendingAdded {
		if !ref.Alive() {
			continue
		}

		hint := ref.Entity()
		if m.refFor(hint) == ref {
			// Spawned by this manager; already consistent.
			continue
		}

		if m.reg.Valid(hint) && m.refFor(hint) == nil {
			// Rehydration: a decoded or pre-existing entity got its proxy
			// back. Keep the handle as-is.
			if m.opts.Rehydrate == RehydrateConnectOnly {
				continue
			}
		} else {
			// New entity added from outside; the externally-chosen raw
			// value, if any, seeds the index.
			ref.SetEntity(m.reg.CreateHint(hint))
		}

		e := ref.Entity()
		m.materialized.set(e, ref)
		m.status.Store().Set(e, MaterializationStatus{Materialized: true})
	}
	m.pendingAdded = m.pendingAdded[:0]
	clear(m.pendingAddedSet)

	for _, pd := range m.pendingDecodes {
		if pd.ref.Alive() && !pd.ref.Entity().IsNil() {
			m.DecodeEntity(pd.ref.Entity(), pd.data)
		}
	}
	m.pendingDecodes = m.pendingDecodes[:0]

	if m.registryDirty {
		m.registryDirty = false
		m.reconcileMaterialization()
	}
}

// reconcileMaterialization makes the live proxy links agree with the
// persisted materialization status after a full-registry decode.
func (m *Manager) reconcileMaterialization() {
	for _, e := range m.reg.Entities() {
		status, _ := m.status.Store().Get(e)
		ref := m.refFor(e)
		if ref == nil && status.Materialized {
			m.Materialize(e)
		} else if ref != nil && !status.Materialized {
			m.Dematerialize(e)
		}
	}
}

// QueueDecodeEntity schedules a single-entity decode for the next
// Synchronize pass, once the proxy's handle has settled. Dropped silently
// if the proxy is removed before the pass.
func (m *Manager) QueueDecodeEntity(ref *scene.EntityRef, data []byte) {
	m.pendingDecodes = append(m.pendingDecodes, pendingDecode{ref: ref, data: data})
}
