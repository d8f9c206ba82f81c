package manager

import (
	"go.uber.org/zap"

	"github.com/entman/server/internal/registry"
)

// actionQueues batches externally-triggered mutation requests so they apply
// at a single commit point instead of during arbitrary callback reentry.
type actionQueues struct {
	materializations []materializationAction
	creates          []componentAction
	destroys         []componentAction
	edits            []ComponentFactory
}

type materializationAction struct {
	entity      registry.Entity
	materialize bool
}

type componentAction struct {
	entity  registry.Entity
	factory ComponentFactory
}

// QueueMaterialization requests a materialization toggle at the next
// commit.
func (m *Manager) QueueMaterialization(e registry.Entity, materialize bool) {
	m.queue.materializations = append(m.queue.materializations,
		materializationAction{entity: e, materialize: materialize})
}

// QueueCreateComponent requests component creation at the next commit.
func (m *Manager) QueueCreateComponent(e registry.Entity, f ComponentFactory) {
	m.queue.creates = append(m.queue.creates, componentAction{entity: e, factory: f})
}

// QueueDestroyComponent requests component destruction at the next commit.
func (m *Manager) QueueDestroyComponent(e registry.Entity, f ComponentFactory) {
	m.queue.destroys = append(m.queue.destroys, componentAction{entity: e, factory: f})
}

// QueueEditComponent marks a factory with staged edits for the next commit.
func (m *Manager) QueueEditComponent(f ComponentFactory) {
	m.queue.edits = append(m.queue.edits, f)
}

// Commit drains all queues in fixed order: materialization toggles, then
// component creation, destruction, edits. Each step validates its
// preconditions; a failed operation is logged and skipped, never aborting
// the batch. An empty commit is a no-op.
func (m *Manager) Commit() {
	if len(m.queue.materializations) > 0 {
		for _, action := range m.queue.materializations {
			if action.materialize {
				m.Materialize(action.entity)
			} else {
				m.Dematerialize(action.entity)
			}
		}
		m.queue.materializations = m.queue.materializations[:0]
	}

	if len(m.queue.creates) > 0 {
		for _, action := range m.queue.creates {
			if !m.reg.Valid(action.entity) || action.factory.Has(action.entity) {
				m.log.Error("cannot add component",
					zap.String("type", action.factory.Name()),
					zap.Stringer("entity", action.entity))
				continue
			}
			action.factory.Create(action.entity)
		}
		m.queue.creates = m.queue.creates[:0]
	}

	if len(m.queue.destroys) > 0 {
		for _, action := range m.queue.destroys {
			if !m.reg.Valid(action.entity) || !action.factory.Has(action.entity) {
				m.log.Error("cannot remove component",
					zap.String("type", action.factory.Name()),
					zap.Stringer("entity", action.entity))
				continue
			}
			action.factory.Destroy(action.entity)
		}
		m.queue.destroys = m.queue.destroys[:0]
	}

	if len(m.queue.edits) > 0 {
		for _, f := range m.queue.edits {
			f.CommitEdits(m.log)
		}
		m.queue.edits = m.queue.edits[:0]
	}
}
