package manager

import (
	"go.uber.org/zap"

	"github.com/entman/server/internal/archive"
	"github.com/entman/server/internal/registry"
	"github.com/entman/server/internal/scene"
)

// EncodeRegistry serializes the whole registry: the raw entity list, the
// materialization status storage, and one block per registered factory.
// Output is deterministic for identical registry content: entities sorted
// by index, factories by name.
func (m *Manager) EncodeRegistry() []byte {
	a := archive.NewOutput()
	m.serializeRegistry(a)
	return a.Data()
}

// DecodeRegistry clears the registry and restores it from the payload.
// Live proxy links whose entity handle survives the decode are kept; the
// rest of the materialization state is re-derived from the status records
// by the next Synchronize pass.
func (m *Manager) DecodeRegistry(data []byte) {
	a := archive.NewInput(data)
	m.serializeRegistry(a)
	m.registryDirty = true
}

func (m *Manager) serializeRegistry(a *archive.Archive) {
	var kept []*scene.EntityRef
	if a.IsInput() {
		m.materialized.each(func(_ registry.Entity, ref *scene.EntityRef) {
			if ref.Alive() {
				kept = append(kept, ref)
			}
		})
		m.reg.Clear()
	}

	m.serializeEntities(a)
	m.status.EncodeComponents(a, m.status.Version())
	m.serializeUserComponents(a)

	if a.IsInput() {
		for _, ref := range kept {
			e := ref.Entity()
			if !e.IsNil() && m.reg.Valid(e) {
				m.materialized.set(e, ref)
			}
		}
	}
}

// serializeEntities writes every live handle as its raw integer value,
// sorted by index. On read the handles are recreated preserving the raw
// value, so index and generation restore exactly.
func (m *Manager) serializeEntities(a *archive.Archive) {
	if a.IsInput() {
		count := a.ArrayBlock(0)
		for i := 0; i < count; i++ {
			var raw uint64
			a.U64(&raw)
			m.reg.CreateHint(registry.Entity(raw))
		}
		return
	}
	entities := m.reg.Entities()
	a.ArrayBlock(len(entities))
	for _, e := range entities {
		raw := uint64(e)
		a.U64(&raw)
	}
}

// serializeUserComponents writes one length-prefixed block per factory,
// tagged with type name and format version. A type name with no registered
// factory is skipped on read, preserving forward compatibility.
func (m *Manager) serializeUserComponents(a *archive.Archive) {
	factories := m.sortedFactories()

	if a.IsInput() {
		count := a.ArrayBlock(0)
		for i := 0; i < count; i++ {
			block := a.OpenSafeBlock()

			var typeName string
			a.String(&typeName)
			var version uint32
			a.U32(&version)

			if f := m.FindComponentType(typeName); f != nil {
				f.EncodeComponents(a, version)
			}
			block.Close()
		}
		return
	}

	a.ArrayBlock(len(factories))
	for _, f := range factories {
		block := a.OpenSafeBlock()

		typeName := f.Name()
		a.String(&typeName)
		version := f.Version()
		a.U32(&version)

		f.EncodeComponents(a, version)
		block.Close()
	}
}

// EncodeEntity serializes one entity's component set across all registered
// factories. Invalid handles log an error and return an empty payload.
func (m *Manager) EncodeEntity(e registry.Entity) []byte {
	if !m.reg.Valid(e) {
		m.log.Error("cannot encode entity", zap.Stringer("entity", e))
		return nil
	}
	a := archive.NewOutput()
	m.serializeStandaloneEntity(a, e)
	return a.Data()
}

// DecodeEntity applies a single-entity payload: for each recorded type,
// existence mismatches create or destroy the component, then the payload
// deserializes in place. Invalid handles log an error and no-op.
func (m *Manager) DecodeEntity(e registry.Entity, data []byte) {
	if !m.reg.Valid(e) {
		m.log.Error("cannot decode entity", zap.Stringer("entity", e))
		return
	}
	a := archive.NewInput(data)
	m.serializeStandaloneEntity(a, e)
}

// serializeStandaloneEntity visits factories in name-sorted order on both
// directions; re-encoding an immediately decoded payload with no concurrent
// mutation reproduces byte-identical output.
func (m *Manager) serializeStandaloneEntity(a *archive.Archive, e registry.Entity) {
	factories := m.sortedFactories()

	if a.IsInput() {
		count := a.ArrayBlock(0)
		for i := 0; i < count; i++ {
			block := a.OpenSafeBlock()

			var typeName string
			a.String(&typeName)
			var shouldExist bool
			a.Bool(&shouldExist)
			var version uint32
			a.U32(&version)

			if f := m.FindComponentType(typeName); f != nil {
				exists := f.Has(e)
				if shouldExist {
					if !exists {
						f.Create(e)
					}
					f.EncodeComponent(a, e, version)
				} else if exists {
					f.Destroy(e)
				}
			}
			block.Close()
		}
		return
	}

	a.ArrayBlock(len(factories))
	for _, f := range factories {
		block := a.OpenSafeBlock()

		typeName := f.Name()
		a.String(&typeName)
		exists := f.Has(e)
		a.Bool(&exists)
		version := f.Version()
		a.U32(&version)

		if exists {
			f.EncodeComponent(a, e, version)
		}
		block.Close()
	}
}
