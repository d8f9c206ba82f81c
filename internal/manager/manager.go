// Package manager implements the materialization bridge between a scene
// graph and an entity registry: a subset of entities carry a live proxy
// node while the full population persists in the registry and serializes
// independently.
package manager

import (
	"sort"

	"go.uber.org/zap"

	"github.com/entman/server/internal/registry"
	"github.com/entman/server/internal/scene"
)

// RehydratePolicy selects what happens when a proxy arrives already holding
// a valid but unmapped entity handle (a previously decoded or pre-existing
// entity getting its node back).
type RehydratePolicy int

const (
	// RehydrateMaterialize connects the proxy and sets the materialized
	// marker and status, same as a fresh materialization.
	RehydrateMaterialize RehydratePolicy = iota
	// RehydrateConnectOnly leaves marker and status untouched; the caller
	// is responsible for materializing separately.
	RehydrateConnectOnly
)

const defaultContainerName = "Entities"

type Options struct {
	// ContainerName is the root child node under which proxy nodes are
	// created. Defaults to "Entities".
	ContainerName string
	Rehydrate     RehydratePolicy
}

type pendingDecode struct {
	ref  *scene.EntityRef
	data []byte
}

// Manager owns the entity registry side of the bridge. Single-goroutine
// access only: every operation runs to completion inside externally-driven
// callbacks, no internal locking.
type Manager struct {
	log   *zap.Logger
	reg   *registry.Registry
	graph *scene.Graph
	opts  Options

	container *scene.Node

	factories       []ComponentFactory
	factoriesSorted bool

	materialized *refTable
	status       *TypedFactory[MaterializationStatus]
	dirty        *registry.TypedStore[TransformDirty]

	registryDirty   bool
	pendingAdded    []*scene.EntityRef
	pendingAddedSet map[*scene.EntityRef]struct{}
	pendingDecodes  []pendingDecode
	syncInProgress  bool
	suppressEvents  bool

	queue actionQueues

	// Notification surfaces. Fired synchronously; handlers that mutate the
	// scene re-enter through the usual suppression/reentrancy guards.
	OnEntityMaterialized   []func(*Manager, registry.Entity, *scene.EntityRef)
	OnEntityDematerialized []func(*Manager, registry.Entity, *scene.EntityRef)
	OnUpdated              []func(*Manager)
}

func New(reg *registry.Registry, graph *scene.Graph, opts Options, log *zap.Logger) *Manager {
	if opts.ContainerName == "" {
		opts.ContainerName = defaultContainerName
	}
	m := &Manager{
		log:             log,
		reg:             reg,
		graph:           graph,
		opts:            opts,
		materialized:    newRefTable(reg),
		pendingAddedSet: make(map[*scene.EntityRef]struct{}),
	}
	m.status = NewFactory(reg, statusStoreName, 0, statusCodec)
	m.dirty = registry.NewStore[TransformDirty](reg, "entityTransformDirty")

	graph.OnRefAdded = m.handleRefAdded
	graph.OnRefRemoved = m.handleRefRemoved
	graph.OnMarkedDirty = m.handleMarkedDirty
	return m
}

// Attach resolves (or creates) the proxy container node and runs an initial
// synchronization pass. Call once after construction, and again if the
// graph is rebuilt.
func (m *Manager) Attach() {
	m.container = m.graph.Root().Child(m.opts.ContainerName)
	if m.container == nil {
		m.container = m.graph.CreateChild(m.graph.Root(), m.opts.ContainerName)
	}
	m.Synchronize()
}

func (m *Manager) Registry() *registry.Registry { return m.reg }
func (m *Manager) Container() *scene.Node       { return m.container }

// DirtyStore exposes the transform-dirty tags. Consumers clear entries;
// the manager never does.
func (m *Manager) DirtyStore() *registry.TypedStore[TransformDirty] { return m.dirty }

// AddComponentType registers a component factory. Register all types
// before any serialization; the name "materializationStatus" is reserved.
func (m *Manager) AddComponentType(f ComponentFactory) {
	if f.Name() == statusStoreName {
		m.log.Error("component type name is reserved", zap.String("type", f.Name()))
		return
	}
	if m.FindComponentType(f.Name()) != nil {
		m.log.Error("duplicate component type", zap.String("type", f.Name()))
		return
	}
	m.factories = append(m.factories, f)
	m.factoriesSorted = false
}

// FindComponentType returns the factory for a type name, nil if unknown.
func (m *Manager) FindComponentType(name string) ComponentFactory {
	for _, f := range m.factories {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

func (m *Manager) sortedFactories() []ComponentFactory {
	if !m.factoriesSorted {
		sort.Slice(m.factories, func(i, j int) bool {
			return m.factories[i].Name() < m.factories[j].Name()
		})
		m.factoriesSorted = true
	}
	return m.factories
}

// refFor returns the live proxy reference for an entity, nil if the entity
// is not materialized. A dangling link is dropped and reported as nil.
func (m *Manager) refFor(e registry.Entity) *scene.EntityRef {
	if e.IsNil() {
		return nil
	}
	ref, ok := m.materialized.get(e)
	if !ok {
		return nil
	}
	if !ref.Alive() {
		m.materialized.Remove(e)
		return nil
	}
	return ref
}

// IsMaterialized reports whether the entity has a live proxy node.
func (m *Manager) IsMaterialized(e registry.Entity) bool {
	return m.refFor(e) != nil
}

// EntityToRef returns the entity's proxy reference, nil when not
// materialized.
func (m *Manager) EntityToRef(e registry.Entity) *scene.EntityRef {
	return m.refFor(e)
}

// EntityToNode returns the entity's proxy node, nil when not materialized.
func (m *Manager) EntityToNode(e registry.Entity) *scene.Node {
	if ref := m.refFor(e); ref != nil {
		return ref.Node()
	}
	return nil
}

// NodeToEntity returns the handle referenced by the node, Nil when the node
// carries no reference.
func (m *Manager) NodeToEntity(n *scene.Node) registry.Entity {
	if n != nil {
		if ref := n.Ref(); ref != nil {
			return ref.Entity()
		}
	}
	return registry.Nil
}

// Materialize gives the entity a live proxy node under the container. If
// the entity is already materialized this logs a warning and returns the
// existing reference.
func (m *Manager) Materialize(e registry.Entity) *scene.EntityRef {
	if !m.reg.Valid(e) {
		m.log.Error("cannot materialize invalid entity", zap.Stringer("entity", e))
		return nil
	}
	if existing := m.refFor(e); existing != nil {
		m.log.Warn("entity is already materialized", zap.Stringer("entity", e))
		return existing
	}

	m.log.Debug("entity is materializing", zap.Stringer("entity", e))

	node := m.graph.CreateChild(m.container, "Entity")
	ref := scene.NewRef(e)

	m.materialized.set(e, ref)
	m.status.Store().Set(e, MaterializationStatus{Materialized: true})

	// Attaching the reference would re-trigger the pending-added queue.
	m.suppressEvents = true
	m.graph.AttachRef(node, ref)
	m.suppressEvents = false

	for _, fn := range m.OnEntityMaterialized {
		fn(m, e, ref)
	}
	return ref
}

// Dematerialize removes the entity's proxy node, keeping the entity and its
// components in the registry. Child proxies of the removed node are
// re-parented to its former parent, never destroyed. Not materialized is a
// logged no-op.
func (m *Manager) Dematerialize(e registry.Entity) {
	if !m.reg.Valid(e) {
		m.log.Error("cannot dematerialize invalid entity", zap.Stringer("entity", e))
		return
	}
	ref := m.refFor(e)
	if ref == nil {
		m.log.Warn("entity is already dematerialized", zap.Stringer("entity", e))
		return
	}

	m.log.Debug("entity is dematerializing", zap.Stringer("entity", e))

	for _, fn := range m.OnEntityDematerialized {
		fn(m, e, ref)
	}

	m.flatten(ref)
	ref.SetEntity(registry.Nil)

	// Removing the node would otherwise destroy the entity through the
	// detach notification; the entity persists, only its proxy is gone.
	m.suppressEvents = true
	m.graph.Remove(ref.Node())
	m.suppressEvents = false

	m.materialized.Remove(e)
	m.status.Store().Set(e, MaterializationStatus{Materialized: false})
}

// flatten re-parents the topmost proxy-carrying descendants of the node up
// to the node's parent, so removing this proxy does not take unrelated
// proxies with it.
func (m *Manager) flatten(ref *scene.EntityRef) {
	node := ref.Node()
	parent := node.Parent()

	var carriers []*scene.Node
	var collect func(n *scene.Node)
	collect = func(n *scene.Node) {
		for _, c := range n.Children() {
			if c.Ref() != nil {
				carriers = append(carriers, c)
				continue
			}
			collect(c)
		}
	}
	collect(node)

	for _, c := range carriers {
		m.graph.SetParent(c, parent)
	}
}

// Tick is the per-frame entry point: synchronize pending work, then notify
// listeners once.
func (m *Manager) Tick() {
	m.Synchronize()
	for _, fn := range m.OnUpdated {
		fn(m)
	}
}
