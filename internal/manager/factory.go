package manager

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/entman/server/internal/archive"
	"github.com/entman/server/internal/registry"
)

// ComponentFactory is the type-erased operations table for one component
// type. Exactly one factory exists per type name; the manager owns the
// factories for its lifetime and visits them in name-sorted order on both
// serialization surfaces.
type ComponentFactory interface {
	Name() string
	Version() uint32
	IsEmpty() bool
	Has(e registry.Entity) bool
	Create(e registry.Entity)
	Destroy(e registry.Entity)
	// EncodeComponent serializes one entity's component in the archive's
	// direction. On input the component must already exist.
	EncodeComponent(a *archive.Archive, e registry.Entity, version uint32)
	// EncodeComponents bulk-serializes the whole storage as an array of
	// (raw entity, payload) records, entities sorted by index on output.
	EncodeComponents(a *archive.Archive, version uint32)
	// CommitEdits applies staged edits. Invalid targets are logged and
	// skipped; multiple edits to one entity resolve to the last staged.
	CommitEdits(log *zap.Logger)
}

// Codec serializes one component value in the archive's direction. Nil for
// empty (tag) components.
type Codec[T any] func(a *archive.Archive, v *T, version uint32)

// TypedFactory is the default ComponentFactory over a typed store.
type TypedFactory[T any] struct {
	name    string
	version uint32
	reg     *registry.Registry
	store   *registry.TypedStore[T]
	codec   Codec[T]

	pendingEdits []editAction[T]
}

type editAction[T any] struct {
	entity registry.Entity
	value  T
}

// NewFactory creates a typed factory and registers its backing store with
// the registry under the factory name.
func NewFactory[T any](reg *registry.Registry, name string, version uint32, codec Codec[T]) *TypedFactory[T] {
	return &TypedFactory[T]{
		name:    name,
		version: version,
		reg:     reg,
		store:   registry.NewStore[T](reg, name),
		codec:   codec,
	}
}

func (f *TypedFactory[T]) Name() string    { return f.name }
func (f *TypedFactory[T]) Version() uint32 { return f.version }

func (f *TypedFactory[T]) IsEmpty() bool {
	return reflect.TypeOf((*T)(nil)).Elem().Size() == 0
}

func (f *TypedFactory[T]) Has(e registry.Entity) bool {
	return f.store.Contains(e)
}

func (f *TypedFactory[T]) Create(e registry.Entity) {
	var zero T
	f.store.Set(e, zero)
}

func (f *TypedFactory[T]) Destroy(e registry.Entity) {
	f.store.Remove(e)
}

// Store exposes the typed storage for direct use by systems.
func (f *TypedFactory[T]) Store() *registry.TypedStore[T] {
	return f.store
}

func (f *TypedFactory[T]) EncodeComponent(a *archive.Archive, e registry.Entity, version uint32) {
	if f.codec == nil {
		return
	}
	v, _ := f.store.Get(e)
	f.codec(a, &v, version)
	if a.IsInput() {
		f.store.Set(e, v)
	}
}

func (f *TypedFactory[T]) EncodeComponents(a *archive.Archive, version uint32) {
	if a.IsInput() {
		count := a.ArrayBlock(0)
		for i := 0; i < count; i++ {
			var raw uint64
			a.U64(&raw)
			e := registry.Entity(raw)
			var v T
			if f.codec != nil {
				f.codec(a, &v, version)
			}
			f.store.Set(e, v)
		}
		return
	}
	entities := f.store.SortedEntities()
	a.ArrayBlock(len(entities))
	for _, e := range entities {
		raw := uint64(e)
		a.U64(&raw)
		if f.codec != nil {
			v, _ := f.store.Get(e)
			f.codec(a, &v, version)
		}
	}
}

// StageEdit queues a replacement value to be applied at the next commit,
// leaving the live component untouched until then.
func (f *TypedFactory[T]) StageEdit(e registry.Entity, v T) {
	f.pendingEdits = append(f.pendingEdits, editAction[T]{entity: e, value: v})
}

func (f *TypedFactory[T]) CommitEdits(log *zap.Logger) {
	for _, action := range f.pendingEdits {
		if !f.reg.Valid(action.entity) || !f.store.Contains(action.entity) {
			log.Error("cannot edit component",
				zap.String("type", f.name),
				zap.Stringer("entity", action.entity))
			continue
		}
		f.store.Set(action.entity, action.value)
	}
	f.pendingEdits = f.pendingEdits[:0]
}
