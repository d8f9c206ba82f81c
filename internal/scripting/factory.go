package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/entman/server/internal/archive"
	"github.com/entman/server/internal/registry"
)

// Record holds one scripted component's field values, keyed by field name.
// Value types follow the field kind: uint32, float64, string, or bool.
type Record map[string]any

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Factory adapts a scripted component declaration to the manager's
// component factory surface.
type Factory struct {
	def    ComponentDef
	engine *Engine
	reg    *registry.Registry
	store  *registry.TypedStore[Record]

	pendingEdits []recordEdit
}

type recordEdit struct {
	entity registry.Entity
	value  Record
}

// NewFactory binds a declared component type to the registry, creating its
// backing store under the declared name.
func NewFactory(engine *Engine, reg *registry.Registry, def ComponentDef) *Factory {
	return &Factory{
		def:    def,
		engine: engine,
		reg:    reg,
		store:  registry.NewStore[Record](reg, def.Name),
	}
}

func (f *Factory) Name() string    { return f.def.Name }
func (f *Factory) Version() uint32 { return f.def.Version }
func (f *Factory) IsEmpty() bool   { return len(f.def.Fields) == 0 }

func (f *Factory) Has(e registry.Entity) bool {
	return f.store.Contains(e)
}

func (f *Factory) Create(e registry.Entity) {
	f.store.Set(e, f.newRecord())
}

func (f *Factory) Destroy(e registry.Entity) {
	f.store.Remove(e)
}

// Get returns the entity's record. Mutating the returned map mutates the
// live component; use StageEdit for deferred edits.
func (f *Factory) Get(e registry.Entity) (Record, bool) {
	return f.store.Get(e)
}

// Set replaces the entity's record immediately.
func (f *Factory) Set(e registry.Entity, rec Record) {
	f.store.Set(e, rec.clone())
}

// newRecord builds a record with zero values for every field, then applies
// the script's defaults function if one was declared.
func (f *Factory) newRecord() Record {
	rec := make(Record, len(f.def.Fields))
	for _, field := range f.def.Fields {
		switch field.Kind {
		case KindU32:
			rec[field.Name] = uint32(0)
		case KindF64:
			rec[field.Name] = float64(0)
		case KindString:
			rec[field.Name] = ""
		case KindBool:
			rec[field.Name] = false
		}
	}
	if f.def.defaults == nil {
		return rec
	}

	vm := f.engine.vm
	if err := vm.CallByParam(lua.P{Fn: f.def.defaults, NRet: 1, Protect: true}); err != nil {
		f.engine.log.Error("component defaults failed",
			zap.String("type", f.def.Name), zap.Error(err))
		return rec
	}
	ret := vm.Get(-1)
	vm.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return rec
	}
	for _, field := range f.def.Fields {
		lv := tbl.RawGetString(field.Name)
		if lv == lua.LNil {
			continue
		}
		switch field.Kind {
		case KindU32:
			if n, ok := lv.(lua.LNumber); ok {
				rec[field.Name] = uint32(n)
			}
		case KindF64:
			if n, ok := lv.(lua.LNumber); ok {
				rec[field.Name] = float64(n)
			}
		case KindString:
			if s, ok := lv.(lua.LString); ok {
				rec[field.Name] = string(s)
			}
		case KindBool:
			rec[field.Name] = lua.LVAsBool(lv)
		}
	}
	return rec
}

func (f *Factory) encodeRecord(a *archive.Archive, rec Record, version uint32) {
	// Fields serialize in declaration order; version is carried for the
	// script author, current schemas read all declared fields.
	_ = version
	for _, field := range f.def.Fields {
		switch field.Kind {
		case KindU32:
			v, _ := rec[field.Name].(uint32)
			a.U32(&v)
			rec[field.Name] = v
		case KindF64:
			v, _ := rec[field.Name].(float64)
			a.F64(&v)
			rec[field.Name] = v
		case KindString:
			v, _ := rec[field.Name].(string)
			a.String(&v)
			rec[field.Name] = v
		case KindBool:
			v, _ := rec[field.Name].(bool)
			a.Bool(&v)
			rec[field.Name] = v
		}
	}
}

func (f *Factory) EncodeComponent(a *archive.Archive, e registry.Entity, version uint32) {
	rec, ok := f.store.Get(e)
	if !ok {
		rec = f.newRecord()
	}
	f.encodeRecord(a, rec, version)
	if a.IsInput() {
		f.store.Set(e, rec)
	}
}

func (f *Factory) EncodeComponents(a *archive.Archive, version uint32) {
	if a.IsInput() {
		count := a.ArrayBlock(0)
		for i := 0; i < count; i++ {
			var raw uint64
			a.U64(&raw)
			rec := make(Record, len(f.def.Fields))
			f.encodeRecord(a, rec, version)
			f.store.Set(registry.Entity(raw), rec)
		}
		return
	}
	entities := f.store.SortedEntities()
	a.ArrayBlock(len(entities))
	for _, e := range entities {
		raw := uint64(e)
		a.U64(&raw)
		rec, _ := f.store.Get(e)
		f.encodeRecord(a, rec, version)
	}
}

// StageEdit queues a replacement record for the next commit.
func (f *Factory) StageEdit(e registry.Entity, rec Record) {
	f.pendingEdits = append(f.pendingEdits, recordEdit{entity: e, value: rec.clone()})
}

func (f *Factory) CommitEdits(log *zap.Logger) {
	for _, edit := range f.pendingEdits {
		if !f.reg.Valid(edit.entity) || !f.store.Contains(edit.entity) {
			log.Error("cannot edit component",
				zap.String("type", f.def.Name),
				zap.Stringer("entity", edit.entity))
			continue
		}
		f.store.Set(edit.entity, edit.value)
	}
	f.pendingEdits = f.pendingEdits[:0]
}
