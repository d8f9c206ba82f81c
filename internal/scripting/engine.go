// Package scripting lets data packs declare component types in Lua, so new
// registry component schemas ship without recompiling the host.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Field kinds accepted in component declarations.
const (
	KindU32    = "u32"
	KindF64    = "f64"
	KindString = "string"
	KindBool   = "bool"
)

// Field is one declared component field. Serialization order is declaration
// order.
type Field struct {
	Name string
	Kind string
}

// ComponentDef is a component type declared by a script.
type ComponentDef struct {
	Name     string
	Version  uint32
	Fields   []Field
	defaults *lua.LFunction
}

// Engine wraps a single gopher-lua VM that collects component declarations.
// Single-goroutine access only.
type Engine struct {
	vm   *lua.LState
	log  *zap.Logger
	defs []ComponentDef
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. Scripts call the global `component{...}` to declare types:
//
//	component{
//	    name = "Position",
//	    version = 1,
//	    fields = {
//	        {name = "x", kind = "f64"},
//	        {name = "y", kind = "f64"},
//	    },
//	    defaults = function()
//	        return {x = 0, y = 0}
//	    end,
//	}
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("component", vm.NewFunction(e.declareComponent))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load component scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) Close() {
	e.vm.Close()
}

// Definitions returns declared component types in declaration order.
func (e *Engine) Definitions() []ComponentDef {
	return e.defs
}

// FindDefinition looks up a declared type by name.
func (e *Engine) FindDefinition(name string) (ComponentDef, bool) {
	for _, def := range e.defs {
		if def.Name == name {
			return def, true
		}
	}
	return ComponentDef{}, false
}

// loadDir loads all .lua files in a directory. A missing directory is not
// an error.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded component script", zap.String("file", path))
	}
	return nil
}

// LoadString runs an inline chunk; declarations it makes are collected the
// same way as file scripts.
func (e *Engine) LoadString(chunk string) error {
	return e.vm.DoString(chunk)
}

func (e *Engine) declareComponent(L *lua.LState) int {
	tbl := L.CheckTable(1)

	name := lua.LVAsString(tbl.RawGetString("name"))
	if name == "" {
		L.RaiseError("component: missing name")
		return 0
	}
	for _, def := range e.defs {
		if def.Name == name {
			L.RaiseError("component: duplicate declaration of %s", name)
			return 0
		}
	}

	def := ComponentDef{
		Name:    name,
		Version: uint32(lua.LVAsNumber(tbl.RawGetString("version"))),
	}

	if fields, ok := tbl.RawGetString("fields").(*lua.LTable); ok {
		n := fields.Len()
		for i := 1; i <= n; i++ {
			entry, ok := fields.RawGetInt(i).(*lua.LTable)
			if !ok {
				L.RaiseError("component %s: field %d is not a table", name, i)
				return 0
			}
			field := Field{
				Name: lua.LVAsString(entry.RawGetString("name")),
				Kind: lua.LVAsString(entry.RawGetString("kind")),
			}
			switch field.Kind {
			case KindU32, KindF64, KindString, KindBool:
			default:
				L.RaiseError("component %s: field %s has unknown kind %q",
					name, field.Name, field.Kind)
				return 0
			}
			def.Fields = append(def.Fields, field)
		}
	}

	if fn, ok := tbl.RawGetString("defaults").(*lua.LFunction); ok {
		def.defaults = fn
	}

	e.defs = append(e.defs, def)
	e.log.Debug("declared component type",
		zap.String("type", def.Name),
		zap.Uint32("version", def.Version),
		zap.Int("fields", len(def.Fields)))
	return 0
}
