package task

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Module is a named set of task functions, optionally grouped by object.
type Module struct {
	Funcs   map[string]Func
	Objects map[string]map[string]Func
}

// Loader produces a module on demand. It runs on every resolution of a
// reference into its module, so a module can disappear between calls.
type Loader func(ctx context.Context) (Module, error)

type tableEntry struct {
	mod    Module
	loader Loader
}

// Table is the registration table that path references resolve against.
// Lookups are never cached.
type Table struct {
	mu      sync.RWMutex
	modules map[string]*tableEntry
}

func NewTable() *Table {
	return &Table{modules: map[string]*tableEntry{}}
}

// Register adds fn as module.name. Registering the same name again replaces it.
func (t *Table) Register(module, name string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(module)
	if e.mod.Funcs == nil {
		e.mod.Funcs = map[string]Func{}
	}
	e.mod.Funcs[name] = fn
}

// RegisterObject adds fn as module.object.name.
func (t *Table) RegisterObject(module, object, name string, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(module)
	if e.mod.Objects == nil {
		e.mod.Objects = map[string]map[string]Func{}
	}
	if e.mod.Objects[object] == nil {
		e.mod.Objects[object] = map[string]Func{}
	}
	e.mod.Objects[object][name] = fn
}

// RegisterLoader installs a loader for module, replacing static registrations.
func (t *Table) RegisterLoader(module string, l Loader) {
	t.mu.Lock()
	t.modules[module] = &tableEntry{loader: l}
	t.mu.Unlock()
}

func (t *Table) Unregister(module string) {
	t.mu.Lock()
	delete(t.modules, module)
	t.mu.Unlock()
}

// Modules lists registered module names in sorted order.
func (t *Table) Modules() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.modules))
	for k := range t.modules {
		out = append(out, k)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// caller holds t.mu.
func (t *Table) entry(module string) *tableEntry {
	e := t.modules[module]
	if e == nil || e.loader != nil {
		e = &tableEntry{}
		t.modules[module] = e
	}
	return e
}

// load returns the module, whether it exists, and a loader error if any.
func (t *Table) load(ctx context.Context, module string) (Module, bool, error) {
	t.mu.RLock()
	e := t.modules[module]
	t.mu.RUnlock()
	if e == nil {
		return Module{}, false, nil
	}
	if e.loader == nil {
		return e.mod, true, nil
	}
	m, err := e.loader(ctx)
	if err != nil {
		return Module{}, false, err
	}
	return m, true, nil
}

// Resolve turns ref into a callable handle.
func (t *Table) Resolve(ctx context.Context, ref Ref) (*Handle, error) {
	if ref.IsDirect() {
		h := ref.Handle()
		if h.Fn == nil {
			return nil, &ResolutionError{Kind: FunctionNotFound, Ref: h.Name, Name: h.Name}
		}
		return h, nil
	}

	key := ref.String()
	p, err := ParsePath(key)
	if err != nil {
		return nil, err
	}

	mod, found, loadErr := t.load(ctx, p.Module)
	if found {
		if fn := mod.Funcs[p.Function]; fn != nil {
			return &Handle{Name: key, Fn: fn}, nil
		}
	}

	if op, ok := p.objectForm(); ok {
		omod, ofound, oerr := t.load(ctx, op.Module)
		if ofound {
			if obj, ok := omod.Objects[op.Object]; ok {
				if fn := obj[op.Function]; fn != nil {
					return &Handle{Name: key, Fn: fn}, nil
				}
				found = true
			}
		}
		if loadErr == nil && !found {
			loadErr = oerr
		}
	}

	if found {
		return nil, &ResolutionError{Kind: FunctionNotFound, Ref: key, Name: p.Function}
	}
	return nil, &ResolutionError{Kind: ModuleNotFound, Ref: key, Name: p.Module, Err: loadErr}
}

// Lookup is Resolve for a dotted string.
func (t *Table) Lookup(ctx context.Context, path string) (*Handle, error) {
	return t.Resolve(ctx, Path(strings.TrimSpace(path)))
}
