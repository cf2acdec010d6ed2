package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Args carries call arguments through the dispatcher to a task function.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// String renders a short summary of the arguments for the job ledger.
func (a Args) String() string {
	if len(a.Positional) == 0 && len(a.Keyword) == 0 {
		return ""
	}
	parts := make([]string, 0, len(a.Positional)+len(a.Keyword))
	for _, v := range a.Positional {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	keys := make([]string, 0, len(a.Keyword))
	for k := range a.Keyword {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Keyword[k]))
	}
	s := "(" + strings.Join(parts, ", ") + ")"
	if len(s) > 256 {
		s = s[:253] + "..."
	}
	return s
}

// Func is the signature every task function implements.
type Func func(ctx context.Context, args Args) error

// Handle is an in-memory task. Two handles are the same task only if they are
// the same pointer.
type Handle struct {
	Name string
	Fn   Func
}

func NewHandle(name string, fn Func) *Handle {
	return &Handle{Name: name, Fn: fn}
}

// Ref names a unit of work: either a direct handle or a dotted path string.
type Ref struct {
	handle *Handle
	path   string
}

func Direct(h *Handle) Ref { return Ref{handle: h} }

func Path(s string) Ref { return Ref{path: s} }

func (r Ref) IsDirect() bool  { return r.handle != nil }
func (r Ref) Handle() *Handle { return r.handle }
func (r Ref) IsZero() bool    { return r.handle == nil && r.path == "" }

// String is the canonical key of the reference, used for schedules and the
// job ledger.
func (r Ref) String() string {
	if r.handle != nil {
		return r.handle.Name
	}
	return r.path
}

// Equal reports whether two refs name the same task. Handles compare by
// identity, paths by their string.
func (r Ref) Equal(o Ref) bool {
	if r.handle != nil || o.handle != nil {
		return r.handle == o.handle
	}
	return r.path == o.path
}

// PathRef is a parsed path reference. Object is empty unless the reference
// addresses a function on a named object inside the module.
type PathRef struct {
	Module   string
	Object   string
	Function string
}

func (p PathRef) String() string {
	if p.Object == "" {
		return p.Module + "." + p.Function
	}
	return p.Module + "." + p.Object + "." + p.Function
}

// ParsePath splits a dotted reference. The module is every segment but the
// last. At least two non-empty segments are required.
func ParsePath(s string) (PathRef, error) {
	segs := strings.Split(s, ".")
	if len(segs) < 2 {
		return PathRef{}, malformed(s)
	}
	for _, seg := range segs {
		if strings.TrimSpace(seg) == "" {
			return PathRef{}, malformed(s)
		}
	}
	return PathRef{
		Module:   strings.Join(segs[:len(segs)-1], "."),
		Function: segs[len(segs)-1],
	}, nil
}

// objectForm reinterprets a parsed path as module.object.function. It only
// exists for references with at least three segments.
func (p PathRef) objectForm() (PathRef, bool) {
	i := strings.LastIndexByte(p.Module, '.')
	if i < 0 || p.Object != "" {
		return PathRef{}, false
	}
	return PathRef{Module: p.Module[:i], Object: p.Module[i+1:], Function: p.Function}, true
}
