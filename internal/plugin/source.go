package plugin

import "context"

// Source enumerates plugin factories. How a source finds them is its own
// business; the registry only sees the result.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Factory, error)
}

type staticSource struct {
	name      string
	factories []Factory
}

// Static returns a source that always yields the given factories.
func Static(name string, factories ...Factory) Source {
	return &staticSource{name: name, factories: factories}
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Discover(context.Context) ([]Factory, error) {
	out := make([]Factory, len(s.factories))
	copy(out, s.factories)
	return out, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	ID string
	Fn func(ctx context.Context) ([]Factory, error)
}

func (s SourceFunc) Name() string { return s.ID }

func (s SourceFunc) Discover(ctx context.Context) ([]Factory, error) { return s.Fn(ctx) }

// Gated returns src when enabled reports true at discovery time, and nothing
// otherwise.
func Gated(src Source, enabled func() bool) Source {
	return SourceFunc{ID: src.Name(), Fn: func(ctx context.Context) ([]Factory, error) {
		if enabled != nil && !enabled() {
			return nil, nil
		}
		return src.Discover(ctx)
	}}
}
