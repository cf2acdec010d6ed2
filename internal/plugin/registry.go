package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arius/internal/eventbus"
	logx "arius/pkg/logx"
)

// Descriptor is the registry's view of one plugin. It is immutable once
// published in a snapshot.
type Descriptor struct {
	Slug     string
	Name     string
	Title    string
	Source   string
	Declared []Tag
	Granted  []Tag
	Errors   []string
	Disabled bool

	plugin Plugin
}

func (d *Descriptor) Plugin() Plugin { return d.plugin }

// Has reports whether tag was granted.
func (d *Descriptor) Has(tag Tag) bool { return slices.Contains(d.Granted, tag) }

// pluginEvent is published on the bus for registry and fanout activity.
type pluginEvent struct {
	Plugin string `json:"plugin,omitempty"`
	Event  string `json:"event,omitempty"`
	Count  int    `json:"count,omitempty"`
	Errors int    `json:"errors,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type snapshot struct {
	order  []*Descriptor
	bySlug map[string]*Descriptor
	byTag  map[Tag][]*Descriptor
	failed []*Descriptor
	errors []*ValidationError
}

// Registry discovers, validates and indexes plugins. Readers always see a
// complete snapshot; Reload builds a new one and swaps it in.
type Registry struct {
	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]

	mu       sync.Mutex
	sources  []Source
	strict   bool
	disabled map[string]bool

	log logx.Logger
	bus eventbus.Bus
}

type Option func(*Registry)

func WithSources(src ...Source) Option { return func(r *Registry) { r.sources = append(r.sources, src...) } }

// WithStrict makes a failing discovery source abort Reload.
func WithStrict(strict bool) Option { return func(r *Registry) { r.strict = strict } }

// WithDisabled indexes the given slugs without granting them capabilities.
func WithDisabled(slugs ...string) Option {
	return func(r *Registry) { r.disabled = slugSet(slugs) }
}

func WithRegistryLogger(l logx.Logger) Option { return func(r *Registry) { r.log = l } }
func WithRegistryBus(b eventbus.Bus) Option   { return func(r *Registry) { r.bus = b } }

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{disabled: map[string]bool{}}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.snap.Store(&snapshot{bySlug: map[string]*Descriptor{}, byTag: map[Tag][]*Descriptor{}})
	return r
}

// Configure replaces sources and policy. It takes effect on the next Reload.
func (r *Registry) Configure(strict bool, disabled []string, sources ...Source) {
	r.mu.Lock()
	r.strict = strict
	r.disabled = slugSet(disabled)
	r.sources = append([]Source(nil), sources...)
	r.mu.Unlock()
}

func slugSet(slugs []string) map[string]bool {
	m := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		if s = Slugify(s); s != "" {
			m[s] = true
		}
	}
	return m
}

// Reload discovers every plugin again and publishes a new snapshot.
func (r *Registry) Reload(ctx context.Context) (map[string]*Descriptor, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	start := time.Now()

	r.mu.Lock()
	sources := append([]Source(nil), r.sources...)
	strict := r.strict
	disabled := r.disabled
	r.mu.Unlock()

	next := &snapshot{bySlug: map[string]*Descriptor{}, byTag: map[Tag][]*Descriptor{}}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return r.current().copyIndex(), err
		}
		factories, err := discover(ctx, src)
		if err != nil {
			ve := &ValidationError{Kind: SourceFailure, Source: src.Name(), Err: err}
			if strict {
				r.log.Error("plugin discovery failed; keeping previous registry", logx.String("source", src.Name()), logx.Err(err))
				return r.current().copyIndex(), ve
			}
			r.log.Warn("plugin source failed", logx.String("source", src.Name()), logx.Err(err))
			next.errors = append(next.errors, ve)
		}
		for _, f := range factories {
			r.add(next, src.Name(), f, disabled)
		}
	}

	r.snap.Store(next)
	r.log.Info("plugin registry reloaded",
		logx.Int("plugins", len(next.order)),
		logx.Int("errors", len(next.errors)),
		logx.Duration("took", time.Since(start)),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "plugin.registry.reloaded", Data: pluginEvent{
			Count:  len(next.order),
			Errors: len(next.errors),
			TookMS: time.Since(start).Milliseconds(),
		}})
	}
	return next.copyIndex(), nil
}

func discover(ctx context.Context, src Source) (fs []Factory, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return src.Discover(ctx)
}

func instantiate(f Factory) (p Plugin, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if f.New == nil {
		return nil, errors.New("factory has no constructor")
	}
	p, err = f.New()
	if err == nil && p == nil {
		err = errors.New("constructor returned nil")
	}
	return p, err
}

func readMeta(p Plugin) (m Meta, mixins []Tag, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Meta(), p.Mixins(), nil
}

// add validates one factory's plugin into next.
func (r *Registry) add(next *snapshot, source string, f Factory, disabled map[string]bool) {
	fail := func(kind ErrorKind, name string, err error) {
		ve := &ValidationError{Kind: kind, Plugin: name, Source: source, Err: err}
		next.errors = append(next.errors, ve)
		next.failed = append(next.failed, &Descriptor{Slug: Slugify(name), Name: name, Source: source, Errors: []string{ve.Error()}})
		r.log.Warn("plugin rejected", logx.String("plugin", name), logx.String("source", source), logx.Err(ve))
	}

	p, err := instantiate(f)
	if err != nil {
		fail(InstantiationFailure, f.Name, err)
		return
	}
	meta, mixins, err := readMeta(p)
	if err != nil {
		fail(InstantiationFailure, f.Name, err)
		return
	}

	slug := SlugOf(meta)
	if slug == "" {
		ve := &ValidationError{Kind: Identity, Plugin: f.Name, Source: source}
		next.errors = append(next.errors, ve)
		r.log.Warn("plugin rejected", logx.String("plugin", f.Name), logx.String("source", source), logx.Err(ve))
		return
	}
	if _, dup := next.bySlug[slug]; dup {
		ve := &ValidationError{Kind: DuplicateSlug, Plugin: slug, Source: source}
		next.errors = append(next.errors, ve)
		r.log.Warn("plugin rejected", logx.String("plugin", slug), logx.String("source", source), logx.Err(ve))
		return
	}

	name := strings.TrimSpace(meta.Name)
	if name == "" {
		name = slug
	}
	d := &Descriptor{
		Slug:     slug,
		Name:     name,
		Title:    meta.Title,
		Source:   source,
		Declared: dedupTags(mixins),
		Disabled: disabled[slug],
		plugin:   p,
	}
	if d.Title == "" {
		d.Title = name
	}

	if !d.Disabled {
		granted, errs := Validate(p)
		d.Granted = granted
		for _, ve := range errs {
			ve.Source = source
			d.Errors = append(d.Errors, ve.Error())
			next.errors = append(next.errors, ve)
			r.log.Warn("plugin capability rejected", logx.String("plugin", slug), logx.String("mixin", string(ve.Tag)), logx.Err(ve))
		}
		for _, tag := range granted {
			next.byTag[tag] = append(next.byTag[tag], d)
		}
	}

	next.bySlug[slug] = d
	next.order = append(next.order, d)
}

func dedupTags(tags []Tag) []Tag {
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Registry) current() *snapshot { return r.snap.Load() }

func (s *snapshot) copyIndex() map[string]*Descriptor {
	out := make(map[string]*Descriptor, len(s.bySlug))
	for k, v := range s.bySlug {
		out[k] = v
	}
	return out
}

// Get returns the plugin registered under slug.
func (r *Registry) Get(slug string) (*Descriptor, bool) {
	d, ok := r.current().bySlug[Slugify(slug)]
	return d, ok
}

// Plugins returns every indexed plugin in registration order.
func (r *Registry) Plugins() []*Descriptor {
	return slices.Clone(r.current().order)
}

// WithCapability returns plugins granted tag, in registration order.
func (r *Registry) WithCapability(tag Tag) []*Descriptor {
	return slices.Clone(r.current().byTag[tag])
}

// Failed returns synthetic descriptors for plugins that could not be built.
func (r *Registry) Failed() []*Descriptor {
	return slices.Clone(r.current().failed)
}

// Errors returns every validation error from the last successful Reload.
func (r *Registry) Errors() []*ValidationError {
	return slices.Clone(r.current().errors)
}
