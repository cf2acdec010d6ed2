package task

import (
	"context"
	"errors"
	"fmt"

	"arius/internal/eventbus"
	"arius/internal/task/engine"
	logx "arius/pkg/logx"
)

type Mode int

const (
	Inline Mode = iota
	Background
)

func (m Mode) String() string {
	if m == Background {
		return "background"
	}
	return "inline"
}

// Resolver turns a reference into a callable.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (*Handle, error)
}

// Pool is the background worker pool.
type Pool interface {
	Enqueue(t engine.Task) error
	Running() bool
}

// BackgroundGate reports whether background execution is currently allowed.
// It returns false while testing or maintenance mode is on.
type BackgroundGate func() bool

// NotStarted is published on the bus when a reference cannot be resolved.
type NotStarted struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

type Dispatcher struct {
	resolver Resolver
	pool     Pool
	log      logx.Logger
	bus      eventbus.Bus
	gate     BackgroundGate
	opt      engine.TaskOptions
}

type Option func(*Dispatcher)

func WithPool(p Pool) Option                     { return func(d *Dispatcher) { d.pool = p } }
func WithLogger(l logx.Logger) Option            { return func(d *Dispatcher) { d.log = l } }
func WithBus(b eventbus.Bus) Option              { return func(d *Dispatcher) { d.bus = b } }
func WithBackgroundGate(g BackgroundGate) Option { return func(d *Dispatcher) { d.gate = g } }

// WithTaskOptions sets retry and overlap options for background jobs.
func WithTaskOptions(o engine.TaskOptions) Option { return func(d *Dispatcher) { d.opt = o } }

// WithOptions returns a copy of d whose background jobs use o.
func (d *Dispatcher) WithOptions(o engine.TaskOptions) *Dispatcher {
	cp := *d
	cp.opt = o
	return &cp
}

func NewDispatcher(r Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{resolver: r}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// Dispatch resolves ref and runs it.
//
// Resolution failures never reach the caller: they are logged as a
// "not started" warning and Dispatch returns nil. In Inline mode, or when the
// background pool can't take work, the task runs on the calling goroutine and
// its error is returned. In Background mode the task's outcome is only visible
// in the job ledger.
func (d *Dispatcher) Dispatch(ctx context.Context, ref Ref, mode Mode, args Args) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key := ref.String()
	h, err := d.resolver.Resolve(ctx, ref)
	if err != nil {
		d.warnNotStarted(key, err)
		return nil
	}

	if mode == Background && d.backgroundAvailable() {
		err := d.pool.Enqueue(engine.Task{
			Name: key,
			Func: key,
			Args: args.String(),
			Opt:  d.opt,
			Run:  func(c context.Context) error { return h.Fn(c, args) },
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, engine.ErrOverlapSkip):
			d.log.Debug("task already running, skipped", logx.String("ref", key))
			return nil
		case engine.Unavailable(err):
			d.log.Debug("background pool unavailable, running inline", logx.String("ref", key), logx.Err(err))
		default:
			return fmt.Errorf("dispatch %s: %w", key, err)
		}
	}

	return h.Fn(ctx, args)
}

// Offload dispatches in Background mode.
func (d *Dispatcher) Offload(ctx context.Context, ref Ref, args Args) error {
	return d.Dispatch(ctx, ref, Background, args)
}

// Run dispatches in Inline mode.
func (d *Dispatcher) Run(ctx context.Context, ref Ref, args Args) error {
	return d.Dispatch(ctx, ref, Inline, args)
}

func (d *Dispatcher) backgroundAvailable() bool {
	if d.gate != nil && !d.gate() {
		return false
	}
	return d.pool != nil && d.pool.Running()
}

func (d *Dispatcher) warnNotStarted(key string, err error) {
	reason := err.Error()
	fields := []logx.Field{logx.String("ref", key)}
	var re *ResolutionError
	if errors.As(err, &re) {
		fields = append(fields, logx.String("kind", string(re.Kind)))
		if re.Err != nil {
			fields = append(fields, logx.Err(re.Err))
		}
	}
	d.log.Warn(fmt.Sprintf("WARNING: '%s' not started - %s", key, reason), fields...)
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: "task.not_started", Data: NotStarted{Ref: key, Reason: reason}})
	}
}
