package gridflow

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Orchestrator is a stateless holder of the caller-supplied callables. Only
// one run may be outstanding per instance; starting a second concurrently
// is a protocol error.
type Orchestrator struct {
	callables map[string]Callable
	busy      atomic.Bool
}

// New constructs an Orchestrator over the given callable table.
func New(functions map[string]Callable) *Orchestrator {
	callables := make(map[string]Callable, len(functions))
	for name, fn := range functions {
		callables[name] = fn
	}
	return &Orchestrator{callables: callables}
}

type runOptions struct {
	prior       *State
	subscribers []subscription
}

type subscription struct {
	topic string
	fn    NotificationFunc
}

// RunOption configures one run.
type RunOption func(*runOptions)

// WithPriorState resumes from a previously captured snapshot instead of
// starting empty. The snapshot must match the supplied Config; disagreement
// is a validation error. The engine works on a deep copy, so the caller's
// snapshot is never mutated.
func WithPriorState(s *State) RunOption {
	return func(o *runOptions) { o.prior = s }
}

// WithSubscriber registers a lifecycle subscriber before the first
// notification fires, which a post-Start Subscribe cannot guarantee.
func WithSubscriber(topic string, fn NotificationFunc) RunOption {
	return func(o *runOptions) {
		o.subscribers = append(o.subscribers, subscription{topic: topic, fn: fn})
	}
}

// Run is an active or settled run.
type Run struct {
	engine *engine
}

// Start validates cfg and launches a run. Cancellation of ctx settles the
// run with a CancellationError carrying context.Cause(ctx); outstanding
// invocations are not force-terminated.
func (o *Orchestrator) Start(ctx context.Context, cfg *Config, opts ...RunOption) (*Run, error) {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	if !o.busy.CompareAndSwap(false, true) {
		return nil, &ProtocolError{Reason: "a run is already outstanding on this orchestrator"}
	}

	g, err := compileGraph(cfg, o.callables, false)
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}

	var st *State
	resumed := false
	if options.prior != nil {
		if err := options.prior.validateAgainst(g); err != nil {
			o.busy.Store(false)
			return nil, err
		}
		st = options.prior.Clone()
		normalizeState(st)
		resumed = true
	} else {
		st = newState(cfg)
	}

	b := newBus()
	for _, sub := range options.subscribers {
		b.subscribe(sub.topic, sub.fn)
	}

	e := newEngine(g, st, b, resumed, func() { o.busy.Store(false) })
	go e.run(ctx)
	return &Run{engine: e}, nil
}

// Run starts a run and blocks until it settles. The returned State is the
// settlement snapshot; it is non-nil even when err is non-nil, except for
// validation and protocol errors raised before the run existed.
func (o *Orchestrator) Run(ctx context.Context, cfg *Config, opts ...RunOption) (*State, error) {
	r, err := o.Start(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return r.Wait()
}

// Dispatch raises a named external event carrying payload. The engine
// consumes it identically to a function's successful output. Dispatching an
// unknown signal or dispatching after settlement is an error to the caller;
// a repeated once-event is fatal to the run itself.
func (r *Run) Dispatch(name string, payload any) error {
	event, ok := r.engine.g.dispatch[name]
	if !ok {
		return &ProtocolError{Reason: fmt.Sprintf("no event declared for dispatch signal %q", name)}
	}
	select {
	case <-r.engine.done:
		return &ProtocolError{Reason: "run already settled"}
	default:
	}
	r.engine.in.put(message{event: event, payload: payload})
	return nil
}

// Subscribe registers fn for a lifecycle topic and returns its cancel
// function. Topics follow the notification surface: state.change, results,
// results.<node>, errors, errors.<node>, success, error.
func (r *Run) Subscribe(topic string, fn NotificationFunc) func() {
	return r.engine.bus.subscribe(topic, fn)
}

// Wait blocks until the run settles and returns the settlement snapshot and
// the run error, if any.
func (r *Run) Wait() (*State, error) {
	<-r.engine.done
	return r.engine.result, r.engine.err
}

// Done returns a channel closed at settlement.
func (r *Run) Done() <-chan struct{} {
	return r.engine.done
}

// normalizeState replaces nil inner containers with empty ones so the
// engine can mutate a snapshot that round-tripped through JSON.
func normalizeState(s *State) {
	if s.Global == nil {
		s.Global = make(map[string]any)
	}
	for i, local := range s.Locals {
		if local == nil {
			s.Locals[i] = make(map[string]any)
		}
	}
	for i, waiting := range s.Waitings {
		if waiting == nil {
			s.Waitings[i] = make(map[string][]any)
		}
	}
	if s.Finals.Functions == nil {
		s.Finals.Functions = make(map[string][]any)
	}
	if s.Finals.Events == nil {
		s.Finals.Events = make(map[string][]any)
	}
	if s.Finals.Connections == nil {
		s.Finals.Connections = make([][]any, len(s.Waitings))
	}
	if s.Errors == nil {
		s.Errors = make(map[string][]string)
	}
	if s.Received == nil {
		s.Received = make(map[string]bool)
	}
}
