package gridflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vk/gridflow/internal/ctxlog"
)

// message is one unit of work posted to the engine loop. Exactly one of the
// completion and dispatch fields is populated.
type message struct {
	// completion of an invocation
	id     string
	node   string
	result any
	err    error

	// external event dispatch
	event   string
	payload any
}

// inbox is an unbounded mailbox feeding the engine loop. Unbounded so that
// notification subscribers and invocation goroutines can always post
// without blocking, which keeps the loop deadlock-free.
type inbox struct {
	mu     sync.Mutex
	msgs   []message
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (in *inbox) put(m message) {
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
	select {
	case in.signal <- struct{}{}:
	default:
	}
}

func (in *inbox) drain() []message {
	in.mu.Lock()
	msgs := in.msgs
	in.msgs = nil
	in.mu.Unlock()
	return msgs
}

// engine is the execution coordinator for one run. All state mutation
// happens on the single loop goroutine; invocation goroutines and external
// callers communicate with it exclusively through the inbox.
type engine struct {
	g   *graph
	st  *State
	bus *bus
	in  *inbox

	// pending counts unsettled invocations; firings counts in-progress
	// aggregator firings. Quiescence holds when both are zero and no event
	// is still awaited.
	pending int
	firings int

	aggs []*aggregator

	resumed bool // prior state supplied; re-issue runnings verbatim

	done     chan struct{}
	result   *State
	err      error
	settled  bool
	onSettle func()
}

func newEngine(g *graph, st *State, b *bus, resumed bool, onSettle func()) *engine {
	e := &engine{
		g:        g,
		st:       st,
		bus:      b,
		in:       newInbox(),
		resumed:  resumed,
		done:     make(chan struct{}),
		onSettle: onSettle,
	}
	e.aggs = make([]*aggregator, len(g.cfg.Connections))
	for i, conn := range g.cfg.Connections {
		e.aggs[i] = newAggregator(i, conn, g.fromCounts[i])
	}
	return e
}

// run drives the engine loop until settlement. It must be the only
// goroutine touching e.st.
func (e *engine) run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)

	// Cancellation may fire before the run starts; in that case no
	// callable is ever invoked.
	if ctx.Err() != nil {
		e.settle(nil, &CancellationError{Cause: context.Cause(ctx)})
		return
	}

	if e.resumed {
		e.reissue(ctx)
	} else {
		e.launchRoots(ctx)
	}
	if e.settled {
		return
	}
	e.publishStateChange()
	if e.checkQuiescence(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Run cancelled.", "cause", context.Cause(ctx))
			e.settle(ctx, &CancellationError{Cause: context.Cause(ctx)})
			return
		case <-e.in.signal:
			for _, m := range e.in.drain() {
				// Cancellation wins over messages already drained; nothing
				// schedules after the trigger.
				if ctx.Err() != nil {
					logger.Debug("Run cancelled.", "cause", context.Cause(ctx))
					e.settle(ctx, &CancellationError{Cause: context.Cause(ctx)})
					return
				}
				e.handle(ctx, m)
				if e.settled {
					return
				}
				e.publishStateChange()
				if e.checkQuiescence(ctx) {
					return
				}
			}
		}
	}
}

// launchRoots schedules the initial invocations of a fresh run.
func (e *engine) launchRoots(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, root := range e.g.roots {
		logger.Debug("Launching root node.", "node", root.name)
		if !e.scheduleInvocation(ctx, root.name, root.args) {
			return
		}
	}
}

// reissue re-launches every invocation recorded in the snapshot verbatim,
// skipping inputs transformations (their inputs were finalized when first
// scheduled), then re-checks aggregator readiness for rehydrated buffers.
func (e *engine) reissue(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	for _, inv := range e.st.Runnings {
		logger.Debug("Re-issuing invocation from snapshot.", "node", inv.Node, "id", inv.ID)
		e.pending++
		e.dispatch(ctx, inv)
	}
	for _, agg := range e.aggs {
		for agg.ready(e.st) {
			if !e.fire(ctx, agg) {
				return
			}
		}
	}
}

// scheduleInvocation applies the node's inputs transformation, records the
// invocation, and launches the callable. It reports false when the run
// settled fatally.
func (e *engine) scheduleInvocation(ctx context.Context, node string, args []any) bool {
	logger := ctxlog.FromContext(ctx)

	finalArgs, err := evalInputs(e.g, node, args, e.st.Global)
	if err != nil {
		// Malformed graph logic cannot be resolved locally.
		e.settle(ctx, &ExecutionError{Node: node, Err: err})
		return false
	}

	inv := Invocation{ID: uuid.NewString(), Node: node, Args: finalArgs}
	e.st.Runnings = append(e.st.Runnings, inv)
	e.pending++
	logger.Debug("Scheduling invocation.", "node", node, "id", inv.ID)
	e.dispatch(ctx, inv)
	return true
}

// dispatch launches the callable for an invocation on its own goroutine and
// posts the completion back to the loop. A panicking callable is modeled as
// an error result.
func (e *engine) dispatch(ctx context.Context, inv Invocation) {
	callable := e.g.callables[inv.Node]
	go func() {
		var result any
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("callable panicked: %v", r)
				}
			}()
			result, err = callable(ctx, inv.Args)
		}()
		e.in.put(message{id: inv.ID, node: inv.Node, result: result, err: err})
	}()
}

func (e *engine) handle(ctx context.Context, m message) {
	if m.event != "" {
		e.handleDispatch(ctx, m)
		return
	}
	e.handleCompletion(ctx, m)
}

// handleCompletion settles one invocation: errors are recorded (fatal only
// when the node opted in via Throws), successes run the output
// transformation, join the finals history, and feed every listening
// aggregator.
func (e *engine) handleCompletion(ctx context.Context, m message) {
	logger := ctxlog.FromContext(ctx)

	if !e.removeRunning(m.id) {
		// Settlement of an invocation that is no longer tracked, e.g. one
		// replaced by a snapshot re-issue. Ignored.
		logger.Debug("Ignoring completion for unknown invocation.", "id", m.id)
		return
	}
	e.pending--

	if m.err != nil {
		logger.Debug("Invocation failed.", "node", m.node, "id", m.id, "error", m.err)
		e.st.Errors[m.node] = append(e.st.Errors[m.node], m.err.Error())
		e.bus.publish(Notification{Topic: TopicErrors, Node: m.node, Err: m.err})
		if e.g.cfg.Functions[m.node].Throws {
			e.settle(ctx, &ExecutionError{Node: m.node, Err: m.err})
		}
		// An erroring dependency silently never satisfies downstream
		// connections.
		return
	}

	output, err := evalOutput(e.g, m.node, m.result, e.st.Global)
	if err != nil {
		e.settle(ctx, &ExecutionError{Node: m.node, Err: err})
		return
	}

	logger.Debug("Invocation finished.", "node", m.node, "id", m.id)
	e.st.Finals.Functions[m.node] = append(e.st.Finals.Functions[m.node], output)
	e.bus.publish(Notification{Topic: TopicResults, Node: m.node, Payload: output})
	e.route(ctx, m.node, output)
}

// handleDispatch consumes an externally raised event exactly like a
// successful function completion whose result is the dispatched payload.
func (e *engine) handleDispatch(ctx context.Context, m message) {
	logger := ctxlog.FromContext(ctx)
	name := m.event

	if e.g.cfg.Events[name].Once {
		if e.st.Received[name] {
			e.settle(ctx, &ProtocolError{Reason: fmt.Sprintf("event %q is declared once and was already received", name)})
			return
		}
		e.st.Received[name] = true
	}

	logger.Debug("Event received.", "event", name)
	e.st.Finals.Events[name] = append(e.st.Finals.Events[name], m.payload)
	e.bus.publish(Notification{Topic: TopicResults, Node: name, Payload: m.payload})
	e.route(ctx, name, m.payload)
}

// route feeds one named output to every aggregator listening on that name,
// firing each connection as long as its dependency set is complete.
func (e *engine) route(ctx context.Context, name string, payload any) {
	for _, index := range e.g.listeners[name] {
		agg := e.aggs[index]
		agg.offer(e.st, name, payload)
		for agg.ready(e.st) {
			if !e.fire(ctx, agg) {
				return
			}
		}
	}
}

// fire runs one complete aggregator firing: dequeue the dependency set,
// evaluate the transition, apply variable updates, and schedule the
// resulting invocations or record the connection's final output. It reports
// false when the run settled fatally.
func (e *engine) fire(ctx context.Context, agg *aggregator) bool {
	logger := ctxlog.FromContext(ctx)
	index := agg.index

	e.firings++
	defer func() { e.firings-- }()

	from := agg.take(e.st)
	logger.Debug("Connection firing.", "connection", index)

	res, err := evalTransition(e.g, index, from, e.st.Global, e.st.Locals[index])
	if err != nil {
		e.settle(ctx, err)
		return false
	}

	if res.hasGlobal {
		e.st.Global = res.global
	}
	if res.hasLocal {
		e.st.Locals[index] = res.local
	}

	conn := e.g.cfg.Connections[index]
	if len(conn.To) == 0 {
		e.st.Finals.Connections[index] = append(e.st.Finals.Connections[index], res.raw)
		return true
	}

	for i, target := range conn.To {
		if res.to[i] == nil {
			logger.Debug("Transition skipped target.", "connection", index, "node", target)
			continue
		}
		if !e.scheduleInvocation(ctx, target, res.to[i]) {
			return false
		}
	}
	return true
}

func (e *engine) removeRunning(id string) bool {
	for i, inv := range e.st.Runnings {
		if inv.ID == id {
			e.st.Runnings = append(e.st.Runnings[:i], e.st.Runnings[i+1:]...)
			return true
		}
	}
	return false
}

// checkQuiescence settles the run successfully when no invocation, no
// in-progress firing, and no awaited event remains.
func (e *engine) checkQuiescence(ctx context.Context) bool {
	if e.pending != 0 || e.firings != 0 {
		return false
	}
	for name := range e.g.awaitable {
		if !e.g.cfg.Events[name].Once || !e.st.Received[name] {
			// The engine is still suspended awaiting external dispatch.
			return false
		}
	}
	ctxlog.FromContext(ctx).Debug("Quiescence reached.")
	e.settle(ctx, nil)
	return true
}

// publishStateChange emits a snapshot after a batch of state mutations.
func (e *engine) publishStateChange() {
	e.bus.publish(Notification{Topic: TopicStateChange, State: e.st.Clone()})
}

// settle resolves the run exactly once: the state store freezes into an
// immutable snapshot, the terminal notification fires, and every
// subscription is torn down. Outstanding invocations are not terminated;
// their eventual settlement is ignored.
func (e *engine) settle(ctx context.Context, err error) {
	if e.settled {
		return
	}
	e.settled = true
	e.result = e.st.Clone()
	e.err = err

	if ctx != nil {
		logger := ctxlog.FromContext(ctx)
		if err != nil {
			logger.Debug("Run settled with error.", "error", err)
		} else {
			logger.Debug("Run settled successfully.")
		}
	}

	if err != nil {
		e.bus.publish(Notification{Topic: TopicError, State: e.result, Err: err})
	} else {
		e.bus.publish(Notification{Topic: TopicSuccess, State: e.result})
	}
	e.bus.close()
	if e.onSettle != nil {
		e.onSettle()
	}
	close(e.done)
}
