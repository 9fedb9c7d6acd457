package gridflow

import "sync"

// Lifecycle notification topics. Node-scoped results and errors are also
// published under "results.<node>" and "errors.<node>".
const (
	TopicStateChange = "state.change"
	TopicResults     = "results"
	TopicErrors      = "errors"
	TopicSuccess     = "success"
	TopicError       = "error"
)

// Notification is one lifecycle event delivered to subscribers.
type Notification struct {
	// Topic is the base topic the notification was published under.
	Topic string

	// Node is set for results and errors notifications.
	Node string

	// State is a deep-copy snapshot for state.change, success and error
	// notifications. Callers may retain it; it never aliases live state.
	State *State

	// Payload carries the node output for results notifications.
	Payload any

	// Err carries the node error for errors notifications and the run
	// error for error notifications.
	Err error
}

// NotificationFunc receives lifecycle notifications. Delivery happens
// synchronously on the engine loop, so implementations must not block; they
// may call Dispatch, which only enqueues.
type NotificationFunc func(Notification)

// bus is the per-run pub/sub surface for lifecycle notifications. It is
// owned by one run and torn down deterministically at settlement.
type bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]NotificationFunc
	closed bool
}

func newBus() *bus {
	return &bus{subs: make(map[string]map[int]NotificationFunc)}
}

// subscribe registers fn for a topic and returns its cancel function.
// Subscribing after settlement is a no-op.
func (b *bus) subscribe(topic string, fn NotificationFunc) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]NotificationFunc)
	}
	b.subs[topic][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			delete(subs, id)
		}
	}
}

// publish delivers n to subscribers of its topic, and for node-scoped
// notifications also to "<topic>.<node>" subscribers.
func (b *bus) publish(n Notification) {
	for _, fn := range b.snapshot(n.Topic) {
		fn(n)
	}
	if n.Node != "" {
		for _, fn := range b.snapshot(n.Topic + "." + n.Node) {
			fn(n)
		}
	}
}

func (b *bus) snapshot(topic string) []NotificationFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	subs := b.subs[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]NotificationFunc, 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

// close tears down every subscription.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]NotificationFunc)
}
