package gridflow

import (
	"fmt"
	"sort"
)

// Invocation is one in-flight function call. Invocations are identified by
// id rather than node name, since loops may invoke the same node many
// times. Entries survive in a snapshot so a resumed run can re-issue them
// verbatim.
type Invocation struct {
	ID   string `json:"id"`
	Node string `json:"node"`
	Args []any  `json:"args"`
}

// Finals holds the append-only output history of the run. Successful
// outputs accumulate per node because loops re-invoke the same node.
type Finals struct {
	Functions   map[string][]any `json:"functions"`
	Events      map[string][]any `json:"events"`
	Connections [][]any          `json:"connections"`
}

// State is the single mutable record of a run: variables, output history,
// errors, aggregator buffers, in-flight invocations, and once-event
// receipts. It is fully JSON-serializable and may be supplied up front to
// resume a paused run. During a run it is owned exclusively by the engine
// loop; any State handed out through notifications or returned at
// settlement is a deep copy.
type State struct {
	// Global is a single object shared by all transitions, last-writer-wins.
	Global map[string]any `json:"global"`

	// Locals holds one scratch object per connection, persisted across
	// repeated firings of that connection. Its length always equals the
	// connection count.
	Locals []map[string]any `json:"locals"`

	Finals Finals `json:"finals"`

	// Errors records failures per node as an append-only message history.
	Errors map[string][]string `json:"errors"`

	// Waitings holds each connection's aggregator buffer: a FIFO queue of
	// arrived-but-unconsumed payloads per dependency name.
	Waitings []map[string][]any `json:"waitings"`

	// Runnings lists unsettled invocations.
	Runnings []Invocation `json:"runnings"`

	// Received marks once-events that have already been consumed.
	Received map[string]bool `json:"received"`
}

// newState returns an empty State shaped for cfg.
func newState(cfg *Config) *State {
	n := 0
	if cfg != nil {
		n = len(cfg.Connections)
	}
	s := &State{
		Global: make(map[string]any),
		Locals: make([]map[string]any, n),
		Finals: Finals{
			Functions:   make(map[string][]any),
			Events:      make(map[string][]any),
			Connections: make([][]any, n),
		},
		Errors:   make(map[string][]string),
		Waitings: make([]map[string][]any, n),
		Received: make(map[string]bool),
	}
	for i := 0; i < n; i++ {
		s.Locals[i] = make(map[string]any)
		s.Waitings[i] = make(map[string][]any)
	}
	return s
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		Global: cloneMap(s.Global),
		Locals: make([]map[string]any, len(s.Locals)),
		Finals: Finals{
			Functions:   cloneHistory(s.Finals.Functions),
			Events:      cloneHistory(s.Finals.Events),
			Connections: make([][]any, len(s.Finals.Connections)),
		},
		Errors:   make(map[string][]string, len(s.Errors)),
		Waitings: make([]map[string][]any, len(s.Waitings)),
		Runnings: make([]Invocation, len(s.Runnings)),
		Received: make(map[string]bool, len(s.Received)),
	}
	for i, local := range s.Locals {
		out.Locals[i] = cloneMap(local)
	}
	for i, finals := range s.Finals.Connections {
		out.Finals.Connections[i] = cloneSlice(finals)
	}
	for name, msgs := range s.Errors {
		out.Errors[name] = append([]string(nil), msgs...)
	}
	for i, waiting := range s.Waitings {
		out.Waitings[i] = cloneHistory(waiting)
	}
	for i, inv := range s.Runnings {
		out.Runnings[i] = Invocation{ID: inv.ID, Node: inv.Node, Args: cloneSlice(inv.Args)}
	}
	for name, seen := range s.Received {
		out.Received[name] = seen
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		return cloneSlice(t)
	case map[string]any:
		return cloneMap(t)
	default:
		return v
	}
}

func cloneSlice(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneHistory(in map[string][]any) map[string][]any {
	out := make(map[string][]any, len(in))
	for k, vs := range in {
		out[k] = cloneSlice(vs)
	}
	return out
}

// validateAgainst checks a caller-supplied snapshot for compatibility with
// the compiled graph. Disagreement is a validation error, never a silent
// correction.
func (s *State) validateAgainst(g *graph) error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	n := len(g.cfg.Connections)
	if len(s.Locals) != n {
		fail("prior state: locals length %d does not match connection count %d", len(s.Locals), n)
	}
	if len(s.Waitings) != n {
		fail("prior state: waitings length %d does not match connection count %d", len(s.Waitings), n)
	}
	if len(s.Finals.Connections) != n {
		fail("prior state: connection finals length %d does not match connection count %d", len(s.Finals.Connections), n)
	}

	declaredFn := func(name string) bool { _, ok := g.cfg.Functions[name]; return ok }
	declaredEv := func(name string) bool { _, ok := g.cfg.Events[name]; return ok }

	for name := range s.Finals.Functions {
		if !declaredFn(name) {
			fail("prior state: finals reference undeclared function %q", name)
		}
	}
	for name := range s.Finals.Events {
		if !declaredEv(name) {
			fail("prior state: finals reference undeclared event %q", name)
		}
	}
	for name := range s.Errors {
		if !declaredFn(name) && !declaredEv(name) {
			fail("prior state: errors reference undeclared node %q", name)
		}
	}

	for i, waiting := range s.Waitings {
		if i >= n {
			break
		}
		counts := g.fromCounts[i]
		for name := range waiting {
			if counts[name] == 0 {
				fail("prior state: connection %d buffer holds payloads for %q, which is not in its from set", i, name)
			}
		}
	}

	ids := make(map[string]bool, len(s.Runnings))
	for _, inv := range s.Runnings {
		if inv.ID == "" {
			fail("prior state: invocation of %q has no id", inv.Node)
		} else if ids[inv.ID] {
			fail("prior state: duplicate invocation id %q", inv.ID)
		}
		ids[inv.ID] = true
		if !declaredFn(inv.Node) {
			fail("prior state: running invocation references undeclared function %q", inv.Node)
		}
	}

	for name := range s.Received {
		spec, ok := g.cfg.Events[name]
		if !ok {
			fail("prior state: receipt recorded for undeclared event %q", name)
		} else if !spec.Once {
			fail("prior state: receipt recorded for event %q, but config does not declare it once", name)
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}
