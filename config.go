package gridflow

import "context"

// Callable is a caller-supplied task implementation. Arguments and the
// result must be JSON-like values (nil, bool, float64, string, []any,
// map[string]any) for the run state to remain serializable; opaque values
// survive expression evaluation but not a snapshot.
type Callable func(ctx context.Context, args []any) (any, error)

// FunctionSpec declares a Function node of the graph.
type FunctionSpec struct {
	// Ref names the callable backing this node. Empty means the declared
	// node name itself.
	Ref string `json:"ref,omitempty"`

	// Args, when non-nil, marks this function as an explicit root invoked
	// with exactly these arguments at run start.
	Args []any `json:"args,omitempty"`

	// Throws makes a failure of this node fatal to the whole run. When
	// false, a failure is recorded and the node simply never satisfies
	// downstream connections.
	Throws bool `json:"throws,omitempty"`

	// Inputs is an optional HCL expression applied to the argument list
	// before every invocation. It sees `args` and `global` and must yield
	// an argument list. A failure here is always fatal.
	Inputs string `json:"inputs,omitempty"`

	// Output is an optional HCL expression applied to a successful result
	// before it is recorded. It sees `result` and `global`. A failure here
	// is always fatal.
	Output string `json:"output,omitempty"`
}

// EventSpec declares an Event node. Events are never invoked by the engine;
// they are raised externally via Run.Dispatch.
type EventSpec struct {
	// Ref names the external dispatch signal this node consumes. Empty
	// means the declared node name itself. Each dispatch name must resolve
	// to exactly one event.
	Ref string `json:"ref,omitempty"`

	// Once permits exactly one occurrence for the run's entire lifetime,
	// including across resumes. A second occurrence is a fatal protocol
	// violation.
	Once bool `json:"once,omitempty"`
}

// Connection declares one edge set of the graph: the dependencies whose
// outputs it aggregates, an optional transition expression, and the targets
// it invokes.
type Connection struct {
	// From is the non-empty ordered dependency list. A repeated name
	// requires that many distinct satisfying arrivals.
	From []string `json:"from"`

	// Transition is an HCL expression evaluated when the dependency set is
	// complete. It sees `from`, `global` and `local`. Empty synthesizes the
	// identity passthrough, which requires From and To of equal length.
	Transition string `json:"transition,omitempty"`

	// To is the ordered target list. It may be empty, in which case the
	// transition output is recorded as this connection's final output.
	To []string `json:"to"`
}

// Config is the declarative graph model for one run.
type Config struct {
	Functions   map[string]FunctionSpec `json:"functions,omitempty"`
	Events      map[string]EventSpec    `json:"events,omitempty"`
	Connections []Connection            `json:"connections,omitempty"`
}

// RootNodes returns the function names launched at the start of a fresh
// run: the explicit roots (functions declaring Args) or, if none exist,
// every declared function that never appears as a connection target. Event
// nodes are never roots. The result is sorted.
func RootNodes(cfg *Config) []string {
	return rootNodes(cfg)
}
