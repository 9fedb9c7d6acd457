package gridflow

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// graph is the compiled, validated form of a Config. It is immutable for
// the duration of a run and shared read-only across goroutines.
type graph struct {
	cfg       *Config
	callables map[string]Callable // declared function name -> callable
	dispatch  map[string]string   // dispatch signal name -> declared event name

	roots []rootSpec // launch set for a fresh run, sorted by name

	transitions []hcl.Expression          // per connection; nil means identity passthrough
	inputs      map[string]hcl.Expression // per function, parsed Inputs expression
	outputs     map[string]hcl.Expression // per function, parsed Output expression

	listeners  map[string][]int // node name -> indexes of connections depending on it
	fromCounts []map[string]int // per connection: occurrence count per dependency name
	awaitable  map[string]bool  // event names referenced in at least one `from`
}

type rootSpec struct {
	name string
	args []any
}

// ValidateConfig checks the structural shape of a Config without resolving
// callables: declared names, namespace disjointness, connection references,
// and expression syntax. The full check including callable resolution runs
// when a run starts.
func ValidateConfig(cfg *Config) error {
	_, err := compileGraph(cfg, nil, true)
	return err
}

// compileGraph validates cfg and produces the immutable compiled graph.
// Validation is synchronous and complete before any asynchronous work
// starts; every finding is collected into a single ValidationError.
func compileGraph(cfg *Config, callables map[string]Callable, structural bool) (*graph, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	g := &graph{
		cfg:       cfg,
		callables: make(map[string]Callable),
		dispatch:  make(map[string]string),
		inputs:    make(map[string]hcl.Expression),
		outputs:   make(map[string]hcl.Expression),
		listeners: make(map[string][]int),
		awaitable: make(map[string]bool),
	}

	parse := func(src, what string) hcl.Expression {
		expr, diags := hclsyntax.ParseExpression([]byte(src), what, hcl.InitialPos)
		if diags.HasErrors() {
			fail("%s: %s", what, diags.Error())
			return nil
		}
		return expr
	}

	// Functions and events share one namespace; a name cannot denote both.
	for name := range cfg.Functions {
		if _, clash := cfg.Events[name]; clash {
			fail("name %q declared as both function and event", name)
		}
	}

	for name, spec := range cfg.Functions {
		// The engine's inbox discriminates messages by event name, so the
		// empty string can never denote a node.
		if name == "" {
			fail("function name must not be empty")
			continue
		}
		ref := spec.Ref
		if ref == "" {
			ref = name
		}
		if structural {
			g.callables[name] = nil
		} else {
			callable, ok := callables[ref]
			if !ok {
				fail("function %q: no callable registered for ref %q", name, ref)
				continue
			}
			g.callables[name] = callable
		}
		if spec.Inputs != "" {
			if expr := parse(spec.Inputs, fmt.Sprintf("function %q inputs transformation", name)); expr != nil {
				g.inputs[name] = expr
			}
		}
		if spec.Output != "" {
			if expr := parse(spec.Output, fmt.Sprintf("function %q output transformation", name)); expr != nil {
				g.outputs[name] = expr
			}
		}
	}

	for name, spec := range cfg.Events {
		if name == "" {
			fail("event name must not be empty")
			continue
		}
		ref := spec.Ref
		if ref == "" {
			ref = name
		}
		if prev, dup := g.dispatch[ref]; dup {
			fail("dispatch signal %q resolves to both event %q and event %q", ref, prev, name)
			continue
		}
		g.dispatch[ref] = name
	}

	declared := func(name string) bool {
		_, isFn := cfg.Functions[name]
		_, isEv := cfg.Events[name]
		return isFn || isEv
	}

	g.transitions = make([]hcl.Expression, len(cfg.Connections))
	g.fromCounts = make([]map[string]int, len(cfg.Connections))

	for i, conn := range cfg.Connections {
		if len(conn.From) == 0 {
			fail("connection %d: from must not be empty", i)
		}
		counts := make(map[string]int, len(conn.From))
		for _, name := range conn.From {
			if !declared(name) {
				fail("connection %d: from references undeclared node %q", i, name)
				continue
			}
			if counts[name] == 0 {
				g.listeners[name] = append(g.listeners[name], i)
			}
			counts[name]++
			if _, isEv := cfg.Events[name]; isEv {
				g.awaitable[name] = true
			}
		}
		g.fromCounts[i] = counts

		for _, name := range conn.To {
			if _, isEv := cfg.Events[name]; isEv {
				fail("connection %d: event %q cannot be an invocation target", i, name)
				continue
			}
			if _, isFn := cfg.Functions[name]; !isFn {
				fail("connection %d: to references undeclared node %q", i, name)
			}
		}

		if conn.Transition == "" {
			// Identity passthrough pairs from[i] with to[i].
			if len(conn.From) != len(conn.To) {
				fail("connection %d: no transition given, so from (%d) and to (%d) must have equal length", i, len(conn.From), len(conn.To))
			}
		} else {
			g.transitions[i] = parse(conn.Transition, fmt.Sprintf("connection %d transition", i))
		}
	}

	for _, root := range rootNodes(cfg) {
		spec := cfg.Functions[root]
		args := spec.Args
		if args == nil {
			args = []any{}
		}
		g.roots = append(g.roots, rootSpec{name: root, args: args})
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ValidationError{Problems: problems}
	}
	return g, nil
}

// rootNodes implements root discovery. Explicit roots (functions declaring
// Args) win; otherwise every function that never appears as a connection
// target is an implicit root invoked with zero arguments. Events are never
// rooted.
func rootNodes(cfg *Config) []string {
	var explicit []string
	for name, spec := range cfg.Functions {
		if spec.Args != nil {
			explicit = append(explicit, name)
		}
	}
	if len(explicit) > 0 {
		sort.Strings(explicit)
		return explicit
	}

	targeted := make(map[string]bool)
	for _, conn := range cfg.Connections {
		for _, name := range conn.To {
			targeted[name] = true
		}
	}
	var implicit []string
	for name := range cfg.Functions {
		if !targeted[name] {
			implicit = append(implicit, name)
		}
	}
	sort.Strings(implicit)
	return implicit
}
