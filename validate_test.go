package gridflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, args []any) (any, error) { return nil, nil }

func TestCompileGraphValid(t *testing.T) {
	cfg := &Config{
		Functions: map[string]FunctionSpec{
			"a": {},
			"b": {},
		},
		Events: map[string]EventSpec{
			"tick": {Once: true},
		},
		Connections: []Connection{
			{From: []string{"a", "tick"}, Transition: "{ to = [[from[0]]] }", To: []string{"b"}},
		},
	}
	g, err := compileGraph(cfg, map[string]Callable{"a": noop, "b": noop}, false)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, g.listeners["a"])
	assert.Equal(t, []int{0}, g.listeners["tick"])
	assert.Equal(t, map[string]int{"a": 1, "tick": 1}, g.fromCounts[0])
	assert.True(t, g.awaitable["tick"])
	assert.Equal(t, "tick", g.dispatch["tick"])
}

func TestCompileGraphNamespaceClash(t *testing.T) {
	cfg := &Config{
		Functions: map[string]FunctionSpec{"x": {}},
		Events:    map[string]EventSpec{"x": {}},
	}
	_, err := compileGraph(cfg, map[string]Callable{"x": noop}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `declared as both function and event`)
}

func TestCompileGraphMissingCallable(t *testing.T) {
	cfg := &Config{Functions: map[string]FunctionSpec{"a": {Ref: "other"}}}
	_, err := compileGraph(cfg, map[string]Callable{"a": noop}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `no callable registered for ref "other"`)
}

func TestCompileGraphConnectionChecks(t *testing.T) {
	t.Run("undeclared refs", func(t *testing.T) {
		cfg := &Config{
			Functions:   map[string]FunctionSpec{"a": {}},
			Connections: []Connection{{From: []string{"ghost"}, Transition: "{}", To: []string{"phantom"}}},
		}
		_, err := compileGraph(cfg, map[string]Callable{"a": noop}, false)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), `from references undeclared node "ghost"`)
		assert.Contains(t, verr.Error(), `to references undeclared node "phantom"`)
	})

	t.Run("event as target", func(t *testing.T) {
		cfg := &Config{
			Functions:   map[string]FunctionSpec{"a": {}},
			Events:      map[string]EventSpec{"tick": {}},
			Connections: []Connection{{From: []string{"a"}, Transition: "{}", To: []string{"tick"}}},
		}
		_, err := compileGraph(cfg, map[string]Callable{"a": noop}, false)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), `event "tick" cannot be an invocation target`)
	})

	t.Run("empty from", func(t *testing.T) {
		cfg := &Config{
			Functions:   map[string]FunctionSpec{"a": {}},
			Connections: []Connection{{From: nil, Transition: "{}", To: []string{}}},
		}
		_, err := compileGraph(cfg, map[string]Callable{"a": noop}, false)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "from must not be empty")
	})

	t.Run("default transition length mismatch", func(t *testing.T) {
		cfg := &Config{
			Functions:   map[string]FunctionSpec{"a": {}, "b": {}},
			Connections: []Connection{{From: []string{"a"}, To: []string{"b", "b"}}},
		}
		_, err := compileGraph(cfg, map[string]Callable{"a": noop, "b": noop}, false)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "must have equal length")
	})

	t.Run("broken expression syntax", func(t *testing.T) {
		cfg := &Config{
			Functions:   map[string]FunctionSpec{"a": {}},
			Connections: []Connection{{From: []string{"a"}, Transition: "{ to = ", To: []string{}}},
		}
		_, err := compileGraph(cfg, map[string]Callable{"a": noop}, false)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "connection 0 transition")
	})
}

func TestCompileGraphRejectsEmptyNames(t *testing.T) {
	cfg := &Config{
		Functions:   map[string]FunctionSpec{"": {}},
		Events:      map[string]EventSpec{"": {Once: true}},
		Connections: []Connection{{From: []string{""}, Transition: "{}", To: []string{}}},
	}
	_, err := compileGraph(cfg, map[string]Callable{"": noop}, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "function name must not be empty")
	assert.Contains(t, verr.Error(), "event name must not be empty")
}

func TestCompileGraphDispatchCollision(t *testing.T) {
	cfg := &Config{
		Events: map[string]EventSpec{
			"first":  {Ref: "sig"},
			"second": {Ref: "sig"},
		},
	}
	_, err := compileGraph(cfg, nil, false)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), `dispatch signal "sig"`)
}

func TestRootDiscovery(t *testing.T) {
	t.Run("explicit roots win", func(t *testing.T) {
		cfg := &Config{
			Functions: map[string]FunctionSpec{
				"seeded":   {Args: []any{1.0}},
				"untarget": {},
			},
		}
		assert.Equal(t, []string{"seeded"}, RootNodes(cfg))
	})

	t.Run("implicit roots are untargeted functions", func(t *testing.T) {
		cfg := &Config{
			Functions: map[string]FunctionSpec{"a": {}, "b": {}, "c": {}},
			Events:    map[string]EventSpec{"tick": {}},
			Connections: []Connection{
				{From: []string{"a"}, To: []string{"b"}},
				{From: []string{"tick"}, To: []string{"c"}},
			},
		}
		assert.Equal(t, []string{"a"}, RootNodes(cfg))
	})

	t.Run("lonely function is a root", func(t *testing.T) {
		cfg := &Config{Functions: map[string]FunctionSpec{"fn1": {}}}
		assert.Equal(t, []string{"fn1"}, RootNodes(cfg))
	})
}

func TestValidateConfigStructural(t *testing.T) {
	// Structural validation never resolves callables, so the CLI can check
	// a grid without a callable table.
	cfg := &Config{
		Functions:   map[string]FunctionSpec{"a": {}, "b": {}},
		Connections: []Connection{{From: []string{"a"}, To: []string{"b"}}},
	}
	require.NoError(t, ValidateConfig(cfg))
}
