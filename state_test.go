package gridflow

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateShape(t *testing.T) {
	cfg := &Config{
		Functions: map[string]FunctionSpec{"a": {}},
		Connections: []Connection{
			{From: []string{"a"}, Transition: "{}", To: []string{}},
			{From: []string{"a"}, Transition: "{}", To: []string{}},
		},
	}
	st := newState(cfg)

	assert.Len(t, st.Locals, 2)
	assert.Len(t, st.Waitings, 2)
	assert.Len(t, st.Finals.Connections, 2)
	assert.NotNil(t, st.Global)
	assert.NotNil(t, st.Received)
}

func TestStateCloneIsDeep(t *testing.T) {
	st := newState(&Config{Connections: []Connection{{From: []string{"a"}, Transition: "{}", To: []string{}}}})
	st.Global["nested"] = map[string]any{"k": "v"}
	st.Locals[0]["i"] = 1.0
	st.Waitings[0]["a"] = []any{map[string]any{"payload": 1.0}}
	st.Finals.Functions["a"] = []any{[]any{"x"}}
	st.Runnings = []Invocation{{ID: "inv-1", Node: "a", Args: []any{map[string]any{"deep": true}}}}

	clone := st.Clone()
	require.Empty(t, cmp.Diff(st, clone))

	// Mutating the original must not leak into the clone.
	st.Global["nested"].(map[string]any)["k"] = "changed"
	st.Locals[0]["i"] = 99.0
	st.Waitings[0]["a"][0].(map[string]any)["payload"] = 2.0
	st.Runnings[0].Args[0].(map[string]any)["deep"] = false

	assert.Equal(t, "v", clone.Global["nested"].(map[string]any)["k"])
	assert.Equal(t, 1.0, clone.Locals[0]["i"])
	assert.Equal(t, 1.0, clone.Waitings[0]["a"][0].(map[string]any)["payload"])
	assert.Equal(t, true, clone.Runnings[0].Args[0].(map[string]any)["deep"])
}

func TestStateJSONRoundTrip(t *testing.T) {
	st := newState(&Config{Connections: []Connection{{From: []string{"a"}, Transition: "{}", To: []string{}}}})
	st.Global["g"] = 1.0
	st.Waitings[0]["a"] = []any{"queued"}
	st.Received["once"] = true
	st.Runnings = []Invocation{{ID: "inv-1", Node: "a", Args: []any{2.0}}}

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var restored State
	require.NoError(t, json.Unmarshal(data, &restored))
	normalizeState(&restored)

	assert.Empty(t, cmp.Diff(st, &restored))
}

func TestStateValidateAgainst(t *testing.T) {
	cfg := &Config{
		Functions: map[string]FunctionSpec{"a": {}, "b": {}},
		Events:    map[string]EventSpec{"once": {Once: true}, "plain": {}},
		Connections: []Connection{
			{From: []string{"a"}, To: []string{"b"}},
		},
	}
	g, err := compileGraph(cfg, map[string]Callable{"a": noop, "b": noop}, false)
	require.NoError(t, err)

	valid := func() *State { return newState(cfg) }

	t.Run("accepts a matching snapshot", func(t *testing.T) {
		require.NoError(t, valid().validateAgainst(g))
	})

	t.Run("locals length mismatch", func(t *testing.T) {
		st := valid()
		st.Locals = append(st.Locals, map[string]any{})
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "locals length")
	})

	t.Run("undeclared finals node", func(t *testing.T) {
		st := valid()
		st.Finals.Functions["ghost"] = []any{"x"}
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), `undeclared function "ghost"`)
	})

	t.Run("buffer for name outside from set", func(t *testing.T) {
		st := valid()
		st.Waitings[0]["b"] = []any{"x"}
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "not in its from set")
	})

	t.Run("duplicate invocation ids", func(t *testing.T) {
		st := valid()
		st.Runnings = []Invocation{
			{ID: "same", Node: "a", Args: []any{}},
			{ID: "same", Node: "a", Args: []any{}},
		}
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), `duplicate invocation id "same"`)
	})

	t.Run("receipt for non-once event", func(t *testing.T) {
		st := valid()
		st.Received["plain"] = true
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "config does not declare it once")
	})

	t.Run("receipt for undeclared event", func(t *testing.T) {
		st := valid()
		st.Received["ghost"] = true
		err := st.validateAgainst(g)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), `undeclared event "ghost"`)
	})
}
