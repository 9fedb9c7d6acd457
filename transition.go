package gridflow

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/gridflow/internal/ctyconv"
)

// exprFunctions is the function table available to every transformation
// expression.
var exprFunctions = map[string]function.Function{
	"abs":        stdlib.AbsoluteFunc,
	"can":        tryfunc.CanFunc,
	"ceil":       stdlib.CeilFunc,
	"coalesce":   stdlib.CoalesceFunc,
	"concat":     stdlib.ConcatFunc,
	"contains":   stdlib.ContainsFunc,
	"floor":      stdlib.FloorFunc,
	"format":     stdlib.FormatFunc,
	"jsondecode": stdlib.JSONDecodeFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
	"keys":       stdlib.KeysFunc,
	"length":     stdlib.LengthFunc,
	"lower":      stdlib.LowerFunc,
	"max":        stdlib.MaxFunc,
	"min":        stdlib.MinFunc,
	"try":        tryfunc.TryFunc,
	"upper":      stdlib.UpperFunc,
	"values":     stdlib.ValuesFunc,
}

// transitionResult is the validated outcome of one connection firing.
type transitionResult struct {
	// to holds one argument list per declared target; a nil entry means
	// "skip invoking that target this firing".
	to [][]any

	global    map[string]any
	hasGlobal bool
	local     map[string]any
	hasLocal  bool

	// raw is the full decoded transition output, recorded as the
	// connection's final output when it has no targets.
	raw any
}

// evalExpr evaluates one parsed expression against named variables,
// carrying opaque values through a per-evaluation codec.
func evalExpr(expr hcl.Expression, vars map[string]any) (any, error) {
	codec := ctyconv.NewCodec()
	ctyVars := make(map[string]cty.Value, len(vars))
	for name, v := range vars {
		encoded, err := codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", name, err)
		}
		ctyVars[name] = encoded
	}
	val, diags := expr.Value(&hcl.EvalContext{
		Variables: ctyVars,
		Functions: exprFunctions,
	})
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluation failed: %s", diags.Error())
	}
	return codec.Decode(val)
}

// evalTransition runs a connection's transition stage: either the declared
// expression or the synthesized identity passthrough, followed by shape
// validation of the result against the declared targets.
func evalTransition(g *graph, index int, from []any, global, local map[string]any) (*transitionResult, error) {
	conn := g.cfg.Connections[index]

	if g.transitions[index] == nil {
		// Identity passthrough: each from element becomes a singleton
		// argument list for the target at the same position. Equal lengths
		// were enforced at validation time.
		res := &transitionResult{to: make([][]any, len(conn.To)), raw: from}
		for i, payload := range from {
			res.to[i] = []any{payload}
		}
		return res, nil
	}

	raw, err := evalExpr(g.transitions[index], map[string]any{
		"from":   from,
		"global": global,
		"local":  local,
	})
	if err != nil {
		return nil, &TransitionError{Connection: index, Detail: "expression error", Err: err}
	}

	res := &transitionResult{raw: raw}
	obj, isObj := raw.(map[string]any)

	if len(conn.To) > 0 {
		if !isObj {
			return nil, &TransitionError{
				Connection: index,
				Detail:     fmt.Sprintf("expected an object providing %d targets, got %T", len(conn.To), raw),
			}
		}
		targets, ok := obj["to"]
		if !ok {
			return nil, &TransitionError{
				Connection: index,
				Detail:     fmt.Sprintf("result must provide `to` with %d entries", len(conn.To)),
			}
		}
		list, ok := targets.([]any)
		if !ok {
			return nil, &TransitionError{
				Connection: index,
				Detail:     fmt.Sprintf("expected `to` to be a list, got %T", targets),
			}
		}
		if len(list) != len(conn.To) {
			return nil, &TransitionError{
				Connection: index,
				Detail:     fmt.Sprintf("expected `to` length %d, got %d", len(conn.To), len(list)),
			}
		}
		res.to = make([][]any, len(list))
		for i, entry := range list {
			if entry == nil {
				continue // skip this target on this firing
			}
			args, ok := entry.([]any)
			if !ok {
				return nil, &TransitionError{
					Connection: index,
					Detail:     fmt.Sprintf("expected `to[%d]` to be an argument list or null, got %T", i, entry),
				}
			}
			res.to[i] = args
		}
	}

	if isObj {
		if v, ok := obj["global"]; ok {
			m, isMap := v.(map[string]any)
			if !isMap {
				return nil, &TransitionError{
					Connection: index,
					Detail:     fmt.Sprintf("expected `global` to be an object, got %T", v),
				}
			}
			res.global, res.hasGlobal = m, true
		}
		if v, ok := obj["local"]; ok {
			m, isMap := v.(map[string]any)
			if !isMap {
				return nil, &TransitionError{
					Connection: index,
					Detail:     fmt.Sprintf("expected `local` to be an object, got %T", v),
				}
			}
			res.local, res.hasLocal = m, true
		}
	}

	return res, nil
}

// evalInputs applies a function's inputs transformation to a pending
// argument list. The result must itself be an argument list.
func evalInputs(g *graph, node string, args []any, global map[string]any) ([]any, error) {
	expr, ok := g.inputs[node]
	if !ok {
		return args, nil
	}
	raw, err := evalExpr(expr, map[string]any{"args": args, "global": global})
	if err != nil {
		return nil, fmt.Errorf("inputs transformation: %w", err)
	}
	out, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("inputs transformation: expected an argument list, got %T", raw)
	}
	return out, nil
}

// evalOutput applies a function's output transformation to a successful
// result.
func evalOutput(g *graph, node string, result any, global map[string]any) (any, error) {
	expr, ok := g.outputs[node]
	if !ok {
		return result, nil
	}
	out, err := evalExpr(expr, map[string]any{"result": result, "global": global})
	if err != nil {
		return nil, fmt.Errorf("output transformation: %w", err)
	}
	return out, nil
}
