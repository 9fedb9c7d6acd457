// Package ctyconv converts between JSON-like Go values and cty values at the
// expression-evaluation boundary. Values with no cty representation are
// handled by the opaque-value Codec in this package.
package ctyconv

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// ToCty converts a JSON-like Go value into a cty.Value. Slices become
// tuples and maps become objects so that heterogeneous payloads survive
// the round trip. Unconvertible values are an error; callers that need to
// smuggle them through an evaluation should use a Codec instead.
func ToCty(v any) (cty.Value, error) {
	return toCty(v, nil)
}

// FromCty converts a cty.Value back into a JSON-like Go value. Null and
// unknown values become nil.
func FromCty(val cty.Value) (any, error) {
	return fromCty(val, nil)
}

func toCty(v any, c *Codec) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return t, nil
	case bool:
		return cty.BoolVal(t), nil
	case string:
		return cty.StringVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int32:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case float32:
		return cty.NumberFloatVal(float64(t)), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		vals := make([]cty.Value, len(t))
		for i, elem := range t {
			converted, err := toCty(elem, c)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = converted
		}
		return cty.TupleVal(vals), nil
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, elem := range t {
			converted, err := toCty(elem, c)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = converted
		}
		return cty.ObjectVal(attrs), nil
	default:
		if c != nil {
			return cty.StringVal(c.intern(v)), nil
		}
		return cty.NilVal, fmt.Errorf("unsupported Go type for cty conversion: %T", v)
	}
}

func fromCty(val cty.Value, c *Codec) (any, error) {
	if val == cty.NilVal || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			s := val.AsString()
			if c != nil {
				if original, ok := c.resolve(s); ok {
					return original, nil
				}
			}
			return s, nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := fromCty(v, c)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := fromCty(v, c)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}
