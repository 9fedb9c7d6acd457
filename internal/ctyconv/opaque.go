package ctyconv

import (
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
)

// tokenPrefix marks generated placeholder strings. The NUL bytes make an
// accidental collision with a real payload string practically impossible.
const tokenPrefix = "\x00opaque:"

const tokenSuffix = "\x00"

// Codec carries non-representable values across an expression evaluation.
// On encode, any value without a cty representation is swapped for a unique
// token string and parked in a side table; on decode, token strings are
// resolved back to the original values. A Codec is scoped to a single
// evaluation and is not safe for concurrent use.
type Codec struct {
	table map[string]any
}

// NewCodec returns an empty codec for one expression evaluation.
func NewCodec() *Codec {
	return &Codec{table: make(map[string]any)}
}

// Encode converts a Go value to cty, substituting tokens for values that
// have no cty representation.
func (c *Codec) Encode(v any) (cty.Value, error) {
	return toCty(v, c)
}

// Decode converts a cty value back to Go, resolving any tokens previously
// minted by this codec.
func (c *Codec) Decode(val cty.Value) (any, error) {
	return fromCty(val, c)
}

func (c *Codec) intern(v any) string {
	token := tokenPrefix + uuid.NewString() + tokenSuffix
	c.table[token] = v
	return token
}

func (c *Codec) resolve(s string) (any, bool) {
	v, ok := c.table[s]
	return v, ok
}
