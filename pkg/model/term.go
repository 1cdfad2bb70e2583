// Package model defines the random variables, conditional distributions,
// evidence and queries that the inference core consumes. A model is built
// directly in Go: each random function carries a CPD closure that evaluates
// its parent expressions against a Context.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the value of a random variable or a term argument. Supported
// dynamic types are bool, int, float64 and string.
type Value = any

// VarID is the canonical identity of a random variable: the rendering of its
// functional term, e.g. "Height(2)" or "Burglary".
type VarID string

// Term is a function symbol applied to concrete argument values.
type Term struct {
	Func string
	Args []Value
}

// T builds a term from a function name and its arguments.
func T(fn string, args ...Value) Term {
	return Term{Func: fn, Args: args}
}

// ID renders the canonical identity of the term.
func (t Term) ID() VarID {
	if len(t.Args) == 0 {
		return VarID(t.Func)
	}
	var b strings.Builder
	b.WriteString(t.Func)
	b.WriteByte('(')
	for i, arg := range t.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatValue(arg))
	}
	b.WriteByte(')')
	return VarID(b.String())
}

// String implements fmt.Stringer.
func (t Term) String() string { return string(t.ID()) }

// FormatValue renders a value the same way term identities do. Renderings
// are distinct across types: strings are quoted and integral floats keep a
// decimal point, so 1, 1.0 and "1" never collide.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return formatFloat(x)
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func formatFloat(x float64) string {
	s := strconv.FormatFloat(x, 'g', -1, 64)
	if strings.ContainsAny(s, ".eIN") {
		return s
	}
	return s + ".0"
}

// Float converts numeric values to float64.
func Float(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

// Int converts integral values to int.
func Int(v Value) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	default:
		return 0, false
	}
}
