package model

import "fmt"

// EncodedValue is a JSON-safe, type-preserving representation of a Value.
type EncodedValue struct {
	Kind   string   `json:"kind"`
	Bool   *bool    `json:"bool,omitempty"`
	Int    *int64   `json:"int,omitempty"`
	Float  *float64 `json:"float,omitempty"`
	String *string  `json:"string,omitempty"`
}

// Value kinds used by EncodedValue.
const (
	KindBool   = "bool"
	KindInt    = "int"
	KindFloat  = "float"
	KindString = "string"
)

// EncodeValue converts a supported value into its encoded form.
func EncodeValue(v Value) (EncodedValue, error) {
	switch x := v.(type) {
	case bool:
		return EncodedValue{Kind: KindBool, Bool: &x}, nil
	case int:
		i := int64(x)
		return EncodedValue{Kind: KindInt, Int: &i}, nil
	case int64:
		return EncodedValue{Kind: KindInt, Int: &x}, nil
	case float64:
		return EncodedValue{Kind: KindFloat, Float: &x}, nil
	case string:
		return EncodedValue{Kind: KindString, String: &x}, nil
	default:
		return EncodedValue{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Decode restores the original value.
func (e EncodedValue) Decode() (Value, error) {
	switch e.Kind {
	case KindBool:
		if e.Bool != nil {
			return *e.Bool, nil
		}
	case KindInt:
		if e.Int != nil {
			return int(*e.Int), nil
		}
	case KindFloat:
		if e.Float != nil {
			return *e.Float, nil
		}
	case KindString:
		if e.String != nil {
			return *e.String, nil
		}
	default:
		return nil, fmt.Errorf("unknown value kind %q", e.Kind)
	}
	return nil, fmt.Errorf("encoded %s value is empty", e.Kind)
}

// EncodedTerm is the encoded form of a Term.
type EncodedTerm struct {
	Func string         `json:"func"`
	Args []EncodedValue `json:"args,omitempty"`
}

// EncodeTerm encodes a term and its arguments.
func EncodeTerm(t Term) (EncodedTerm, error) {
	out := EncodedTerm{Func: t.Func}
	for _, arg := range t.Args {
		ev, err := EncodeValue(arg)
		if err != nil {
			return EncodedTerm{}, fmt.Errorf("term %s: %w", t.ID(), err)
		}
		out.Args = append(out.Args, ev)
	}
	return out, nil
}

// Decode restores the term.
func (e EncodedTerm) Decode() (Term, error) {
	t := Term{Func: e.Func}
	for _, arg := range e.Args {
		v, err := arg.Decode()
		if err != nil {
			return Term{}, fmt.Errorf("term %s: %w", e.Func, err)
		}
		t.Args = append(t.Args, v)
	}
	return t, nil
}
