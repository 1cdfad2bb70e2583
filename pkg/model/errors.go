package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of ModelDefinitionError. Match them with errors.Is.
var (
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrNoApplicableSampler = errors.New("no applicable sampler for variable")
	ErrInvalidParameter    = errors.New("invalid distribution parameter")
	ErrNotSelfSupporting   = errors.New("world is not self-supporting")
	ErrUnknownFunction     = errors.New("unknown random function")
)

// ModelDefinitionError reports a broken model or sampler configuration. It is
// fatal: drivers abort the run instead of retrying.
type ModelDefinitionError struct {
	Kind    error
	Var     VarID
	Context []VarID
	Detail  string
}

func (e *ModelDefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("model definition error: ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Var != "" {
		fmt.Fprintf(&b, " (var %s)", e.Var)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Context) > 0 {
		parts := make([]string, len(e.Context))
		for i, id := range e.Context {
			parts[i] = string(id)
		}
		fmt.Fprintf(&b, " [context: %s]", strings.Join(parts, " -> "))
	}
	return b.String()
}

// Unwrap exposes the error kind.
func (e *ModelDefinitionError) Unwrap() error { return e.Kind }

func invalidParameter(format string, args ...any) error {
	return &ModelDefinitionError{Kind: ErrInvalidParameter, Detail: fmt.Sprintf(format, args...)}
}

// attachVar fills in the variable identity of a ModelDefinitionError raised
// while evaluating v's CPD, leaving errors from other variables untouched.
func attachVar(err error, id VarID) error {
	var mde *ModelDefinitionError
	if errors.As(err, &mde) && mde.Var == "" {
		cp := *mde
		cp.Var = id
		return &cp
	}
	return err
}
