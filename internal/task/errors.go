package task

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound        = errors.New("task key not found")
	ErrMalformedReference = errors.New("malformed task reference")
)

type ErrorKind string

const (
	MalformedReference ErrorKind = "malformed_reference"
	ModuleNotFound     ErrorKind = "module_not_found"
	FunctionNotFound   ErrorKind = "function_not_found"
)

// ResolutionError explains why a reference could not be turned into a Func.
// Its message is the reason text shown in "not started" warnings.
type ResolutionError struct {
	Kind ErrorKind
	Ref  string
	// Name is the missing module or function.
	Name string
	// Err is the loader error for ModuleNotFound, when there was one.
	Err error
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case MalformedReference:
		return "Malformed function path"
	case ModuleNotFound:
		return fmt.Sprintf("No module named '%s'", e.Name)
	case FunctionNotFound:
		return fmt.Sprintf("No function named '%s'", e.Name)
	default:
		return string(e.Kind)
	}
}

func (e *ResolutionError) Unwrap() []error {
	out := []error{}
	if e.Kind == MalformedReference {
		out = append(out, ErrMalformedReference)
	} else {
		out = append(out, ErrKeyNotFound)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func malformed(ref string) error {
	return &ResolutionError{Kind: MalformedReference, Ref: ref}
}

// IsResolution reports whether err is a resolution failure.
func IsResolution(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
