package planner

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a PlannerError so callers can branch on failure mode
// without parsing messages.
type ErrorKind string

const (
	// ErrSchemaValidation means the composed supergraph schema itself is malformed.
	ErrSchemaValidation ErrorKind = "SCHEMA_VALIDATION"
	// ErrOperationValidation means the operation document doesn't match the schema
	// (unknown field, wrong argument, etc).
	ErrOperationValidation ErrorKind = "OPERATION_VALIDATION"
	// ErrNoMatchingOperation means operationName didn't match any operation in the document.
	ErrNoMatchingOperation ErrorKind = "NO_MATCHING_OPERATION"
	// ErrAmbiguousOperation means the document has more than one operation and
	// operationName was empty or didn't disambiguate.
	ErrAmbiguousOperation ErrorKind = "AMBIGUOUS_OPERATION"
	// ErrUnsatisfiableKey means a boundary field's entity has no resolvable
	// @key declared in any service.
	ErrUnsatisfiableKey ErrorKind = "UNSATISFIABLE_KEY"
)

// PlannerError reports a single planning failure, optionally nested under a
// batch produced while validating an operation that failed in more than one place.
type PlannerError struct {
	Kind    ErrorKind
	Message string
	Path    []string
	Errors  []*PlannerError
}

func (e *PlannerError) Error() string {
	if len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, sub := range e.Errors {
			msgs[i] = sub.Error()
		}
		return strings.Join(msgs, "; ")
	}
	if len(e.Path) > 0 {
		return string(e.Kind) + " at " + strings.Join(e.Path, ".") + ": " + e.Message
	}
	return string(e.Kind) + ": " + e.Message
}

func newPlannerError(kind ErrorKind, path []string, format string, args ...any) *PlannerError {
	return &PlannerError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

func batchErrors(errs []*PlannerError) *PlannerError {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return &PlannerError{
		Kind:    ErrOperationValidation,
		Message: "multiple validation errors",
		Errors:  errs,
	}
}
