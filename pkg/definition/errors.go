package definition

import (
	"fmt"
	"strings"
)

// DuplicateReference identifies one task reference declared more than once.
type DuplicateReference struct {
	Workflow  string
	Reference string
}

// DuplicateReferenceError lists every workflow/task pair whose
// task_reference_name is declared more than once.
type DuplicateReferenceError struct {
	Duplicates []DuplicateReference
}

func (e *DuplicateReferenceError) Error() string {
	pairs := make([]string, 0, len(e.Duplicates))
	for _, d := range e.Duplicates {
		pairs = append(pairs, fmt.Sprintf("%s/%s", d.Workflow, d.Reference))
	}
	return fmt.Sprintf("duplicate task reference names: %s", strings.Join(pairs, ", "))
}

// UnknownFunction identifies a task naming a function nobody registered.
type UnknownFunction struct {
	Workflow  string
	Reference string
	Function  string
}

// UnknownFunctionError lists every task whose function is not registered.
type UnknownFunctionError struct {
	Functions []UnknownFunction
}

func (e *UnknownFunctionError) Error() string {
	triples := make([]string, 0, len(e.Functions))
	for _, f := range e.Functions {
		triples = append(triples, fmt.Sprintf("%s/%s -> %q", f.Workflow, f.Reference, f.Function))
	}
	return fmt.Sprintf("unregistered functions: %s", strings.Join(triples, ", "))
}

// FieldError is a single structural problem found while validating definitions.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every structural problem in a definitions document.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("workflow definitions are invalid:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}
