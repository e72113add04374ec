package definition

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the structure of the document: required fields, task types
// per chain and unique workflow names. Duplicate task references are reported
// separately by ValidateTaskReferences.
func (d *Definitions) Validate() error {
	var details ValidationErrors

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			details = append(details, FieldError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
			})
		}
	}

	names := make(map[string]struct{}, len(d.Workflows))
	for i, wf := range d.Workflows {
		if _, dup := names[wf.Name]; dup && wf.Name != "" {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("Definitions.Workflows[%d].Name", i),
				Message: fmt.Sprintf("workflow %q is declared more than once", wf.Name),
			})
		}
		names[wf.Name] = struct{}{}

		for j, task := range wf.Tasks {
			if task.Type == TaskTypeExceptionStep {
				details = append(details, FieldError{
					Field:   fmt.Sprintf("Definitions.Workflows[%d].Tasks[%d].Type", i, j),
					Message: "exception-step tasks belong in exception_task",
				})
			}
		}
		for j, task := range wf.ExceptionTask {
			if task.Type != TaskTypeExceptionStep {
				details = append(details, FieldError{
					Field:   fmt.Sprintf("Definitions.Workflows[%d].ExceptionTask[%d].Type", i, j),
					Message: fmt.Sprintf("must be %s", TaskTypeExceptionStep),
				})
			}
		}
	}

	if len(details) > 0 {
		return details
	}
	return nil
}

// ValidateTaskReferences rejects workflows whose main chain declares the same
// task_reference_name twice. Every offending pair is reported.
func (d *Definitions) ValidateTaskReferences() error {
	var dups []DuplicateReference
	for _, wf := range d.Workflows {
		counts := make(map[string]int, len(wf.Tasks))
		for _, task := range wf.Tasks {
			counts[task.TaskReferenceName]++
			if counts[task.TaskReferenceName] == 2 {
				dups = append(dups, DuplicateReference{Workflow: wf.Name, Reference: task.TaskReferenceName})
			}
		}
	}
	if len(dups) > 0 {
		return &DuplicateReferenceError{Duplicates: dups}
	}
	return nil
}

// ValidateFunctions rejects local-call and exception-step tasks whose
// function is not known. Every offending workflow/task/function triple is
// reported, main chain first.
func (d *Definitions) ValidateFunctions(known func(name string) bool) error {
	var missing []UnknownFunction
	check := func(wf string, tasks []TaskConfig) {
		for _, task := range tasks {
			if task.Type == TaskTypeRemoteCall || known(task.Function) {
				continue
			}
			missing = append(missing, UnknownFunction{
				Workflow:  wf,
				Reference: task.TaskReferenceName,
				Function:  task.Function,
			})
		}
	}
	for _, wf := range d.Workflows {
		check(wf.Name, wf.Tasks)
		check(wf.Name, wf.ExceptionTask)
	}
	if len(missing) > 0 {
		return &UnknownFunctionError{Functions: missing}
	}
	return nil
}

func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "required_if", "required_unless":
		return fmt.Sprintf("this field is required for this task type (%s)", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
