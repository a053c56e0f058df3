package cortex

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies an error for operators and for HTTP status mapping.
type Category string

const (
	CategoryModel         Category = "model"
	CategoryNetwork       Category = "network"
	CategoryValidation    Category = "validation"
	CategoryResource      Category = "resource"
	CategoryPermission    Category = "permission"
	CategoryConfiguration Category = "configuration"
	CategoryUnknown       Category = "unknown"
)

// ErrNotFound reports a missing record. Store implementations return it
// (possibly wrapped) from Get when the id does not exist.
var ErrNotFound = errors.New("cortex: not found")

// Error is a categorized error carrying a human message, optional context,
// and an ordered list of recovery steps to present to an operator.
type Error struct {
	Category Category
	Title    string
	Message  string
	Context  map[string]string
	Recovery []string
	Err      error // wrapped cause, may be nil
}

// Error renders the one-line form used in API responses and log attributes.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Box renders the ASCII-boxed multi-line form used in logs. It carries the
// same information as Error() plus the recovery steps.
func (e *Error) Box() string {
	const width = 70
	var b strings.Builder
	line := func(s string) {
		if len(s) > width-4 {
			s = s[:width-4]
		}
		fmt.Fprintf(&b, "| %-*s |\n", width-4, s)
	}
	rule := "+" + strings.Repeat("-", width-2) + "+\n"

	b.WriteString(rule)
	line(fmt.Sprintf("[%s] %s", e.Category, e.Title))
	b.WriteString(rule)
	for _, l := range wrap(e.Message, width-6) {
		line("  " + l)
	}
	if e.Err != nil {
		for _, l := range wrap("cause: "+e.Err.Error(), width-6) {
			line("  " + l)
		}
	}
	if len(e.Recovery) > 0 {
		line("")
		line("  Recovery steps:")
		for i, step := range e.Recovery {
			for j, l := range wrap(step, width-10) {
				if j == 0 {
					line(fmt.Sprintf("    %d. %s", i+1, l))
				} else {
					line("       " + l)
				}
			}
		}
	}
	b.WriteString(rule)
	return b.String()
}

// wrap splits s into lines of at most width characters on word boundaries.
func wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	cur := words[0]
	for _, w := range words[1:] {
		if len(cur)+1+len(w) <= width {
			cur += " " + w
		} else {
			lines = append(lines, cur)
			cur = w
		}
	}
	return append(lines, cur)
}

// --- Constructors ---

// NewValidationError reports a rejected input with the offending field.
func NewValidationError(field, message string) *Error {
	return &Error{
		Category: CategoryValidation,
		Title:    "Invalid Request",
		Message:  message,
		Context:  map[string]string{"field": field},
	}
}

// NewModelError reports an inference backend failure with recovery steps.
func NewModelError(backend string, err error) *Error {
	return &Error{
		Category: CategoryModel,
		Title:    "Model Not Available",
		Message:  fmt.Sprintf("inference backend %q is not responding", backend),
		Context:  map[string]string{"backend": backend},
		Recovery: []string{
			"Check that the inference service container is running",
			"Verify the backend URL in the configuration",
			"Inspect the backend logs for out-of-memory or load failures",
		},
		Err: err,
	}
}

// NewResourceError reports an unreachable collaborator (store, sandbox, voice).
func NewResourceError(name string, err error) *Error {
	return &Error{
		Category: CategoryResource,
		Title:    "Collaborator Unreachable",
		Message:  fmt.Sprintf("required service %q did not respond; this is usually recoverable", name),
		Context:  map[string]string{"service": name},
		Recovery: []string{
			fmt.Sprintf("Check that the %s service is running", name),
			"Verify its URL in the configuration",
			"Retry the request once the service reports healthy",
		},
		Err: err,
	}
}

// ErrHTTP is a transport-level failure from a collaborator HTTP API.
// The failover chain uses Status to decide whether to try the next backend.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
