// Package errors defines the template-facing error shape spec.md §7
// describes: a Kind, a message, a source Location, and — for RuntimeError
// only — whatever output had already been written before the failure.
package errors

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies a TemplateError.
type Kind string

const (
	SyntaxError    Kind = "SyntaxError"
	RuntimeError   Kind = "RuntimeError"
	CompileFailure Kind = "CompileFailure"
)

// Location is a line/column position in template source.
type Location struct {
	File   string
	Line   int
	Column int
}

// TemplateError is the error type every compiler/vm entry point returns
// on failure. CompileFailure is reserved for internal/lowering's own
// structured-lowering attempts and should never surface past that
// package — a failed lowering falls back to the VM instead of
// propagating an error to the caller.
type TemplateError struct {
	ID            string // correlates a failure across logs and any returned error page
	Kind          Kind
	Message       string
	Location      Location
	Source        string // the offending source line, if known
	PartialOutput string // RuntimeError only: output written before the failure
}

func (e *TemplateError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s: %s", e.ID, e.Kind, e.Message))
	if e.Location.Line > 0 {
		sb.WriteString(fmt.Sprintf(" (line %d", e.Location.Line))
		if e.Location.Column > 0 {
			sb.WriteString(fmt.Sprintf(", col %d", e.Location.Column))
		}
		sb.WriteString(")")
	}
	if e.Source != "" {
		sb.WriteString(fmt.Sprintf("\n  %s", e.Source))
	}
	return sb.String()
}

func NewSyntaxError(message, file string, line, column int) *TemplateError {
	return &TemplateError{ID: uuid.NewString(), Kind: SyntaxError, Message: message, Location: Location{File: file, Line: line, Column: column}}
}

// NewRuntimeError attaches whatever had already been rendered when the
// failure occurred, so a caller can still show a partial page.
func NewRuntimeError(message string, partialOutput string) *TemplateError {
	return &TemplateError{ID: uuid.NewString(), Kind: RuntimeError, Message: message, PartialOutput: partialOutput}
}

func (e *TemplateError) WithSource(source string) *TemplateError {
	e.Source = source
	return e
}
