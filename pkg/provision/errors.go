package provision

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ProvisionError for programmatic handling —
// mirrors the executor's error taxonomy (IO, decode, discovery, sandbox
// faults) rather than a generic retry classification.
type ErrorKind string

const (
	KindIO                 ErrorKind = "io"
	KindDecode             ErrorKind = "decode"
	KindNoProvisioningEntry ErrorKind = "no_provisioning_entry"
	KindManifestNotFound   ErrorKind = "manifest_not_found"
	KindComponentNotFound  ErrorKind = "component_not_found"
	KindCompile            ErrorKind = "compile"
	KindTrap               ErrorKind = "trap"
	KindMemory             ErrorKind = "memory"
	KindInputTooLarge      ErrorKind = "input_too_large"
	KindOutputTooLarge     ErrorKind = "output_too_large"
	KindConformanceFailed  ErrorKind = "conformance_failed"
)

// ProvisionError is a classified error carrying the kind, a human message,
// optional resource/operation context and the wrapped cause.
type ProvisionError struct {
	Kind      ErrorKind
	Message   string
	Resource  string
	Operation string
	Err       error
}

func (e *ProvisionError) Error() string {
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s", e.Kind, e.Message, e.Resource, e.Operation, e.causeSuffix())
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Kind, e.Message, e.Resource, e.causeSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.causeSuffix())
	}
}

func (e *ProvisionError) causeSuffix() string {
	if e.Err == nil {
		return ""
	}
	return ": " + e.Err.Error()
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func (e *ProvisionError) Is(target error) bool {
	t, ok := target.(*ProvisionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *ProvisionError) WithResource(resource string) *ProvisionError {
	e.Resource = resource
	return e
}

func (e *ProvisionError) WithOperation(operation string) *ProvisionError {
	e.Operation = operation
	return e
}

func newError(kind ErrorKind, message string, err error) *ProvisionError {
	return &ProvisionError{Kind: kind, Message: message, Err: err}
}

func NewIOError(message string, err error) *ProvisionError { return newError(KindIO, message, err) }

func NewDecodeError(message string, err error) *ProvisionError {
	return newError(KindDecode, message, err)
}

func NewNoProvisioningEntryError(packID string) *ProvisionError {
	return newError(KindNoProvisioningEntry, "no provisioning entry found in pack manifest", nil).WithResource(packID)
}

func NewManifestNotFoundError(path string) *ProvisionError {
	return newError(KindManifestNotFound, "manifest not found in directory", nil).WithResource(path)
}

func NewComponentNotFoundError(step string) *ProvisionError {
	return newError(KindComponentNotFound, "component not found for step", nil).WithOperation(step)
}

func NewCompileError(err error) *ProvisionError {
	return newError(KindCompile, "failed to compile component", err)
}

func NewTrapError(message string) *ProvisionError {
	return newError(KindTrap, "execution trap", nil).withCause(message)
}

func (e *ProvisionError) withCause(message string) *ProvisionError {
	e.Message = e.Message + ": " + message
	return e
}

func NewMemoryError(err error) *ProvisionError {
	return newError(KindMemory, "memory access error", err)
}

func NewInputTooLargeError(bytes int) *ProvisionError {
	return newError(KindInputTooLarge, fmt.Sprintf("input too large: %d bytes", bytes), nil)
}

func NewOutputTooLargeError(bytes int) *ProvisionError {
	return newError(KindOutputTooLarge, fmt.Sprintf("output too large: %d bytes", bytes), nil)
}

func NewConformanceFailedError() *ProvisionError {
	return newError(KindConformanceFailed, "conformance failed", nil)
}

// IsKind reports whether err is a ProvisionError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
