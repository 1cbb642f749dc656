package tool

import (
	"errors"
	"fmt"

	"github.com/zen-systems/sentinel/pkg/schema"
)

var (
	ErrUnknownTool          = errors.New("unknown tool")
	ErrUntrustedToolCall    = errors.New("tool call from untrusted backend")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrConfirmationDeclined = errors.New("confirmation declined")
	ErrSandboxUnavailable   = errors.New("sandbox unavailable")
	ErrExecutionTimeout     = errors.New("tool execution timed out")
	ErrToolProcess          = errors.New("tool process failed")
	ErrPendingNotFound      = errors.New("pending confirmation not found or expired")

	// ErrSchemaValidation reports arguments rejected by the tool's schema.
	ErrSchemaValidation = schema.ErrValidation
)

// ProcessError carries the diagnostics of a failed tool process.
type ProcessError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrToolProcess, e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %s exited with status %d", ErrToolProcess, e.Tool, e.ExitCode)
}

func (e *ProcessError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrToolProcess, e.Err}
	}
	return []error{ErrToolProcess}
}
