// Package cli implements the reduced command surface cmd/pflow exposes:
// run, validate, scan, plan, and registry. Per the spec's explicit non-goal for
// CLI polish, there is no help-text tuning, shell completion, or TUI
// here — just enough to invoke the library from a shell.
//
// Grounded on petalflow's cli/run.go for the command/flag shape and
// exit.go's ExitError pattern (RunE returns an *ExitError, main.go
// unwraps it with errors.As to set the process exit code).
package cli

import "fmt"

// Exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitProvider     = 5
	exitMissingInput = 6
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
