package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the built-in tools. Callers match them with
// errors.Is; the tool result text carries the wrapped detail.
var (
	ErrFileNotFound          = errors.New("file not found")
	ErrDirectoryNotFound     = errors.New("directory not found")
	ErrCodeNotFound          = errors.New("code to replace not found in file")
	ErrModificationsDisabled = errors.New("file modifications are disabled; set allow_modifications: true to enable")
	ErrConfirmationDeclined  = errors.New("modification cancelled by user")
)

// UnknownToolError is returned when a call names a tool that is not
// registered.
type UnknownToolError struct {
	Name      string
	Available []string
}

// Error implements the error interface.
func (e *UnknownToolError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown tool %q", e.Name)
	}
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// ArgumentError reports arguments that do not satisfy a tool's declared
// parameters.
type ArgumentError struct {
	Tool     string
	Problems []string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}
