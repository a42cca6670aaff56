package state

import (
	"errors"
	"fmt"
)

// Sentinel errors for classifying failures with errors.Is.
var (
	// ErrIO indicates the state file could not be opened, read or written.
	ErrIO = errors.New("state: io failure")

	// ErrFormat indicates the state file content does not match the four-line format.
	ErrFormat = errors.New("state: malformed state file")

	// ErrInvalid indicates a record that cannot be encoded without corrupting the format.
	ErrInvalid = errors.New("state: invalid record")
)

// IOError reports a filesystem failure during save or load.
// It unwraps to the underlying os error so errors.Is(err, fs.ErrNotExist) works.
type IOError struct {
	Op   string // open, read, write, sync, close, rename, mkdir, remove
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// FormatError reports content that does not decode. Line is 1-based; 0 means
// the failure is not tied to a single line.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("state format: line %d: %s", e.Line, e.Reason)
	}
	return "state format: " + e.Reason
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ValidationError reports a field that cannot be written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("state validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }
