package types

import (
	"errors"
	"fmt"
	"strings"
)

// Engine error categories. The typed errors below match these with errors.Is.
var (
	ErrSchema          = errors.New("schema error")
	ErrCycleResolution = errors.New("cycle resolution error")
	ErrResetExecution  = errors.New("reset execution error")
)

// SchemaError reports a foreign key naming an unknown table or a schema that
// could not be introspected. It is fatal at startup.
type SchemaError struct {
	Table  TableName
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Table != "" {
		fmt.Fprintf(&b, " %s", e.Table)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }
func (e *SchemaError) Unwrap() error        { return e.Err }

// CycleResolutionError reports a foreign-key cycle that can be neither
// deferred nor run with constraint checks disabled.
type CycleResolutionError struct {
	Tables []TableName
	Reason string
}

func (e *CycleResolutionError) Error() string {
	names := make([]string, len(e.Tables))
	for i, t := range e.Tables {
		names[i] = string(t)
	}
	return fmt.Sprintf("cannot order foreign-key cycle [%s]: %s", strings.Join(names, ", "), e.Reason)
}

func (e *CycleResolutionError) Is(target error) bool { return target == ErrCycleResolution }

// ResetExecutionError reports a failure while deleting or restoring rows.
// The reset transaction has been rolled back when this is returned.
type ResetExecutionError struct {
	Table TableName
	Phase string
	Err   error
}

func (e *ResetExecutionError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("reset %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("reset %s %s: %v", e.Phase, e.Table, e.Err)
}

func (e *ResetExecutionError) Is(target error) bool { return target == ErrResetExecution }
func (e *ResetExecutionError) Unwrap() error        { return e.Err }
