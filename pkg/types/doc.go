// Package types defines the table, access and configuration types shared by
// the reset engine, together with the engine's error types.
//
// A TableName is always normalized: lower case, unquoted, and qualified with
// its schema when the database has schemas. Typed errors (SchemaError,
// CycleResolutionError, ResetExecutionError) match their sentinel with
// errors.Is and expose details with errors.As.
package types
