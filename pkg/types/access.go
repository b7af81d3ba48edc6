package types

import (
	"errors"
	"fmt"
	"strings"
)

// OperationKind is the kind of statement the SUT issued against a table.
type OperationKind int

const (
	OpRead OperationKind = iota
	OpInsert
	OpUpdate
	OpDelete

	// OpWrite is used by callers that cannot tell which write it was.
	OpWrite
)

// ErrUnknownOperation is returned by ParseOperationKind.
var ErrUnknownOperation = errors.New("unknown operation kind")

var operationNames = map[OperationKind]string{
	OpRead:   "read",
	OpInsert: "insert",
	OpUpdate: "update",
	OpDelete: "delete",
	OpWrite:  "write",
}

// IsWrite reports whether the operation modifies table contents.
func (k OperationKind) IsWrite() bool {
	return k != OpRead
}

func (k OperationKind) String() string {
	if s, ok := operationNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// ParseOperationKind accepts the names returned by String plus the SQL verbs
// "select", "replace", "merge" and "truncate".
func ParseOperationKind(s string) (OperationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "select":
		return OpRead, nil
	case "insert", "replace", "merge":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "delete", "truncate":
		return OpDelete, nil
	case "write":
		return OpWrite, nil
	}
	return OpRead, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Access is a single "table accessed" event.
type Access struct {
	Table TableName
	Kind  OperationKind
}

// AccessSet is a set of tables touched during one access window.
type AccessSet map[TableName]struct{}

// NewAccessSet returns a set holding names.
func NewAccessSet(names ...TableName) AccessSet {
	s := make(AccessSet, len(names))
	for _, n := range names {
		s.Add(n)
	}
	return s
}

func (s AccessSet) Add(t TableName) { s[t] = struct{}{} }
func (s AccessSet) Len() int         { return len(s) }

func (s AccessSet) Contains(t TableName) bool {
	_, ok := s[t]
	return ok
}

// Tables returns the members in ascending order.
func (s AccessSet) Tables() []TableName {
	out := make([]TableName, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	return SortTableNames(out)
}
