package rbac

import (
	"fmt"
	"strconv"
	"strings"
)

// NotFoundError reports referenced ids that do not exist or are already
// soft-deleted. Raised by mutation entry points only; read paths return
// empty results instead.
type NotFoundError struct {
	Entity string
	IDs    []int64
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("rbac: %s not found", e.Entity)
	}
	parts := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("rbac: %s not found: %s", e.Entity, strings.Join(parts, ", "))
}

// ForbiddenOperationError reports an attempt to delete or alter a
// system role.
type ForbiddenOperationError struct {
	RoleID    int64
	Operation string
}

func (e *ForbiddenOperationError) Error() string {
	return fmt.Sprintf("rbac: %s rejected: role %d is a system role", e.Operation, e.RoleID)
}

// ValidationError reports malformed mutation input: duplicate ids,
// empty id lists, empty names.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "rbac: " + e.Msg
}

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
