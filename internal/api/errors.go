package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/steemit/pulse/internal/cache"
	"github.com/steemit/pulse/internal/checkin"
	"github.com/steemit/pulse/internal/heat"
	"github.com/steemit/pulse/internal/models"
)

// Application error codes, outside the reserved JSON-RPC range
const (
	ErrCodeUnauthorized     = -32001
	ErrCodeNotFound         = -32004
	ErrCodeStoreUnavailable = -32010
	ErrCodeContention       = -32011
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...interface{}) *Error {
	return NewError(ErrInvalidParams, fmt.Sprintf(format, args...))
}

// classify maps engine errors onto JSON-RPC codes
func classify(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code, apiErr.Message
	case errors.Is(err, heat.ErrUnknownKind), errors.Is(err, models.ErrInvalidRecord):
		return ErrInvalidParams, "Invalid params"
	case errors.Is(err, heat.ErrNotFound), errors.Is(err, checkin.ErrNotFound):
		return ErrCodeNotFound, "Not found"
	case errors.Is(err, cache.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeStoreUnavailable, "Store unavailable"
	case errors.Is(err, checkin.ErrContention):
		return ErrCodeContention, "Too many concurrent requests"
	default:
		return ErrInternalError, "Server error"
	}
}
