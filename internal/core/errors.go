package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidInput      = errors.New("invalid input")
	ErrTenantRequired    = errors.New("tenant id is required")
	ErrDuplicate         = errors.New("duplicate")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// Invalidf builds an ErrInvalidInput with a formatted detail.
func Invalidf(format string, args ...any) error {
	return invalid(fmt.Sprintf(format, args...))
}
