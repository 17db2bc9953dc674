package service

import (
	"errors"
	"fmt"

	"github.com/d60-Lab/marketplace/internal/repository"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrOperationNotPermitted = errors.New("operation not permitted")
	// ErrForbidden is an OperationNotPermitted raised because the actor is not a
	// participant of the order. The HTTP layer maps it to 403.
	ErrForbidden         = fmt.Errorf("%w: not a participant", ErrOperationNotPermitted)
	ErrDuplicateReceipt  = errors.New("order already has an active payment receipt")
	ErrAlreadyVerified   = errors.New("payment already verified")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError reports malformed input. Nothing has been written when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError names the first product that cannot cover its quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func notPermitted(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOperationNotPermitted, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// notFound maps a repository miss to ErrNotFound and passes everything else through.
func notFound(err error, what string) error {
	if repository.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
