package service

import (
	"errors"
	"fmt"

	"retailpos/backend/internal/store"
)

// Kind is the stable error category surfaced to API clients.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindInsufficientStock  Kind = "InsufficientStock"
	KindNotFound           Kind = "NotFound"
	KindAlreadyCancelled   Kind = "AlreadyCancelled"
	KindUnauthorized       Kind = "Unauthorized"
	KindPersistenceFailure Kind = "PersistenceFailure"
)

type Error struct {
	Kind      Kind
	Message   string
	ProductID string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message, Err: store.ErrInvalidTransaction}
}

// KindOf classifies err, falling back to the store sentinels for errors that
// did not pass through the service.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, store.ErrAlreadyCancelled):
		return KindAlreadyCancelled
	case errors.Is(err, store.ErrInvalidTransaction), errors.Is(err, store.ErrConflict):
		return KindInvalidInput
	default:
		return KindPersistenceFailure
	}
}

// fromStore maps a store error into a service error with message.
func fromStore(err error, message string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}

	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		return &Error{
			Kind:      KindInsufficientStock,
			Message:   fmt.Sprintf("insufficient stock for product %s", stockErr.ProductID),
			ProductID: stockErr.ProductID,
			Err:       err,
		}
	}

	kind := KindOf(err)
	switch kind {
	case KindPersistenceFailure:
		return newError(kind, message, err)
	case KindInvalidInput:
		if errors.Is(err, store.ErrConflict) {
			return newError(kind, "record already exists", err)
		}
		return newError(kind, "invalid request", err)
	case KindNotFound:
		return newError(kind, "not found", err)
	default:
		return newError(kind, err.Error(), err)
	}
}
