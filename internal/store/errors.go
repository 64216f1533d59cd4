package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrCustomerRequired    = errors.New("customer required for outstanding balance")
	ErrRefundExceedsDue    = errors.New("cash payout exceeds refund due")
	ErrNothingToProcess    = errors.New("nothing to process")
	ErrConcurrencyConflict = errors.New("concurrent update conflict, retry")
	ErrSaleCancelled       = errors.New("sale is cancelled")
	ErrDuplicate           = errors.New("duplicate record")
	ErrForbidden           = errors.New("forbidden")
)

// ValidationError names the offending field. errors.Is matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StockError reports which product ran short. errors.Is matches
// ErrInsufficientStock.
type StockError struct {
	ProductID string
	VehicleID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	where := "warehouse"
	if e.VehicleID != "" {
		where = "vehicle " + e.VehicleID
	}
	return fmt.Sprintf("insufficient stock for %s in %s: requested %d, available %d", e.ProductID, where, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}
