package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInstanceNotFound  = errors.New("strategy instance not found")
	ErrUnknownExchange   = errors.New("unknown exchange")
	ErrInvalidConfig     = errors.New("invalid strategy config")
	ErrInvalidRiskLevels = errors.New("risk levels on wrong side of price")
	ErrBelowMinNotional  = errors.New("order notional below minimum")
	ErrZeroQuantity      = errors.New("order quantity rounds to zero")
)

// ConflictError is returned when a strategy already runs for the same
// (exchange, symbol, market type) triple.
type ConflictError struct {
	Key        string
	InstanceID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("strategy already running for %s (instance %s)", e.Key, e.InstanceID)
}

type GuardPhase string

const (
	GuardLocal  GuardPhase = "local"
	GuardRemote GuardPhase = "remote"
)

// GuardRejection is returned when the position guard blocks an entry.
type GuardRejection struct {
	Phase  GuardPhase
	Reason string
}

func (e *GuardRejection) Error() string {
	return fmt.Sprintf("entry blocked (%s): %s", e.Phase, e.Reason)
}

// ExchangeRejection wraps an error returned by the venue while placing an order.
type ExchangeRejection struct {
	Op  string
	Err error
}

func (e *ExchangeRejection) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
}

func (e *ExchangeRejection) Unwrap() error { return e.Err }
