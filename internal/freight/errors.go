package freight

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTariff marks tariff definitions that cannot be rated against.
	// It aborts the whole rerate.
	ErrInvalidTariff = errors.New("invalid tariff")
	// ErrRunNotFound is returned when an audit run does not exist.
	ErrRunNotFound = errors.New("audit run not found")
)

// ValidationError pinpoints the tariff and lane that failed validation.
type ValidationError struct {
	Carrier string
	Origin  string
	Lane    string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	base := fmt.Sprintf("%s: %s/%s", ErrInvalidTariff, e.Carrier, e.Origin)
	if e.Lane != "" {
		base += " lane " + e.Lane
	}
	return base + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTariff }
