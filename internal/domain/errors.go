package domain

import "errors"

var (
	// ErrPriceUnavailable means every price source failed. Callers must skip
	// the update rather than substitute a zero price.
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrPositionClosed      = errors.New("position already closed")
	ErrNotFound            = errors.New("not found")
)
