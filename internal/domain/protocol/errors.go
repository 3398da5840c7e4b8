package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the category of every rejected field combination.
	ErrValidation = errors.New("invalid protocol")
	// ErrConflict is the category of requests the state machine refuses.
	ErrConflict = errors.New("protocol state conflict")
	// ErrNotFound indicates the protocol doesn't exist.
	ErrNotFound = errors.New("protocol not found")
)

var (
	ErrMissingID           = fmt.Errorf("%w: id is required", ErrValidation)
	ErrMissingPilot        = fmt.Errorf("%w: pilot is required", ErrValidation)
	ErrMissingVehicle      = fmt.Errorf("%w: vehicle is required", ErrValidation)
	ErrVehicleNotAllowed   = fmt.Errorf("%w: vehicle not allowed", ErrValidation)
	ErrInvalidDate         = fmt.Errorf("%w: date is missing or invalid", ErrValidation)
	ErrInvalidStart        = fmt.Errorf("%w: start time is missing or invalid", ErrValidation)
	ErrInvalidEnd          = fmt.Errorf("%w: end time is invalid", ErrValidation)
	ErrEndRequired         = fmt.Errorf("%w: end time is required for a finalized protocol", ErrValidation)
	ErrNonPositiveDuration = fmt.Errorf("%w: duration must be positive", ErrValidation)
	ErrInvalidStatus       = fmt.Errorf("%w: unknown status", ErrValidation)
	ErrInvalidLink         = fmt.Errorf("%w: link must be an absolute http(s) URL", ErrValidation)

	// ErrNotOpen is returned by Finalize on a protocol that is already closed.
	ErrNotOpen = fmt.Errorf("%w: protocol is not open", ErrConflict)
	// ErrReopen is returned when an update tries to move a closed protocol back to OPEN.
	ErrReopen = fmt.Errorf("%w: closed protocols cannot be reopened", ErrConflict)
	// ErrInvalidTransition is returned when an update tries to change status.
	ErrInvalidTransition = fmt.Errorf("%w: status changes go through finalize", ErrConflict)
	// ErrConcurrentWrite indicates the protocol changed between read and write.
	ErrConcurrentWrite = fmt.Errorf("%w: protocol modified concurrently", ErrConflict)
)
