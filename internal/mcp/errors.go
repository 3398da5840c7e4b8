package mcp

import (
	"errors"
	"fmt"

	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
)

// APIError is the error reported to MCP clients.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.RecoveryHint == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.RecoveryHint)
}

// MapError maps domain errors to MCP error codes. Unknown errors pass through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, protocol.ErrNotFound):
		return &APIError{Code: "PROTOCOL_NOT_FOUND", Message: err.Error(), RecoveryHint: "Check the id with list_protocols"}
	case errors.Is(err, protocol.ErrNotOpen):
		return &APIError{Code: "NOT_OPEN", Message: err.Error(), RecoveryHint: "Only OPEN protocols can be finalized"}
	case errors.Is(err, protocol.ErrConcurrentWrite):
		return &APIError{Code: "CONFLICT", Message: err.Error(), RecoveryHint: "Fetch the protocol again and retry"}
	case errors.Is(err, protocol.ErrConflict):
		return &APIError{Code: "CONFLICT", Message: err.Error()}
	case errors.Is(err, protocol.ErrEndRequired), errors.Is(err, protocol.ErrNonPositiveDuration):
		return &APIError{Code: "INVALID_TIMING", Message: err.Error(), RecoveryHint: "FINALIZED needs an end time different from the start"}
	case errors.Is(err, protocol.ErrValidation), errors.Is(err, audit.ErrInvalidInput):
		return &APIError{Code: "INVALID_INPUT", Message: err.Error()}
	default:
		return err
	}
}
