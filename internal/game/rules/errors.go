package rules

import (
	"errors"
	"fmt"
)

// Validation error codes returned to clients alongside the reason string.
const (
	CodeGameNotActive      = "GAME_NOT_ACTIVE"
	CodeIllegalAction      = "ILLEGAL_ACTION"
	CodeUnknownPlayer      = "UNKNOWN_PLAYER"
	CodeAlreadyReady       = "ALREADY_READY"
	CodeNotRequired        = "NOT_REQUIRED"
	CodeUnknownDefinition  = "UNKNOWN_DEFINITION"
	CodeWrongFaction       = "WRONG_FACTION"
	CodeMaxShips           = "MAX_SHIPS_REACHED"
	CodeMissingComponents  = "MISSING_COMPONENTS"
	CodeInsufficientLines  = "INSUFFICIENT_LINES"
	CodeInvalidUnit        = "INVALID_UNIT"
	CodeInvalidPower       = "INVALID_POWER"
	CodeInvalidTarget      = "INVALID_TARGET"
	CodeInsufficientCharge = "INSUFFICIENT_CHARGES"
	CodeWindowClosed       = "WINDOW_CLOSED"
	CodeAlreadySubmitted   = "ALREADY_SUBMITTED"
	CodeNoDrawOffer        = "NO_DRAW_OFFER"
	CodeStaleVersion       = "STALE_VERSION"
	CodeMalformedAction    = "MALFORMED_ACTION"
)

// ValidationError rejects an action without changing game state. The submitting
// client receives the reason; the game continues.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid action (%s): %s", e.Code, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// FatalGameError is returned for any action submitted to a completed game.
type FatalGameError struct {
	GameID string
	Reason string
}

func (e *FatalGameError) Error() string {
	return fmt.Sprintf("game %s: %s", e.GameID, e.Reason)
}

// IntegrityWarning describes a power definition that could not be turned into an
// effect. It is logged for content authors and never surfaced to players.
type IntegrityWarning struct {
	GameID       string
	DefinitionID string
	PowerID      string
	Reason       string
}

func (w IntegrityWarning) Error() string {
	return fmt.Sprintf("unresolvable power %s on %s: %s", w.PowerID, w.DefinitionID, w.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsFatalGameError reports whether err is (or wraps) a FatalGameError.
func IsFatalGameError(err error) bool {
	var target *FatalGameError
	return errors.As(err, &target)
}
