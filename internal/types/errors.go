package types

import (
	"context"
	"errors"

	"github.com/agentarena/battle-backend/internal/auth"
	"github.com/agentarena/battle-backend/internal/challenge"
	"github.com/agentarena/battle-backend/internal/engine"
	"github.com/agentarena/battle-backend/internal/hub"
	"github.com/agentarena/battle-backend/internal/tournament"
)

// Stable error codes surfaced to clients. Transient codes (timeout,
// connection_error) signal the client may retry; terminal ones may not.
const (
	CodeValidation         = "validation_error"
	CodeNotFound           = "not_found"
	CodeConflict           = "conflict"
	CodeInvalidState       = "invalid_state"
	CodeRoundClosed        = "round_closed"
	CodeTimeout            = "timeout"
	CodeConnection         = "connection_error"
	CodeRegistrationClosed = "registration_closed"
	CodeUnauthenticated    = "unauthenticated"
	CodeInternal           = "internal_error"
)

// ErrorCode maps a domain error to its stable wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidSettings):
		return CodeValidation
	case errors.Is(err, engine.ErrAlreadySubmitted),
		errors.Is(err, tournament.ErrAlreadyJoined),
		errors.Is(err, tournament.ErrAdvanceInProgress):
		return CodeConflict
	case errors.Is(err, engine.ErrRoundClosed), errors.Is(err, engine.ErrNoOpenRound):
		return CodeRoundClosed
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrParticipantInactive),
		errors.Is(err, engine.ErrRoundInProgress),
		errors.Is(err, tournament.ErrCompleted):
		return CodeInvalidState
	case errors.Is(err, hub.ErrNotFound),
		errors.Is(err, tournament.ErrNotFound),
		errors.Is(err, engine.ErrNotParticipant):
		return CodeNotFound
	case errors.Is(err, tournament.ErrRegistrationClosed):
		return CodeRegistrationClosed
	case errors.Is(err, challenge.ErrProviderTimeout):
		return CodeTimeout
	case errors.Is(err, auth.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, context.Canceled):
		// The connection is going away; the command was abandoned, not refused.
		return CodeConnection
	default:
		return CodeInternal
	}
}
