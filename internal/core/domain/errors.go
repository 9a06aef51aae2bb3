package domain

import (
	"errors"

	apperrors "roomrelay/pkg/errors"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")

	ErrNotAuthorized   = errors.New("not authorized for this room")
	ErrInvalidPassword = errors.New("invalid password")

	ErrTargetUnreachable   = errors.New("target user is not connected")
	ErrAdminUnresolved     = errors.New("room admin is not connected")
	ErrRequesterUnresolved = errors.New("requester is no longer connected")
	ErrConnectionRequired  = errors.New("a live connection is required")
	ErrNotConnected        = errors.New("user is not connected")

	ErrNoPendingRequest = errors.New("no pending join request")
	ErrRequestExpired   = errors.New("join request expired")
	ErrRoomInactive     = errors.New("room is not active")
	ErrNotRoomMember    = errors.New("sender is not a member of the room")
	ErrChatDisabled     = errors.New("chat is disabled for this room")

	ErrValidation       = errors.New("validation failed")
	ErrPasswordRequired = errors.New("password is required")
	ErrInvalidInvite    = errors.New("invalid invite link")
	ErrCannotKickAdmin  = errors.New("the room admin cannot be kicked")
	ErrUnknownEvent     = errors.New("unknown event type")
	ErrInvalidMessage   = errors.New("malformed message")

	ErrRateLimited = errors.New("rate limit exceeded")

	ErrPersistence = errors.New("room store operation failed")
	// ErrReconciliation marks a membership change that was broadcast but
	// not durably committed.
	ErrReconciliation = errors.New("membership change broadcast but not persisted")
)

type classification struct {
	target error
	build  func(msg string) *apperrors.AppError
}

var classifications = []classification{
	{ErrRoomNotFound, func(m string) *apperrors.AppError { return apperrors.NewAppError(apperrors.ErrCodeNotFound, m, 404) }},
	{ErrRoomExists, apperrors.NewConflictError},

	{ErrNotAuthorized, apperrors.NewForbiddenError},
	{ErrInvalidPassword, apperrors.NewUnauthorizedError},

	{ErrTargetUnreachable, apperrors.NewUnreachableError},
	{ErrAdminUnresolved, apperrors.NewUnreachableError},
	{ErrRequesterUnresolved, apperrors.NewUnreachableError},
	{ErrConnectionRequired, apperrors.NewUnreachableError},
	{ErrNotConnected, apperrors.NewUnreachableError},

	{ErrNoPendingRequest, apperrors.NewInvalidStateError},
	{ErrRequestExpired, apperrors.NewInvalidStateError},
	{ErrNotRoomMember, apperrors.NewInvalidStateError},
	{ErrChatDisabled, apperrors.NewInvalidStateError},
	{ErrRoomInactive, func(m string) *apperrors.AppError { return apperrors.NewAppError(apperrors.ErrCodeInvalidState, m, 403) }},

	{ErrPasswordRequired, apperrors.NewInvalidInputError},
	{ErrInvalidInvite, apperrors.NewInvalidInputError},
	{ErrCannotKickAdmin, apperrors.NewInvalidInputError},
	{ErrUnknownEvent, apperrors.NewInvalidInputError},
	{ErrInvalidMessage, apperrors.NewInvalidInputError},
	{ErrValidation, apperrors.NewInvalidInputError},

	{ErrRateLimited, func(m string) *apperrors.AppError { return apperrors.NewAppError(apperrors.ErrCodeRateLimit, m, 429) }},
}

// Classify maps err onto the application error taxonomy. Errors that are
// already AppErrors pass through; unknown errors become INTERNAL_ERROR.
func Classify(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	if errors.Is(err, ErrPersistence) {
		appErr := apperrors.NewPersistenceError(err, err.Error())
		if errors.Is(err, ErrReconciliation) {
			appErr.WithContext("reconcile", true)
		}
		return appErr
	}
	for _, c := range classifications {
		if errors.Is(err, c.target) {
			return c.build(err.Error())
		}
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "internal error", 500)
}
