package domain

import "errors"

// Kind classifies domain errors so callers can decide how to report them.
type Kind string

const (
	KindInternal      Kind = "internal"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindCapacity      Kind = "capacity"
	KindConflict      Kind = "conflict"
	KindExternal      Kind = "external"
	KindTimezone      Kind = "timezone"
)

// Error is a classified domain error. Sentinels below are compared with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrTitleRequired       = newError(KindValidation, "title is required")
	ErrDescriptionRequired = newError(KindValidation, "description is required")
	ErrDateRequired        = newError(KindValidation, "date is required")
	ErrTimeRequired        = newError(KindValidation, "time is required")
	ErrInvalidDuration     = newError(KindValidation, "duration must be a positive number of hours")
	ErrInvalidSlots        = newError(KindValidation, "slots must be a non-negative whole number")
	ErrInvalidRecurrence   = newError(KindValidation, "recurrence must be a positive number of days")
	ErrUnparseableDate     = newError(KindValidation, "could not understand the date")
	ErrUnparseableTime     = newError(KindValidation, "could not understand the time")
	ErrEventInPast         = newError(KindValidation, "event must start in the future")
	ErrCharacterRequired   = newError(KindValidation, "an approved character is required to sign up for this event")
	ErrInvalidID           = newError(KindValidation, "invalid id")
	ErrInvalidPolicy       = newError(KindValidation, "invalid guild policy")

	ErrEventNotFound     = newError(KindNotFound, "event not found")
	ErrPostNotFound      = newError(KindNotFound, "announcement post not found")
	ErrCharacterNotFound = newError(KindNotFound, "character not found")
	ErrPolicyNotFound    = newError(KindNotFound, "guild policy not found")
	ErrProfileNotFound   = newError(KindNotFound, "user profile not found")

	ErrNotAuthorized = newError(KindAuthorization, "you are not allowed to do that for this event")

	ErrEventFull = newError(KindCapacity, "event is full")

	ErrVersionConflict = newError(KindConflict, "event was changed by someone else, please try again")

	ErrInsufficientPermissions = newError(KindExternal, "bot is missing the manage channels/manage roles permissions")
	ErrChannelUnavailable      = newError(KindExternal, "channel could not be reached")

	ErrTimezoneRequired = newError(KindTimezone, "set your timezone first, e.g. America/New_York or Europe/Berlin")
	ErrUnknownTimezone  = newError(KindTimezone, "unknown timezone, try a value such as America/New_York, Europe/London or Asia/Tokyo")
)

// KindOf returns the classification of err, KindInternal when it carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
