package apperrors

import "errors"

// Kind groups reason codes by how callers are expected to react.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindStateConflict     Kind = "state_conflict"
	KindConflictExhausted Kind = "conflict_exhausted"
	KindStorage           Kind = "storage"
)

// Code 是穩定的錯誤代碼，回傳給呼叫端
type Code string

const (
	CodeInvalidInput           Code = "INVALID_INPUT"
	CodeInvalidID              Code = "INVALID_ID"
	CodeUserIDRequired         Code = "USER_ID_REQUIRED"
	CodeEventIDRequired        Code = "EVENT_ID_REQUIRED"
	CodeEventNotFound          Code = "EVENT_NOT_FOUND"
	CodeAttendeeNotFound       Code = "ATTENDEE_NOT_FOUND"
	CodeEventNotOpen           Code = "EVENT_NOT_OPEN"
	CodeEventFull              Code = "EVENT_FULL"
	CodeAlreadyRegistered      Code = "ALREADY_REGISTERED"
	CodeAttendeeCanceled       Code = "ATTENDEE_CANCELED"
	CodeCapacityBelowAttendees Code = "CAPACITY_BELOW_ATTENDEES"
	CodeInvalidTransition      Code = "INVALID_STATUS_TRANSITION"
	CodeConflictExhausted      Code = "CONFLICT_EXHAUSTED"
	CodeCounterInvariant       Code = "COUNTER_INVARIANT"
	CodeStorageFailure         Code = "STORAGE_FAILURE"
)

var messages = map[Code]string{
	CodeInvalidInput:           "invalid input",
	CodeInvalidID:              "invalid identifier",
	CodeUserIDRequired:         "userId is required",
	CodeEventIDRequired:        "eventId is required",
	CodeEventNotFound:          "event not found",
	CodeAttendeeNotFound:       "attendee not found",
	CodeEventNotOpen:           "event is not open for registration",
	CodeEventFull:              "event is full",
	CodeAlreadyRegistered:      "user already registered",
	CodeAttendeeCanceled:       "attendee registration is canceled",
	CodeCapacityBelowAttendees: "capacity cannot be lower than the current attendees count",
	CodeInvalidTransition:      "status transition is not allowed",
	CodeConflictExhausted:      "too much contention, try again",
	CodeCounterInvariant:       "internal error",
	CodeStorageFailure:         "internal error",
}

// Kind maps a code to its error class. Unknown codes are storage failures.
func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidInput, CodeInvalidID, CodeUserIDRequired, CodeEventIDRequired:
		return KindValidation
	case CodeEventNotFound, CodeAttendeeNotFound:
		return KindNotFound
	case CodeEventNotOpen, CodeEventFull, CodeAlreadyRegistered, CodeAttendeeCanceled, CodeCapacityBelowAttendees, CodeInvalidTransition:
		return KindStateConflict
	case CodeConflictExhausted:
		return KindConflictExhausted
	default:
		return KindStorage
	}
}

// Message returns the human readable text for a code.
func (c Code) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CodeStorageFailure]
}

// Error carries a reason code. Message is always derived from Code, the
// underlying cause is kept for logs only.
type Error struct {
	Code    Code
	Message string
	Details []string
	cause   error
}

func New(code Code) *Error {
	return &Error{Code: code, Message: code.Message()}
}

func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: code.Message(), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so wrapped failures still
// compare equal to the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

var (
	ErrInvalidInput           = New(CodeInvalidInput)
	ErrInvalidID              = New(CodeInvalidID)
	ErrUserIDRequired         = New(CodeUserIDRequired)
	ErrEventIDRequired        = New(CodeEventIDRequired)
	ErrEventNotFound          = New(CodeEventNotFound)
	ErrAttendeeNotFound       = New(CodeAttendeeNotFound)
	ErrEventNotOpen           = New(CodeEventNotOpen)
	ErrEventFull              = New(CodeEventFull)
	ErrAlreadyRegistered      = New(CodeAlreadyRegistered)
	ErrAttendeeCanceled       = New(CodeAttendeeCanceled)
	ErrCapacityBelowAttendees = New(CodeCapacityBelowAttendees)
	ErrInvalidTransition      = New(CodeInvalidTransition)
	ErrConflictExhausted      = New(CodeConflictExhausted)
	ErrCounterInvariant       = New(CodeCounterInvariant)
	ErrStorage                = New(CodeStorageFailure)
)

// Validation builds an INVALID_INPUT error listing every failed field.
func Validation(details ...string) *Error {
	e := New(CodeInvalidInput)
	e.Details = details
	return e
}

// Storage hides a store failure behind an opaque STORAGE_FAILURE error.
func Storage(cause error) *Error {
	return Wrap(CodeStorageFailure, cause)
}

// ConflictExhausted reports that retries or the caller deadline ran out.
func ConflictExhausted(cause error) *Error {
	return Wrap(CodeConflictExhausted, cause)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports the class of err; anything that is not an *Error is
// treated as a storage failure.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind()
	}
	return KindStorage
}
