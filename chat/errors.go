package chat

import "fmt"

// Kind classifies a failure for the caller; the transport layer maps kinds to
// response statuses.
type Kind int

const (
	// KindValidation: malformed or missing input.
	KindValidation Kind = iota + 1
	// KindNotFound: a referenced entity is absent.
	KindNotFound
	// KindForbidden: the actor lacks rights over the entity.
	KindForbidden
	// KindConflict: duplicate request, already resolved, already friends.
	KindConflict
	// KindInternal: storage or transport failure. Details are logged, never
	// surfaced to the client.
	KindInternal
)

// Error is a typed failure surfaced by the chat services.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: err.Error()}
}
