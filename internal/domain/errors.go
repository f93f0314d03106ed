package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no session matches a join code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned when the directory has no such account.
	ErrUserNotFound = errors.New("user not found")
	// ErrAnswerNotFound is returned when a participant has no recorded answer.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrQuestionNotFound indicates a question ID outside the session's set.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidInput is the base for validation failures; wrap with Invalidf.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotHost is returned when a non-host attempts a host-only operation.
	ErrNotHost = errors.New("host privilege required")
	// ErrNotParticipant is returned when a user acts on a session they never joined.
	ErrNotParticipant = errors.New("not a participant of this session")
	// ErrSessionStarted rejects operations that require a waiting session.
	ErrSessionStarted = errors.New("session already started")
	// ErrSessionEnded rejects operations on a finished session.
	ErrSessionEnded = errors.New("session has ended")
	// ErrSessionNotStarted rejects operations that require an active session.
	ErrSessionNotStarted = errors.New("session has not started")
	// ErrNoParticipants rejects starting an empty game.
	ErrNoParticipants = errors.New("session has no participants")
	// ErrQuestionAnswered rejects a second submission for the same question.
	ErrQuestionAnswered = errors.New("question already answered")
)

// StateConflict maps an observed session state to the conflict returned when
// an operation required a different state.
func StateConflict(current SessionState) error {
	switch current {
	case StateWaiting:
		return ErrSessionNotStarted
	case StateActive:
		return ErrSessionStarted
	default:
		return ErrSessionEnded
	}
}

// Invalidf builds a validation error carrying ErrInvalidInput.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// Kind buckets errors into the client-facing taxonomy.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
)

// KindOf classifies err. Anything unrecognized is internal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrQuestionNotFound):
		return KindValidation
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrNotParticipant):
		return KindAuthorization
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrAnswerNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionStarted), errors.Is(err, ErrSessionEnded),
		errors.Is(err, ErrSessionNotStarted), errors.Is(err, ErrNoParticipants),
		errors.Is(err, ErrQuestionAnswered):
		return KindConflict
	default:
		return KindInternal
	}
}

// Code returns the stable wire code for a kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}
