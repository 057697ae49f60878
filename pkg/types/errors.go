package types

import (
	"errors"
)

// Error taxonomy. Callers wrap these with context using fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrDuplicateVote          = errors.New("duplicate vote")
	ErrClosed                 = errors.New("poll closed")
	ErrPersistenceTimeout     = errors.New("persistence timeout")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// Code maps err to the short code sent to clients in error events.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrPersistenceTimeout):
		return "persistence_timeout"
	case errors.Is(err, ErrPersistenceUnavailable):
		return "persistence_unavailable"
	default:
		return "internal"
	}
}

// IsDomain reports whether err is a client-caused domain error, as opposed to
// a persistence or internal failure.
func IsDomain(err error) bool {
	switch Code(err) {
	case "validation_error", "not_found", "forbidden", "duplicate_vote", "closed":
		return true
	}
	return false
}
