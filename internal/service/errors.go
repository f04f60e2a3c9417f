package service

import "errors"

// Kind classifies registry failures. Transports map kinds to their own codes.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAliasConflict
	KindDuplicateOriginalURL
	KindGenerationExhausted
	KindExpired
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAliasConflict:
		return "alias_conflict"
	case KindDuplicateOriginalURL:
		return "duplicate_original_url"
	case KindGenerationExhausted:
		return "generation_exhausted"
	case KindExpired:
		return "expired"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error is the structured failure returned by every Shortener operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound, Message: "link not found"}
	ErrAliasConflict        = &Error{Kind: KindAliasConflict, Message: "alias already exists"}
	ErrDuplicateOriginalURL = &Error{Kind: KindDuplicateOriginalURL, Message: "original url already shortened"}
	ErrGenerationExhausted  = &Error{Kind: KindGenerationExhausted, Message: "could not generate a unique short code"}
	ErrExpired              = &Error{Kind: KindExpired, Message: "link has expired"}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// KindOf returns the kind of err, or KindInternal for errors that did not
// originate from the registry.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}
