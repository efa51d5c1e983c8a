package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidState Kind = "invalid_state"
	KindValidation   Kind = "validation"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

// Error is the typed failure returned by every lifecycle operation. It carries
// the entity and id involved and, for rejected transitions, the current and
// requested states.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	From    string
	To      string
	Message string
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrInvalidState:
		return e.Kind == KindInvalidState
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: entity + " not found"}
}

func Unauthorized(entity, id, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Entity: entity, ID: id, Message: msg}
}

func InvalidState(entity, id, msg string) *Error {
	return &Error{Kind: KindInvalidState, Entity: entity, ID: id, Message: msg}
}

func InvalidTransition(entity, id, from, to string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Entity:  entity,
		ID:      id,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("invalid %s transition %s -> %s", entity, from, to),
	}
}

func Validation(entity, msg string) *Error {
	return &Error{Kind: KindValidation, Entity: entity, Message: msg}
}

// KindOf reports the kind of a typed failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
