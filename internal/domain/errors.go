package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTokenInvalid           = errors.New("approval token invalid")
	ErrTokenExpired           = errors.New("approval token expired")
	ErrTokenAlreadyConsumed   = errors.New("request already processed")
	ErrRequestAlreadyPending  = errors.New("a request is already pending")
	ErrDuplicateSubmission    = errors.New("duplicate submission")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateOwnerBinding  = errors.New("owner already holds a personal code of this kind")
	ErrStaleRequest           = errors.New("request no longer matches the user's current assignment")
	ErrEmailTaken             = errors.New("email already registered")
)
