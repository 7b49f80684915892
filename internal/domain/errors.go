package domain

import "errors"

var (
	// ErrInvalidArgument indicates a malformed or out-of-range request value.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidReference indicates a referenced foreign id does not exist.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrNotFound indicates the primary entity id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuthFailure indicates a missing, invalid, or expired credential.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrIntegrity indicates a verified credential whose user is absent from
	// storage. It signals a cross-system inconsistency, not a user error.
	ErrIntegrity = errors.New("integrity error")
)
