package models

import "errors"

// Error classes. Specific errors wrap one of these so callers can use errors.Is.
var (
	// ErrConfiguration marks a malformed control or pool definition. Never recovered.
	ErrConfiguration = errors.New("configuration error")
	// ErrRemoteStore marks a failed call to the remote store. The caller owns retries.
	ErrRemoteStore = errors.New("remote store error")
	// ErrDataInconsistency marks data that contradicts the known pool state.
	ErrDataInconsistency = errors.New("data inconsistency")
)
