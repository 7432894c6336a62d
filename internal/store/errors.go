package store

import "errors"

var (
	ErrServiceNotFound       = errors.New("service not found")
	ErrEstablishmentNotFound = errors.New("establishment not found")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrUserNotFound          = errors.New("user not found")
	// ErrConflict marks a transaction that lost a race (serialization failure,
	// deadlock, unique violation). The whole operation may be retried.
	ErrConflict = errors.New("transaction conflict")
)
