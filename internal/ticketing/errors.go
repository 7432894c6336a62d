package ticketing

import "errors"

var (
	ErrServiceClosed         = errors.New("service is closed")
	ErrDuplicateActiveTicket = errors.New("user already has an active ticket for this service")
	ErrInvalidStateForCancel = errors.New("only waiting tickets can be canceled")
	ErrInvalidState          = errors.New("ticket is not in a valid state for this action")
	ErrNotTicketOwner        = errors.New("ticket belongs to another user")
	ErrInvalidPriority       = errors.New("invalid priority")
)
