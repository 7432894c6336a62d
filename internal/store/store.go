package store

import (
	"context"
	"time"

	"github.com/stephdeve/SmartQueue/internal/models"
)

// Store is the persistence boundary of the ticket engine. Every mutation runs
// through WithinTx; the callback's Tx is only valid until it returns.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	GetTicketDetail(ctx context.Context, ticketID string) (models.TicketDetail, error)
	ListUserTickets(ctx context.Context, filter UserTicketFilter) ([]models.TicketDetail, error)
	RegisterDevice(ctx context.Context, device models.Device) (models.Device, error)
}

// Tx exposes the reads and writes the engine performs inside one transaction.
// Lock* methods take row locks that are held until commit or rollback.
type Tx interface {
	LockService(ctx context.Context, serviceID string) (models.Service, error)
	SetServiceStatus(ctx context.Context, serviceID, status string) error
	GetEstablishment(ctx context.Context, establishmentID string) (models.Establishment, error)
	GetContact(ctx context.Context, userID string) (models.Contact, error)

	HasActiveTicket(ctx context.Context, userID, serviceID string) (bool, error)
	// ListDayNumbers returns every ticket number of the service whose number
	// carries the given YYYYMMDD day suffix.
	ListDayNumbers(ctx context.Context, serviceID, day string) ([]string, error)
	CountWaiting(ctx context.Context, serviceID string) (int, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) error

	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	LockTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	// LockNextWaiting locks the waiting ticket with the highest priority rank,
	// oldest first, skipping rows locked by other transactions.
	LockNextWaiting(ctx context.Context, serviceID string) (models.Ticket, bool, error)
	UpdateTicket(ctx context.Context, ticket models.Ticket) error

	// ListWaiting returns the waiting set ordered by priority rank desc,
	// created_at asc, id asc.
	ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error)
	UpdatePosition(ctx context.Context, ticketID string, position int) error
}

type UserTicketFilter struct {
	UserID   string
	Statuses []string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
