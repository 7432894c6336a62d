package ticketing

import (
	"context"
	"fmt"
	"sort"

	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/notify"
	"github.com/stephdeve/SmartQueue/internal/store"
)

// SortWaiting orders tickets by priority rank desc, created_at asc, id asc.
func SortWaiting(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if ra, rb := models.PriorityRank(a.Priority), models.PriorityRank(b.Priority); ra != rb {
			return ra > rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})
}

type PositionChange struct {
	Ticket   models.Ticket
	Previous *int
	Position int
}

// AssignPositions numbers the waiting set 1..N and returns only the tickets
// whose stored position differs.
func AssignPositions(waiting []models.Ticket) []PositionChange {
	ordered := make([]models.Ticket, len(waiting))
	copy(ordered, waiting)
	SortWaiting(ordered)

	var changes []PositionChange
	for i, ticket := range ordered {
		position := i + 1
		if ticket.Position != nil && *ticket.Position == position {
			continue
		}
		changes = append(changes, PositionChange{Ticket: ticket, Previous: ticket.Position, Position: position})
	}
	return changes
}

// PositionAllocator rewrites the dense positions of a service's waiting set.
type PositionAllocator struct {
	// ApproachingPosition triggers a push when a ticket moves down to it.
	// Zero disables the notification.
	ApproachingPosition int
}

// Recompute must run inside the transaction holding the service row lock.
// It returns the number of waiting tickets.
func (a PositionAllocator) Recompute(ctx context.Context, tx store.Tx, service models.Service, box *outbox) (int, error) {
	waiting, err := tx.ListWaiting(ctx, service.ServiceID)
	if err != nil {
		return 0, fmt.Errorf("list waiting: %w", err)
	}
	for _, change := range AssignPositions(waiting) {
		if err := tx.UpdatePosition(ctx, change.Ticket.TicketID, change.Position); err != nil {
			return 0, fmt.Errorf("update position: %w", err)
		}
		box.emit(events.NewTicketUpdated(change.Ticket.TicketID, map[string]interface{}{"position": change.Position}, box.now))
		if a.approaching(change) {
			box.dispatch(notify.Push(*change.Ticket.UserID,
				"Your turn is coming",
				notify.Render("Ticket {number} is now number {position} in line.", map[string]interface{}{
					"number":   change.Ticket.Number,
					"position": fmt.Sprint(change.Position),
				}),
				map[string]interface{}{"type": notify.TypeApproaching, "ticket_id": change.Ticket.TicketID},
			))
		}
	}
	box.emit(events.NewServiceStatsUpdated(service.ServiceID, len(waiting), service.AvgServiceTimeMinutes, box.now))
	return len(waiting), nil
}

func (a PositionAllocator) approaching(change PositionChange) bool {
	if a.ApproachingPosition <= 0 || change.Position != a.ApproachingPosition || change.Ticket.UserID == nil {
		return false
	}
	return change.Previous != nil && *change.Previous > change.Position
}
