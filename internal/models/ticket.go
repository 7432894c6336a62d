package models

import "time"

type Ticket struct {
	TicketID      string     `json:"id"`
	UserID        *string    `json:"user_id,omitempty"`
	ServiceID     string     `json:"service_id"`
	Number        string     `json:"number"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	Position      *int       `json:"position"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	AbsentAt      *time.Time `json:"absent_at,omitempty"`
	LastDistanceM *int       `json:"last_distance_m,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	StatusWaiting  = "waiting"
	StatusCalled   = "called"
	StatusAbsent   = "absent"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityVIP    = "vip"
)

// ActiveStatuses are the statuses that count towards the one-ticket-per-user-per-service rule.
var ActiveStatuses = []string{StatusWaiting, StatusCalled, StatusAbsent}

func IsActive(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusAbsent:
		return true
	default:
		return false
	}
}

// PriorityRank orders priorities for calling and positioning: vip > high > normal.
// Unknown values rank as normal.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityVIP:
		return 3
	case PriorityHigh:
		return 2
	default:
		return 1
	}
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityNormal, PriorityHigh, PriorityVIP:
		return true
	default:
		return false
	}
}

func (t Ticket) OwnedBy(userID string) bool {
	return t.UserID != nil && userID != "" && *t.UserID == userID
}

// TicketDetail is a ticket joined with its service and establishment.
type TicketDetail struct {
	Ticket        Ticket        `json:"ticket"`
	Service       Service       `json:"service"`
	Establishment Establishment `json:"establishment"`
}

// ETAMinutes estimates the wait as position * average service time. Nil when the
// ticket is not waiting.
func (d TicketDetail) ETAMinutes() *int {
	if d.Ticket.Position == nil || d.Service.AvgServiceTimeMinutes <= 0 {
		return nil
	}
	eta := *d.Ticket.Position * d.Service.AvgServiceTimeMinutes
	if eta < 0 {
		eta = 0
	}
	return &eta
}
