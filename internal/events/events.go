// Package events defines the change notifications the ticket engine emits after
// each committed transition and the emitters that carry them to consumers.
package events

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	TicketUpdated         = "ticket.updated"
	TicketCalled          = "ticket.called"
	ServiceTicketEnqueued = "service.ticket.enqueued"
	ServiceTicketCalled   = "service.ticket.called"
	ServiceTicketAbsent   = "service.ticket.absent"
	ServiceStatsUpdated   = "service.stats.updated"
)

const (
	ticketChannelPrefix  = "private-ticket."
	serviceChannelPrefix = "presence-service."
)

type Scope string

const (
	ScopeTicket  Scope = "ticket"
	ScopeService Scope = "service"
)

type Event struct {
	Name       string                 `json:"event"`
	Channel    string                 `json:"channel"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Emitter publishes events. Implementations must not block on slow consumers
// for longer than the caller's context allows.
type Emitter interface {
	Publish(ctx context.Context, event Event) error
}

type EmitterFunc func(ctx context.Context, event Event) error

func (f EmitterFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, Event) error { return nil })

// Fanout publishes to every emitter and joins their errors.
type Fanout []Emitter

func (f Fanout) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, emitter := range f {
		if emitter == nil {
			continue
		}
		if err := emitter.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func TicketChannel(ticketID string) string {
	return ticketChannelPrefix + ticketID
}

func ServiceChannel(serviceID string) string {
	return serviceChannelPrefix + serviceID
}

// ParseChannel splits a channel name into its scope and resource id.
func ParseChannel(channel string) (Scope, string, bool) {
	switch {
	case strings.HasPrefix(channel, ticketChannelPrefix):
		id := strings.TrimPrefix(channel, ticketChannelPrefix)
		return ScopeTicket, id, id != ""
	case strings.HasPrefix(channel, serviceChannelPrefix):
		id := strings.TrimPrefix(channel, serviceChannelPrefix)
		return ScopeService, id, id != ""
	default:
		return "", "", false
	}
}

func NewTicketUpdated(ticketID string, fields map[string]interface{}, at time.Time) Event {
	return Event{Name: TicketUpdated, Channel: TicketChannel(ticketID), Payload: fields, OccurredAt: at}
}

func NewTicketCalled(ticketID, number string, at time.Time) Event {
	return Event{
		Name:       TicketCalled,
		Channel:    TicketChannel(ticketID),
		Payload:    map[string]interface{}{"number": number},
		OccurredAt: at,
	}
}

func NewServiceTicketEnqueued(serviceID, ticketID, number, priority string, at time.Time) Event {
	return Event{
		Name:    ServiceTicketEnqueued,
		Channel: ServiceChannel(serviceID),
		Payload: map[string]interface{}{
			"ticket": map[string]interface{}{
				"id":       ticketID,
				"number":   number,
				"priority": priority,
			},
		},
		OccurredAt: at,
	}
}

func NewServiceTicketCalled(serviceID, ticketID, number string, at time.Time) Event {
	return serviceTicketEvent(ServiceTicketCalled, serviceID, ticketID, number, at)
}

func NewServiceTicketAbsent(serviceID, ticketID, number string, at time.Time) Event {
	return serviceTicketEvent(ServiceTicketAbsent, serviceID, ticketID, number, at)
}

func NewServiceStatsUpdated(serviceID string, people, etaAvg int, at time.Time) Event {
	return Event{
		Name:       ServiceStatsUpdated,
		Channel:    ServiceChannel(serviceID),
		Payload:    map[string]interface{}{"people": people, "eta_avg": etaAvg},
		OccurredAt: at,
	}
}

func serviceTicketEvent(name, serviceID, ticketID, number string, at time.Time) Event {
	return Event{
		Name:    name,
		Channel: ServiceChannel(serviceID),
		Payload: map[string]interface{}{
			"ticket": map[string]interface{}{
				"id":     ticketID,
				"number": number,
			},
		},
		OccurredAt: at,
	}
}
