// Package ticketing implements the ticket lifecycle: numbering, positioning
// and the state transitions agents and users drive through the API.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/notify"
	"github.com/stephdeve/SmartQueue/internal/store"
)

const tracerName = "github.com/stephdeve/SmartQueue/internal/ticketing"

type Options struct {
	Clock               Clock
	Location            *time.Location
	ApproachingPosition int
	Logger              zerolog.Logger
	Tracer              trace.Tracer
}

type Engine struct {
	store      store.Store
	emitter    events.Emitter
	dispatcher notify.Dispatcher
	clock      Clock
	numbers    NumberGenerator
	positions  PositionAllocator
	log        zerolog.Logger
	tracer     trace.Tracer
}

func New(st store.Store, emitter events.Emitter, dispatcher notify.Dispatcher, opts Options) *Engine {
	if emitter == nil {
		emitter = events.Discard
	}
	if dispatcher == nil {
		dispatcher = notify.Discard
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Engine{
		store:      st,
		emitter:    emitter,
		dispatcher: dispatcher,
		clock:      clock,
		numbers:    NumberGenerator{Location: opts.Location},
		positions:  PositionAllocator{ApproachingPosition: opts.ApproachingPosition},
		log:        opts.Logger,
		tracer:     tracer,
	}
}

type CreateTicketInput struct {
	UserID    string
	ServiceID string
	Lat       *float64
	Lng       *float64
}

func (e *Engine) CreateTicket(ctx context.Context, input CreateTicketInput) (detail models.TicketDetail, err error) {
	ctx, span := e.tracer.Start(ctx, "ticketing.CreateTicket", trace.WithAttributes(attribute.String("service.id", input.ServiceID)))
	defer func() { endSpan(span, err) }()

	var box *outbox
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		box = newOutbox(e.clock.Now())
		service, err := tx.LockService(ctx, input.ServiceID)
		if err != nil {
			return err
		}
		if !service.IsOpen() {
			return ErrServiceClosed
		}
		if input.UserID != "" {
			exists, err := tx.HasActiveTicket(ctx, input.UserID, service.ServiceID)
			if err != nil {
				return fmt.Errorf("check active ticket: %w", err)
			}
			if exists {
				return ErrDuplicateActiveTicket
			}
		}
		establishment, err := tx.GetEstablishment(ctx, service.EstablishmentID)
		if err != nil && !errors.Is(err, store.ErrEstablishmentNotFound) {
			return fmt.Errorf("load establishment: %w", err)
		}

		number, err := e.numbers.Next(ctx, tx, service, box.now)
		if err != nil {
			return err
		}
		waiting, err := tx.CountWaiting(ctx, service.ServiceID)
		if err != nil {
			return fmt.Errorf("count waiting: %w", err)
		}
		position := waiting + 1
		now := box.now
		ticket := models.Ticket{
			TicketID:      uuid.NewString(),
			ServiceID:     service.ServiceID,
			Number:        number,
			Status:        models.StatusWaiting,
			Priority:      models.PriorityNormal,
			Position:      &position,
			LastDistanceM: DistanceMeters(input.Lat, input.Lng, establishment.Lat, establishment.Lng),
			LastSeenAt:    &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if input.UserID != "" {
			userID := input.UserID
			ticket.UserID = &userID
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		box.emit(events.NewTicketUpdated(ticket.TicketID, map[string]interface{}{
			"status":   ticket.Status,
			"position": position,
		}, now))
		box.emit(events.NewServiceTicketEnqueued(service.ServiceID, ticket.TicketID, ticket.Number, ticket.Priority, now))

		if _, err := e.positions.Recompute(ctx, tx, service, box); err != nil {
			return err
		}
		ticket, err = tx.GetTicket(ctx, ticket.TicketID)
		if err != nil {
			return err
		}
		detail = models.TicketDetail{Ticket: ticket, Service: service, Establishment: establishment}
		return nil
	})
	if err != nil {
		return models.TicketDetail{}, err
	}
	span.SetAttributes(attribute.String("ticket.id", detail.Ticket.TicketID))
	e.release(ctx, box)
	return detail, nil
}

// CallNext calls the best waiting ticket of the service. found is false when
// nothing is waiting.
func (e *Engine) CallNext(ctx context.Context, serviceID string) (ticket models.Ticket, found bool, err error) {
	ctx, span := e.tracer.Start(ctx, "ticketing.CallNext", trace.WithAttributes(attribute.String("service.id", serviceID)))
	defer func() { endSpan(span, err) }()

	var box *outbox
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		box = newOutbox(e.clock.Now())
		service, err := tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		next, ok, err := tx.LockNextWaiting(ctx, service.ServiceID)
		if err != nil {
			return fmt.Errorf("lock next waiting: %w", err)
		}
		if !ok {
			found = false
			return nil
		}
		now := box.now
		next.Status = models.StatusCalled
		next.CalledAt = &now
		next.Position = nil
		next.UpdatedAt = now
		if err := tx.UpdateTicket(ctx, next); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		box.emit(events.NewTicketCalled(next.TicketID, next.Number, now))
		box.emit(events.NewTicketUpdated(next.TicketID, map[string]interface{}{"status": next.Status}, now))
		box.emit(events.NewServiceTicketCalled(service.ServiceID, next.TicketID, next.Number, now))
		if err := e.announceCall(ctx, tx, next, service, notify.TypeCalled, box); err != nil {
			return err
		}
		if _, err := e.positions.Recompute(ctx, tx, service, box); err != nil {
			return err
		}
		ticket, found = next, true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		span.SetAttributes(attribute.String("ticket.id", ticket.TicketID))
	}
	e.release(ctx, box)
	return ticket, found, nil
}

func (e *Engine) MarkAbsent(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, "ticketing.MarkAbsent", ticketID, transitionRule{
		action:    store.ActionMarkAbsent,
		recompute: true,
		apply: func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error {
			now := box.now
			ticket.Status = models.StatusAbsent
			ticket.AbsentAt = &now
			box.emit(events.NewTicketUpdated(ticket.TicketID, map[string]interface{}{"status": ticket.Status}, now))
			box.emit(events.NewServiceTicketAbsent(service.ServiceID, ticket.TicketID, ticket.Number, now))
			phone, err := e.phoneOf(ctx, tx, ticket.UserID)
			if err != nil {
				return err
			}
			if phone != "" {
				box.dispatch(notify.SMS(phone,
					notify.Render("You missed your call for ticket {number} at {service}. Ask an agent to be recalled.", map[string]interface{}{
						"number":  ticket.Number,
						"service": service.Name,
					}),
					map[string]interface{}{"type": notify.TypeAbsent, "ticket_id": ticket.TicketID},
				))
			}
			return nil
		},
	})
}

// Cancel cancels a waiting ticket. A non-empty actorUserID must own it.
func (e *Engine) Cancel(ctx context.Context, ticketID, actorUserID string) (models.Ticket, error) {
	return e.transition(ctx, "ticketing.Cancel", ticketID, transitionRule{
		action:    store.ActionCancel,
		recompute: true,
		authorize: func(ticket models.Ticket) error {
			if actorUserID != "" && !ticket.OwnedBy(actorUserID) {
				return ErrNotTicketOwner
			}
			return nil
		},
		apply: func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error {
			ticket.Status = models.StatusCanceled
			ticket.Position = nil
			box.emit(events.NewTicketUpdated(ticket.TicketID, map[string]interface{}{"status": ticket.Status}, box.now))
			return nil
		},
	})
}

func (e *Engine) Recall(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, "ticketing.Recall", ticketID, transitionRule{
		action: store.ActionRecall,
		apply: func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error {
			now := box.now
			ticket.Status = models.StatusCalled
			ticket.CalledAt = &now
			box.emit(events.NewTicketCalled(ticket.TicketID, ticket.Number, now))
			box.emit(events.NewServiceTicketCalled(service.ServiceID, ticket.TicketID, ticket.Number, now))
			if ticket.UserID != nil {
				box.dispatch(callPush(*ticket, service, notify.TypeRecalled))
			}
			return nil
		},
	})
}

func (e *Engine) Complete(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.transition(ctx, "ticketing.Complete", ticketID, transitionRule{
		action: store.ActionComplete,
		apply: func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error {
			now := box.now
			ticket.Status = models.StatusClosed
			ticket.ClosedAt = &now
			box.emit(events.NewTicketUpdated(ticket.TicketID, map[string]interface{}{"status": ticket.Status}, now))
			return nil
		},
	})
}

func (e *Engine) Reprioritize(ctx context.Context, ticketID, priority string) (models.Ticket, error) {
	if !models.ValidPriority(priority) {
		return models.Ticket{}, ErrInvalidPriority
	}
	return e.transition(ctx, "ticketing.Reprioritize", ticketID, transitionRule{
		action:    store.ActionReprioritize,
		recompute: true,
		apply: func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error {
			ticket.Priority = priority
			box.emit(events.NewTicketUpdated(ticket.TicketID, map[string]interface{}{"priority": priority}, box.now))
			return nil
		},
	})
}

func (e *Engine) CloseService(ctx context.Context, serviceID string) (models.Service, error) {
	return e.setServiceStatus(ctx, "ticketing.CloseService", serviceID, models.ServiceClosed)
}

func (e *Engine) OpenService(ctx context.Context, serviceID string) (models.Service, error) {
	return e.setServiceStatus(ctx, "ticketing.OpenService", serviceID, models.ServiceOpen)
}

// RecomputePositions rewrites the waiting positions of a service on demand.
func (e *Engine) RecomputePositions(ctx context.Context, serviceID string) (err error) {
	ctx, span := e.tracer.Start(ctx, "ticketing.RecomputePositions", trace.WithAttributes(attribute.String("service.id", serviceID)))
	defer func() { endSpan(span, err) }()

	var box *outbox
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		box = newOutbox(e.clock.Now())
		service, err := tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		_, err = e.positions.Recompute(ctx, tx, service, box)
		return err
	})
	if err != nil {
		return err
	}
	e.release(ctx, box)
	return nil
}

type transitionRule struct {
	action    string
	recompute bool
	authorize func(ticket models.Ticket) error
	apply     func(ctx context.Context, tx store.Tx, service models.Service, ticket *models.Ticket, box *outbox) error
}

// transition locks service then ticket, checks the state machine and persists
// the ticket as modified by rule.apply.
func (e *Engine) transition(ctx context.Context, spanName, ticketID string, rule transitionRule) (result models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	var box *outbox
	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		box = newOutbox(e.clock.Now())
		peek, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		service, err := tx.LockService(ctx, peek.ServiceID)
		if err != nil {
			return err
		}
		ticket, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if rule.authorize != nil {
			if err := rule.authorize(ticket); err != nil {
				return err
			}
		}
		if !store.ValidTransition(rule.action, ticket.Status) {
			if rule.action == store.ActionCancel {
				return ErrInvalidStateForCancel
			}
			return ErrInvalidState
		}
		if err := rule.apply(ctx, tx, service, &ticket, box); err != nil {
			return err
		}
		ticket.UpdatedAt = box.now
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if rule.recompute {
			if _, err := e.positions.Recompute(ctx, tx, service, box); err != nil {
				return err
			}
		}
		result = ticket
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	span.SetAttributes(attribute.String("service.id", result.ServiceID))
	e.release(ctx, box)
	return result, nil
}

func (e *Engine) setServiceStatus(ctx context.Context, spanName, serviceID, status string) (service models.Service, err error) {
	ctx, span := e.tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("service.id", serviceID)))
	defer func() { endSpan(span, err) }()

	err = e.store.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockService(ctx, serviceID)
		if err != nil {
			return err
		}
		if locked.Status != status {
			if err := tx.SetServiceStatus(ctx, serviceID, status); err != nil {
				return fmt.Errorf("set service status: %w", err)
			}
			locked.Status = status
		}
		service = locked
		return nil
	})
	if err != nil {
		return models.Service{}, err
	}
	return service, nil
}

func (e *Engine) announceCall(ctx context.Context, tx store.Tx, ticket models.Ticket, service models.Service, kind string, box *outbox) error {
	if ticket.UserID == nil {
		return nil
	}
	box.dispatch(callPush(ticket, service, kind))
	phone, err := e.phoneOf(ctx, tx, ticket.UserID)
	if err != nil {
		return err
	}
	if phone != "" {
		box.dispatch(notify.SMS(phone,
			notify.Render("Ticket {number}: it is your turn at {service}.", map[string]interface{}{
				"number":  ticket.Number,
				"service": service.Name,
			}),
			map[string]interface{}{"type": kind, "ticket_id": ticket.TicketID},
		))
	}
	return nil
}

func callPush(ticket models.Ticket, service models.Service, kind string) notify.Job {
	return notify.Push(*ticket.UserID,
		"It's your turn",
		notify.Render("Ticket {number} is called at {service}.", map[string]interface{}{
			"number":  ticket.Number,
			"service": service.Name,
		}),
		map[string]interface{}{"type": kind, "ticket_id": ticket.TicketID, "service_id": service.ServiceID},
	)
}

func (e *Engine) phoneOf(ctx context.Context, tx store.Tx, userID *string) (string, error) {
	if userID == nil {
		return "", nil
	}
	contact, err := tx.GetContact(ctx, *userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load contact: %w", err)
	}
	return contact.Phone, nil
}

// release publishes buffered events and jobs of a committed transaction.
// Failures are logged; the state change stands.
func (e *Engine) release(ctx context.Context, box *outbox) {
	if box == nil {
		return
	}
	for _, event := range box.events {
		if err := e.emitter.Publish(ctx, event); err != nil {
			e.log.Warn().Err(err).Str("event", event.Name).Str("channel", event.Channel).Msg("publish event")
		}
	}
	for _, job := range box.jobs {
		if err := e.dispatcher.Dispatch(ctx, job); err != nil {
			e.log.Warn().Err(err).Str("channel", job.Channel).Str("type", job.Type).Str("ticket_id", job.TicketID).Msg("dispatch notification")
		}
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
