// Package memory is an in-process Store with the same transactional and
// locking semantics as the PostgreSQL store. Transactions are serialized and
// roll back on error.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/store"
)

type Store struct {
	mu             sync.Mutex
	services       map[string]models.Service
	establishments map[string]models.Establishment
	contacts       map[string]models.Contact
	tickets        map[string]models.Ticket
	devices        map[string]models.Device
	logs           []models.NotificationLog
}

func New() *Store {
	return &Store{
		services:       map[string]models.Service{},
		establishments: map[string]models.Establishment{},
		contacts:       map[string]models.Contact{},
		tickets:        map[string]models.Ticket{},
		devices:        map[string]models.Device{},
	}
}

func (s *Store) PutEstablishment(establishment models.Establishment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.establishments[establishment.EstablishmentID] = establishment
}

func (s *Store) PutService(service models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service.ServiceID] = service
}

func (s *Store) PutContact(contact models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.UserID] = contact
}

// PutTicket stores a ticket as-is, bypassing the engine.
func (s *Store) PutTicket(ticket models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket.TicketID] = cloneTicket(ticket)
}

// Tickets returns every ticket of the service ordered by creation.
func (s *Store) Tickets(serviceID string) []models.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.ServiceID == serviceID {
			out = append(out, cloneTicket(ticket))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TicketID < out[j].TicketID
	})
	return out
}

func (s *Store) NotificationLogs() []models.NotificationLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationLog, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	services := make(map[string]models.Service, len(s.services))
	for id, service := range s.services {
		services[id] = service
	}
	tickets := make(map[string]models.Ticket, len(s.tickets))
	for id, ticket := range s.tickets {
		tickets[id] = ticket
	}
	tx := &memTx{s: s}
	err := fn(tx)
	if err == nil {
		err = ctx.Err()
	}
	tx.done = true
	if err != nil {
		s.services = services
		s.tickets = tickets
		return err
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) GetTicketDetail(ctx context.Context, ticketID string) (models.TicketDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.TicketDetail{}, store.ErrTicketNotFound
	}
	return s.detail(ticket), nil
}

func (s *Store) ListUserTickets(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Ticket
	for _, ticket := range s.tickets {
		if !ticket.OwnedBy(filter.UserID) {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, ticket.Status) {
			continue
		}
		if filter.From != nil && ticket.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !ticket.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, ticket)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].TicketID > matched[j].TicketID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]models.TicketDetail, 0, len(matched))
	for _, ticket := range matched {
		out = append(out, s.detail(ticket))
	}
	return out, nil
}

func (s *Store) RegisterDevice(ctx context.Context, device models.Device) (models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.devices {
		if existing.UserID == device.UserID && existing.FCMToken == device.FCMToken {
			device.DeviceID = id
			device.CreatedAt = existing.CreatedAt
			s.devices[id] = device
			return device, nil
		}
	}
	if device.DeviceID == "" {
		device.DeviceID = uuid.NewString()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	s.devices[device.DeviceID] = device
	return device, nil
}

func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []string
	for _, device := range s.devices {
		if device.UserID == userID && device.PushEnabled && device.FCMToken != "" {
			tokens = append(tokens, device.FCMToken)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *Store) InsertNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *Store) detail(ticket models.Ticket) models.TicketDetail {
	service := s.services[ticket.ServiceID]
	return models.TicketDetail{
		Ticket:        cloneTicket(ticket),
		Service:       service,
		Establishment: s.establishments[service.EstablishmentID],
	}
}

// memTx runs with Store.mu held, so the whole transaction is serialized and
// row locks are implicit.
type memTx struct {
	s    *Store
	done bool
}

func (tx *memTx) check() error {
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	return nil
}

func (tx *memTx) LockService(ctx context.Context, serviceID string) (models.Service, error) {
	if err := tx.check(); err != nil {
		return models.Service{}, err
	}
	service, ok := tx.s.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return service, nil
}

func (tx *memTx) SetServiceStatus(ctx context.Context, serviceID, status string) error {
	if err := tx.check(); err != nil {
		return err
	}
	service, ok := tx.s.services[serviceID]
	if !ok {
		return store.ErrServiceNotFound
	}
	service.Status = status
	tx.s.services[serviceID] = service
	return nil
}

func (tx *memTx) GetEstablishment(ctx context.Context, establishmentID string) (models.Establishment, error) {
	if err := tx.check(); err != nil {
		return models.Establishment{}, err
	}
	establishment, ok := tx.s.establishments[establishmentID]
	if !ok {
		return models.Establishment{}, store.ErrEstablishmentNotFound
	}
	return establishment, nil
}

func (tx *memTx) GetContact(ctx context.Context, userID string) (models.Contact, error) {
	if err := tx.check(); err != nil {
		return models.Contact{}, err
	}
	contact, ok := tx.s.contacts[userID]
	if !ok {
		return models.Contact{}, store.ErrUserNotFound
	}
	return contact, nil
}

func (tx *memTx) HasActiveTicket(ctx context.Context, userID, serviceID string) (bool, error) {
	if err := tx.check(); err != nil {
		return false, err
	}
	for _, ticket := range tx.s.tickets {
		if ticket.ServiceID == serviceID && ticket.OwnedBy(userID) && models.IsActive(ticket.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) ListDayNumbers(ctx context.Context, serviceID, day string) ([]string, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var numbers []string
	for _, ticket := range tx.s.tickets {
		if ticket.ServiceID == serviceID && strings.HasSuffix(ticket.Number, "-"+day) {
			numbers = append(numbers, ticket.Number)
		}
	}
	return numbers, nil
}

func (tx *memTx) CountWaiting(ctx context.Context, serviceID string) (int, error) {
	if err := tx.check(); err != nil {
		return 0, err
	}
	count := 0
	for _, ticket := range tx.s.tickets {
		if ticket.ServiceID == serviceID && ticket.Status == models.StatusWaiting {
			count++
		}
	}
	return count, nil
}

// InsertTicket enforces the same unique constraints as the SQL schema.
func (tx *memTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	if err := tx.check(); err != nil {
		return err
	}
	if _, ok := tx.s.services[ticket.ServiceID]; !ok {
		return store.ErrServiceNotFound
	}
	for _, existing := range tx.s.tickets {
		if existing.TicketID == ticket.TicketID {
			return fmt.Errorf("%w: duplicate ticket id", store.ErrConflict)
		}
		if existing.ServiceID != ticket.ServiceID {
			continue
		}
		if existing.Number == ticket.Number {
			return fmt.Errorf("%w: duplicate number %s", store.ErrConflict, ticket.Number)
		}
		if ticket.UserID != nil && existing.OwnedBy(*ticket.UserID) && models.IsActive(existing.Status) && models.IsActive(ticket.Status) {
			return fmt.Errorf("%w: active ticket exists", store.ErrConflict)
		}
	}
	tx.s.tickets[ticket.TicketID] = cloneTicket(ticket)
	return nil
}

func (tx *memTx) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if err := tx.check(); err != nil {
		return models.Ticket{}, err
	}
	ticket, ok := tx.s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return cloneTicket(ticket), nil
}

func (tx *memTx) LockTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return tx.GetTicket(ctx, ticketID)
}

func (tx *memTx) LockNextWaiting(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
	waiting, err := tx.ListWaiting(ctx, serviceID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if len(waiting) == 0 {
		return models.Ticket{}, false, nil
	}
	return waiting[0], true, nil
}

func (tx *memTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if err := tx.check(); err != nil {
		return err
	}
	existing, ok := tx.s.tickets[ticket.TicketID]
	if !ok {
		return store.ErrTicketNotFound
	}
	if ticket.UserID != nil && models.IsActive(ticket.Status) && !models.IsActive(existing.Status) {
		for _, other := range tx.s.tickets {
			if other.TicketID != ticket.TicketID && other.ServiceID == ticket.ServiceID && other.OwnedBy(*ticket.UserID) && models.IsActive(other.Status) {
				return fmt.Errorf("%w: active ticket exists", store.ErrConflict)
			}
		}
	}
	tx.s.tickets[ticket.TicketID] = cloneTicket(ticket)
	return nil
}

func (tx *memTx) ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	var waiting []models.Ticket
	for _, ticket := range tx.s.tickets {
		if ticket.ServiceID == serviceID && ticket.Status == models.StatusWaiting {
			waiting = append(waiting, cloneTicket(ticket))
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if ra, rb := models.PriorityRank(a.Priority), models.PriorityRank(b.Priority); ra != rb {
			return ra > rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})
	return waiting, nil
}

func (tx *memTx) UpdatePosition(ctx context.Context, ticketID string, position int) error {
	if err := tx.check(); err != nil {
		return err
	}
	ticket, ok := tx.s.tickets[ticketID]
	if !ok {
		return store.ErrTicketNotFound
	}
	ticket.Position = &position
	tx.s.tickets[ticketID] = ticket
	return nil
}

func cloneTicket(ticket models.Ticket) models.Ticket {
	ticket.UserID = cloneString(ticket.UserID)
	ticket.Position = cloneInt(ticket.Position)
	ticket.LastDistanceM = cloneInt(ticket.LastDistanceM)
	ticket.CalledAt = cloneTime(ticket.CalledAt)
	ticket.ClosedAt = cloneTime(ticket.ClosedAt)
	ticket.AbsentAt = cloneTime(ticket.AbsentAt)
	ticket.LastSeenAt = cloneTime(ticket.LastSeenAt)
	return ticket
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
