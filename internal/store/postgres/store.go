package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stephdeve/SmartQueue/internal/models"
	"github.com/stephdeve/SmartQueue/internal/store"
)

const ticketColumns = `ticket_id, user_id, service_id, number, status, priority, position,
	called_at, closed_at, absent_at, last_distance_m, last_seen_at, created_at, updated_at`

const waitingOrder = `CASE priority WHEN 'vip' THEN 3 WHEN 'high' THEN 2 ELSE 1 END DESC, created_at ASC, ticket_id ASC`

const (
	sqlStateSerialization = "40001"
	sqlStateDeadlock      = "40P01"
	sqlStateUnique        = "23505"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return translate(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, s.pool, ticketID, "")
}

func (s *Store) GetTicketDetail(ctx context.Context, ticketID string) (models.TicketDetail, error) {
	row := s.pool.QueryRow(ctx, detailQuery+` WHERE t.ticket_id = $1`, ticketID)
	detail, err := scanDetail(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TicketDetail{}, store.ErrTicketNotFound
		}
		return models.TicketDetail{}, err
	}
	return detail, nil
}

func (s *Store) ListUserTickets(ctx context.Context, filter store.UserTicketFilter) ([]models.TicketDetail, error) {
	var conditions []string
	args := []interface{}{filter.UserID}
	conditions = append(conditions, "t.user_id = $1")
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		conditions = append(conditions, fmt.Sprintf("t.status = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("t.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("t.created_at < $%d", len(args)))
	}
	query := detailQuery + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY t.created_at DESC, t.ticket_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.TicketDetail
	for rows.Next() {
		detail, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, rows.Err()
}

func (s *Store) RegisterDevice(ctx context.Context, device models.Device) (models.Device, error) {
	if device.DeviceID == "" {
		device.DeviceID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO devices (device_id, user_id, fcm_token, platform, app_version, push_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, fcm_token) DO UPDATE
		SET platform = EXCLUDED.platform,
			app_version = EXCLUDED.app_version,
			push_enabled = EXCLUDED.push_enabled,
			updated_at = now()
		RETURNING device_id, created_at
	`, device.DeviceID, device.UserID, device.FCMToken, nullIfEmpty(device.Platform), nullIfEmpty(device.AppVersion), device.PushEnabled)
	if err := row.Scan(&device.DeviceID, &device.CreatedAt); err != nil {
		return models.Device{}, translate(err)
	}
	return device, nil
}

func (s *Store) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fcm_token FROM devices
		WHERE user_id = $1 AND push_enabled
		ORDER BY fcm_token
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *Store) InsertNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	if entry.NotificationID == "" {
		entry.NotificationID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_logs (notification_id, ticket_id, channel, type, status, payload, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.NotificationID, nullIfEmpty(entry.TicketID), entry.Channel, nullIfEmpty(entry.Type), entry.Status, entry.Payload, entry.SentAt)
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockService(ctx context.Context, serviceID string) (models.Service, error) {
	if _, err := uuid.Parse(serviceID); err != nil {
		return models.Service{}, store.ErrServiceNotFound
	}
	var service models.Service
	row := t.tx.QueryRow(ctx, `
		SELECT service_id, establishment_id, name, avg_service_time_minutes, status, priority_support
		FROM services
		WHERE service_id = $1
		FOR UPDATE
	`, serviceID)
	if err := row.Scan(&service.ServiceID, &service.EstablishmentID, &service.Name, &service.AvgServiceTimeMinutes, &service.Status, &service.PrioritySupport); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return service, nil
}

func (t *pgTx) SetServiceStatus(ctx context.Context, serviceID, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE services SET status = $2 WHERE service_id = $1`, serviceID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServiceNotFound
	}
	return nil
}

func (t *pgTx) GetEstablishment(ctx context.Context, establishmentID string) (models.Establishment, error) {
	var establishment models.Establishment
	row := t.tx.QueryRow(ctx, `
		SELECT establishment_id, name, lat::float8, lng::float8
		FROM establishments
		WHERE establishment_id = $1
	`, establishmentID)
	if err := row.Scan(&establishment.EstablishmentID, &establishment.Name, &establishment.Lat, &establishment.Lng); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Establishment{}, store.ErrEstablishmentNotFound
		}
		return models.Establishment{}, err
	}
	return establishment, nil
}

func (t *pgTx) GetContact(ctx context.Context, userID string) (models.Contact, error) {
	var phone *string
	row := t.tx.QueryRow(ctx, `SELECT phone FROM users WHERE user_id = $1`, userID)
	if err := row.Scan(&phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Contact{}, store.ErrUserNotFound
		}
		return models.Contact{}, err
	}
	contact := models.Contact{UserID: userID}
	if phone != nil {
		contact.Phone = *phone
	}
	return contact, nil
}

func (t *pgTx) HasActiveTicket(ctx context.Context, userID, serviceID string) (bool, error) {
	var exists bool
	row := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE user_id = $1 AND service_id = $2 AND status = ANY($3)
		)
	`, userID, serviceID, models.ActiveStatuses)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgTx) ListDayNumbers(ctx context.Context, serviceID, day string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT number FROM tickets
		WHERE service_id = $1 AND number LIKE '%-' || $2
	`, serviceID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}

func (t *pgTx) CountWaiting(ctx context.Context, serviceID string) (int, error) {
	var count int
	row := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE service_id = $1 AND status = $2`, serviceID, models.StatusWaiting)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, ticket.TicketID, ticket.UserID, ticket.ServiceID, ticket.Number, ticket.Status, ticket.Priority, ticket.Position,
		ticket.CalledAt, ticket.ClosedAt, ticket.AbsentAt, ticket.LastDistanceM, ticket.LastSeenAt, ticket.CreatedAt, ticket.UpdatedAt)
	return err
}

func (t *pgTx) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, t.tx, ticketID, "")
}

func (t *pgTx) LockTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, t.tx, ticketID, "FOR UPDATE")
}

func (t *pgTx) LockNextWaiting(ctx context.Context, serviceID string) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status = $2
		ORDER BY `+waitingOrder+`
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, serviceID, models.StatusWaiting)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (t *pgTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET status = $2, priority = $3, position = $4, called_at = $5, closed_at = $6, absent_at = $7,
			last_distance_m = $8, last_seen_at = $9, updated_at = $10
		WHERE ticket_id = $1
	`, ticket.TicketID, ticket.Status, ticket.Priority, ticket.Position, ticket.CalledAt, ticket.ClosedAt, ticket.AbsentAt,
		ticket.LastDistanceM, ticket.LastSeenAt, ticket.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (t *pgTx) ListWaiting(ctx context.Context, serviceID string) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status = $2
		ORDER BY `+waitingOrder, serviceID, models.StatusWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (t *pgTx) UpdatePosition(ctx context.Context, ticketID string, position int) error {
	_, err := t.tx.Exec(ctx, `UPDATE tickets SET position = $2 WHERE ticket_id = $1`, ticketID, position)
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTicket(ctx context.Context, q querier, ticketID, lock string) (models.Ticket, error) {
	if _, err := uuid.Parse(ticketID); err != nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 `+lock, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	err := row.Scan(&ticket.TicketID, &ticket.UserID, &ticket.ServiceID, &ticket.Number, &ticket.Status, &ticket.Priority, &ticket.Position,
		&ticket.CalledAt, &ticket.ClosedAt, &ticket.AbsentAt, &ticket.LastDistanceM, &ticket.LastSeenAt, &ticket.CreatedAt, &ticket.UpdatedAt)
	return ticket, err
}

const detailQuery = `
	SELECT t.ticket_id, t.user_id, t.service_id, t.number, t.status, t.priority, t.position,
		t.called_at, t.closed_at, t.absent_at, t.last_distance_m, t.last_seen_at, t.created_at, t.updated_at,
		s.establishment_id, s.name, s.avg_service_time_minutes, s.status, s.priority_support,
		e.name, e.lat::float8, e.lng::float8
	FROM tickets t
	JOIN services s ON s.service_id = t.service_id
	JOIN establishments e ON e.establishment_id = s.establishment_id`

func scanDetail(row pgx.Row) (models.TicketDetail, error) {
	var detail models.TicketDetail
	ticket := &detail.Ticket
	service := &detail.Service
	establishment := &detail.Establishment
	err := row.Scan(&ticket.TicketID, &ticket.UserID, &ticket.ServiceID, &ticket.Number, &ticket.Status, &ticket.Priority, &ticket.Position,
		&ticket.CalledAt, &ticket.ClosedAt, &ticket.AbsentAt, &ticket.LastDistanceM, &ticket.LastSeenAt, &ticket.CreatedAt, &ticket.UpdatedAt,
		&service.EstablishmentID, &service.Name, &service.AvgServiceTimeMinutes, &service.Status, &service.PrioritySupport,
		&establishment.Name, &establishment.Lat, &establishment.Lng)
	if err != nil {
		return models.TicketDetail{}, err
	}
	service.ServiceID = ticket.ServiceID
	establishment.EstablishmentID = service.EstablishmentID
	return detail, nil
}

// translate maps lost races to store.ErrConflict and leaves every other
// error untouched.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerialization, sqlStateDeadlock, sqlStateUnique:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*pgTx)(nil)
)
