package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stephdeve/SmartQueue/internal/models"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

// Store is what the workers read device tokens from and write delivery logs to.
type Store interface {
	ListPushTokens(ctx context.Context, userID string) ([]string, error)
	InsertNotificationLog(ctx context.Context, entry models.NotificationLog) error
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	SMS         Provider
	Push        Provider
	Now         func() time.Time
}

type Queue struct {
	store   Store
	jobs    chan Job
	workers int
	timeout time.Duration
	sms     Provider
	push    Provider
	now     func() time.Time
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(store Store, cfg Config, log zerolog.Logger) *Queue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sms, push := cfg.SMS, cfg.Push
	if sms == nil {
		sms = logProvider{log: log}
	}
	if push == nil {
		push = logProvider{log: log}
	}
	return &Queue{
		store:   store,
		jobs:    make(chan Job, size),
		workers: workers,
		timeout: timeout,
		sms:     sms,
		push:    push,
		now:     now,
		log:     log,
	}
}

func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
				if err := q.process(ctx, job); err != nil {
					q.log.Warn().Err(err).Str("channel", job.Channel).Str("type", job.Type).Str("ticket_id", job.TicketID).Msg("notification failed")
				}
				cancel()
			}
		}()
	}
}

func (q *Queue) Dispatch(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Close stops intake and waits for in-flight jobs.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) process(ctx context.Context, job Job) error {
	var message Message
	var provider Provider
	switch job.Channel {
	case ChannelPush:
		if job.UserID == "" {
			return nil
		}
		tokens, err := q.store.ListPushTokens(ctx, job.UserID)
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			q.log.Debug().Str("user_id", job.UserID).Msg("no push tokens, skipping")
			return nil
		}
		message = Message{Channel: ChannelPush, Recipients: tokens, Title: job.Title, Body: job.Body, Data: job.Meta}
		provider = q.push
	case ChannelSMS:
		if job.Phone == "" {
			return nil
		}
		message = Message{Channel: ChannelSMS, Recipients: []string{job.Phone}, Body: job.Body, Data: job.Meta}
		provider = q.sms
	default:
		return errors.New("unknown notification channel " + job.Channel)
	}

	sendErr := provider.Send(ctx, message)
	if err := q.record(ctx, job, message, sendErr); err != nil {
		q.log.Warn().Err(err).Str("ticket_id", job.TicketID).Msg("write notification log")
	}
	return sendErr
}

func (q *Queue) record(ctx context.Context, job Job, message Message, sendErr error) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	entry := models.NotificationLog{
		NotificationID: uuid.NewString(),
		TicketID:       job.TicketID,
		Channel:        job.Channel,
		Type:           job.Type,
		Status:         StatusSent,
		Payload:        payload,
	}
	if sendErr != nil {
		entry.Status = StatusFailed
	} else {
		sentAt := q.now()
		entry.SentAt = &sentAt
	}
	return q.store.InsertNotificationLog(ctx, entry)
}
