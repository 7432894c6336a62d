// Package notify delivers push and SMS notifications for ticket transitions on
// a bounded pool of background workers.
package notify

import (
	"context"
	"strings"
)

const (
	ChannelPush = "push"
	ChannelSMS  = "sms"
)

const (
	TypeCalled      = "called"
	TypeRecalled    = "recalled"
	TypeAbsent      = "absent"
	TypeApproaching = "approaching"
)

type Job struct {
	Channel  string
	Type     string
	TicketID string
	UserID   string
	Phone    string
	Title    string
	Body     string
	Meta     map[string]interface{}
}

// Dispatcher accepts jobs without waiting for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type DispatcherFunc func(ctx context.Context, job Job) error

func (f DispatcherFunc) Dispatch(ctx context.Context, job Job) error {
	return f(ctx, job)
}

var Discard Dispatcher = DispatcherFunc(func(context.Context, Job) error { return nil })

func Push(userID, title, body string, meta map[string]interface{}) Job {
	return Job{
		Channel:  ChannelPush,
		Type:     metaString(meta, "type"),
		TicketID: metaString(meta, "ticket_id"),
		UserID:   userID,
		Title:    title,
		Body:     body,
		Meta:     meta,
	}
}

func SMS(phone, message string, meta map[string]interface{}) Job {
	return Job{
		Channel:  ChannelSMS,
		Type:     metaString(meta, "type"),
		TicketID: metaString(meta, "ticket_id"),
		Phone:    phone,
		Body:     message,
		Meta:     meta,
	}
}

// Render replaces {key} placeholders with string values from data.
func Render(template string, data map[string]interface{}) string {
	result := template
	for key, value := range data {
		text, ok := value.(string)
		if !ok {
			continue
		}
		result = strings.ReplaceAll(result, "{"+key+"}", text)
	}
	return result
}

func metaString(meta map[string]interface{}, key string) string {
	if value, ok := meta[key]; ok {
		if text, ok := value.(string); ok {
			return text
		}
	}
	return ""
}
