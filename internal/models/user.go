package models

import "time"

const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

type Contact struct {
	UserID string
	Phone  string
}

type Device struct {
	DeviceID    string    `json:"id"`
	UserID      string    `json:"user_id"`
	FCMToken    string    `json:"fcm_token"`
	Platform    string    `json:"platform,omitempty"`
	AppVersion  string    `json:"app_version,omitempty"`
	PushEnabled bool      `json:"push_enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

type NotificationLog struct {
	NotificationID string
	TicketID       string
	Channel        string
	Type           string
	Status         string
	Payload        []byte
	SentAt         *time.Time
}
