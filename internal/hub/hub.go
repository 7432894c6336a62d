// Package hub fans events out to connected realtime clients by channel name.
package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stephdeve/SmartQueue/internal/events"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type Client struct {
	ID       string
	UserID   string
	Role     string
	Send     chan []byte
	channels map[string]struct{}
}

func NewClient(id, userID, role string, buffer int) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Role:     role,
		Send:     make(chan []byte, buffer),
		channels: map[string]struct{}{},
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     zerolog.Logger
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func New(log zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), log: log}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.channels[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.channels, channel)
}

// Broadcast delivers payload to every client subscribed to channel. Slow
// clients miss the message instead of blocking the hub.
func (h *Hub) Broadcast(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if _, ok := client.channels[channel]; !ok {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.log.Warn().Str("client_id", client.ID).Str("channel", channel).Msg("drop message for slow client")
		}
	}
	return delivered
}

func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(event.Channel, payload)
	return nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != ActionSubscribe && msg.Action != ActionUnsubscribe {
		return SubscribeMessage{}, false
	}
	if _, _, ok := events.ParseChannel(msg.Channel); !ok {
		return SubscribeMessage{}, false
	}
	return msg, true
}
