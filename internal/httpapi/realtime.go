package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"github.com/stephdeve/SmartQueue/internal/events"
	"github.com/stephdeve/SmartQueue/internal/hub"
)

const (
	realtimePrefix     = "/realtime"
	realtimeSendBuffer = 32
)

var errChannelDenied = errors.New("channel access denied")

type realtimeReply struct {
	Status  string `json:"status"`
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler(realtimePrefix, sockjs.DefaultOptions, h.serveRealtime)
}

func (h *Handler) serveRealtime(session sockjs.Session) {
	req := session.Request()
	principal, err := h.auth.Parse(realtimeToken(req))
	if err != nil {
		_ = session.Close(4001, "unauthorized")
		return
	}

	client := hub.NewClient(session.ID(), principal.UserID, principal.Role, realtimeSendBuffer)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == hub.ActionUnsubscribe {
			h.hub.Unsubscribe(client, parsed.Channel)
			h.reply(session, "ok", parsed)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = h.authorizeChannel(ctx, principal, parsed.Channel)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("user_id", principal.UserID).Str("channel", parsed.Channel).Msg("subscribe rejected")
			h.reply(session, "denied", parsed)
			continue
		}
		h.hub.Subscribe(client, parsed.Channel)
		h.reply(session, "ok", parsed)
	}
}

// authorizeChannel lets staff join any channel, and users only the channel
// of a ticket they own.
func (h *Handler) authorizeChannel(ctx context.Context, principal Principal, channel string) error {
	scope, id, ok := events.ParseChannel(channel)
	if !ok {
		return errChannelDenied
	}
	if principal.IsStaff() {
		return nil
	}
	if scope != events.ScopeTicket {
		return errChannelDenied
	}
	ticket, err := h.reader.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	if !ticket.OwnedBy(principal.UserID) {
		return errChannelDenied
	}
	return nil
}

func (h *Handler) reply(session sockjs.Session, status string, msg hub.SubscribeMessage) {
	body, err := json.Marshal(realtimeReply{Status: status, Action: msg.Action, Channel: msg.Channel})
	if err != nil {
		return
	}
	_ = session.Send(string(body))
}

func realtimeToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
