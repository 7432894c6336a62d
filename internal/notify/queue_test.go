package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stephdeve/SmartQueue/internal/models"
)

type fakeStore struct {
	mu     sync.Mutex
	tokens map[string][]string
	logs   []models.NotificationLog
}

func (f *fakeStore) ListPushTokens(ctx context.Context, userID string) ([]string, error) {
	return f.tokens[userID], nil
}

func (f *fakeStore) InsertNotificationLog(ctx context.Context, entry models.NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

type recordingProvider struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (p *recordingProvider) Send(ctx context.Context, message Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return p.err
}

func TestQueueDeliversPushAndSMS(t *testing.T) {
	store := &fakeStore{tokens: map[string][]string{"u1": {"tok-a", "tok-b"}}}
	push := &recordingProvider{}
	sms := &recordingProvider{err: errors.New("gateway down")}
	queue := NewQueue(store, Config{Workers: 2, QueueSize: 8, Push: push, SMS: sms}, zerolog.Nop())
	queue.Start()

	meta := map[string]interface{}{"type": TypeCalled, "ticket_id": "t1"}
	if err := queue.Dispatch(context.Background(), Push("u1", "Called", "Ticket A-001", meta)); err != nil {
		t.Fatalf("dispatch push: %v", err)
	}
	if err := queue.Dispatch(context.Background(), SMS("+22900000000", "Ticket A-001", meta)); err != nil {
		t.Fatalf("dispatch sms: %v", err)
	}
	if err := queue.Dispatch(context.Background(), Push("nobody", "x", "y", nil)); err != nil {
		t.Fatalf("dispatch push without tokens: %v", err)
	}
	if err := queue.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(push.messages) != 1 || len(push.messages[0].Recipients) != 2 {
		t.Fatalf("unexpected push messages: %+v", push.messages)
	}
	if len(store.logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(store.logs))
	}
	statuses := map[string]string{}
	for _, entry := range store.logs {
		statuses[entry.Channel] = entry.Status
		if entry.TicketID != "t1" || entry.Type != TypeCalled {
			t.Fatalf("unexpected log entry: %+v", entry)
		}
	}
	if statuses[ChannelPush] != StatusSent || statuses[ChannelSMS] != StatusFailed {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
	if err := queue.Dispatch(context.Background(), Push("u1", "a", "b", nil)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	queue := NewQueue(&fakeStore{}, Config{Workers: 1, QueueSize: 1}, zerolog.Nop())
	if err := queue.Dispatch(context.Background(), SMS("1", "a", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := queue.Dispatch(context.Background(), SMS("1", "b", nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWebhookProvider(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewProvider(ProviderConfig{Kind: "webhook", WebhookURL: server.URL, WebhookToken: "secret"}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := provider.Send(ctx, Message{Channel: ChannelSMS, Recipients: []string{"1"}, Body: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestRender(t *testing.T) {
	got := Render("Ticket {number} at {service}", map[string]interface{}{"number": "A-001-20250101", "service": "Accueil", "n": 3})
	if got != "Ticket A-001-20250101 at Accueil" {
		t.Fatalf("unexpected render: %s", got)
	}
}
