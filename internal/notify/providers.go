package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Message is what a provider delivers. Recipients are device tokens for push
// and phone numbers for SMS.
type Message struct {
	Channel    string                 `json:"channel"`
	Recipients []string               `json:"recipients"`
	Title      string                 `json:"title,omitempty"`
	Body       string                 `json:"body"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

type Provider interface {
	Send(ctx context.Context, message Message) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
}

func NewProvider(cfg ProviderConfig, log zerolog.Logger) Provider {
	switch cfg.Kind {
	case "", "stub", "log":
		return logProvider{log: log}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Warn().Msg("webhook provider without url, falling back to log")
			return logProvider{log: log}
		}
		return webhookProvider{
			url:    cfg.WebhookURL,
			token:  cfg.WebhookToken,
			client: &http.Client{Timeout: 5 * time.Second},
		}
	default:
		log.Warn().Str("kind", cfg.Kind).Msg("unknown provider, falling back to log")
		return logProvider{log: log}
	}
}

type logProvider struct {
	log zerolog.Logger
}

func (p logProvider) Send(ctx context.Context, message Message) error {
	p.log.Info().
		Str("channel", message.Channel).
		Strs("recipients", message.Recipients).
		Str("title", message.Title).
		Str("body", message.Body).
		Msg("notification sent")
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, message Message) error {
	return nil
}

type failProvider struct{}

func (failProvider) Send(ctx context.Context, message Message) error {
	return errors.New("provider failure")
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func (p webhookProvider) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("provider rejected request: %s", resp.Status)
	}
	return nil
}
