package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSenderNotConfigured is returned when a sender lacks credentials or a
// source number.
var ErrSenderNotConfigured = errors.New("whatsapp sender not configured")

// Message is one outbound text message. From is the provider-specific sender
// identity (Cloud API phone number id or Twilio number).
type Message struct {
	From string
	To   string
	Body string
}

// Sender delivers a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
	ProviderID() string
	// RequiresBusinessNumber reports whether each business must supply its
	// own sender number.
	RequiresBusinessNumber() bool
}

// CloudSender talks to the WhatsApp Cloud API.
type CloudSender struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewCloudSender(baseURL, token string) *CloudSender {
	return &CloudSender{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *CloudSender) ProviderID() string {
	return "whatsapp-cloud"
}

func (s *CloudSender) RequiresBusinessNumber() bool {
	return true
}

type cloudTextRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type cloudResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (s *CloudSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.baseURL == "" || s.token == "" || msg.From == "" {
		return "", ErrSenderNotConfigured
	}

	payload := cloudTextRequest{MessagingProduct: "whatsapp", To: msg.To, Type: "text"}
	payload.Text.Body = msg.Body
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", s.baseURL, msg.From)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var out cloudResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("whatsapp cloud api: %s (code %d)", out.Error.Message, out.Error.Code)
		}
		return "", fmt.Errorf("whatsapp cloud api returned %d", resp.StatusCode)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// NoopSender accepts every message without sending it.
type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "whatsapp-noop"
}

func (s *NoopSender) RequiresBusinessNumber() bool {
	return false
}

func (s *NoopSender) Send(_ context.Context, _ Message) (string, error) {
	return "", nil
}
