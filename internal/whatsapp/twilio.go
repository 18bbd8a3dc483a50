package whatsapp

import (
	"context"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender sends WhatsApp messages through Twilio from one shared number.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	var client *twilio.RestClient
	if accountSID != "" && authToken != "" {
		client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
	}
	return &TwilioSender{client: client, from: strings.TrimSpace(from)}
}

func (s *TwilioSender) ProviderID() string {
	return "whatsapp-twilio"
}

func (s *TwilioSender) RequiresBusinessNumber() bool {
	return false
}

// Send ignores msg.From; Twilio uses the configured sender number. The
// Twilio SDK has no context support, so ctx is only checked up front.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.client == nil || s.from == "" {
		return "", ErrSenderNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(msg.To))
	params.SetFrom(whatsappAddress(s.from))
	params.SetBody(msg.Body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", err
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}
