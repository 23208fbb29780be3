package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pathakanu/medimate/internal/notify"
	"github.com/sirupsen/logrus"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio API the client uses.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// Client delivers reminder notifications as WhatsApp messages via Twilio.
type Client struct {
	api          messageCreator
	fromWhatsApp string
	recipient    string
	log          logrus.FieldLogger
}

// New creates a Twilio client bound to the configured WhatsApp sender number
// and the number reminders are delivered to.
func New(accountSID, authToken, fromWhatsApp, recipient string, log logrus.FieldLogger) *Client {
	c := &Client{
		fromWhatsApp: fromWhatsApp,
		recipient:    recipient,
		log:          log,
	}
	if accountSID != "" && authToken != "" {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
		c.api = rest.Api
	}
	return c
}

// Ready reports whether credentials and both numbers are configured.
func (c *Client) Ready() error {
	if c.api == nil {
		return errors.New("twilio client not initialised")
	}
	if normalizeWhatsAppAddress(c.fromWhatsApp) == "" {
		return errors.New("twilio sender WhatsApp number is not configured")
	}
	if normalizeWhatsAppAddress(c.recipient) == "" {
		return errors.New("notification recipient is not configured")
	}
	return nil
}

// Send delivers the notification to the configured recipient.
func (c *Client) Send(_ context.Context, content notify.Content) error {
	body := content.Body
	if content.Title != "" {
		body = fmt.Sprintf("%s\n%s", content.Title, content.Body)
	}
	return c.SendWhatsAppMessage(c.recipient, body)
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio's API.
func (c *Client) SendWhatsAppMessage(to, body string) error {
	if c.api == nil {
		return fmt.Errorf("twilio client not initialised")
	}

	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return fmt.Errorf("twilio sender WhatsApp number is not configured")
	}

	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio send message error: %w", err)
	}

	entry := c.log.WithField("to", recipient)
	if resp != nil && resp.Sid != nil {
		entry = entry.WithField("sid", *resp.Sid)
	}
	entry.Info("Twilio message sent")
	return nil
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}
