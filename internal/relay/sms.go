// Package relay implements the server side of the escalation pipeline:
// the registered deadlines, the sweep that fires overdue ones, and the
// outbound emergency SMS.
package relay

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// EmergencyMessage renders the SMS body for a missed verification.
func EmergencyMessage(alarmID string) string {
	return fmt.Sprintf("WakeOrPay emergency: the stop-code scan for alarm %s timed out.", alarmID)
}

// Sender delivers an emergency SMS.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

// NewTwilioSender creates a Twilio-backed sender.
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    "https://api.twilio.com",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message, retrying briefly on transient failures.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if to == "" {
		return fmt.Errorf("sms: empty destination number")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("sms: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(s.accountSID, s.authToken)

		resp, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("sms: post: %w", err))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("sms: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("sms: status %d", resp.StatusCode)
		}
	})
}

// LogSender logs instead of sending, for DEV_MODE deployments.
type LogSender struct{}

// Send implements Sender by logging the message.
func (LogSender) Send(_ context.Context, to, body string) error {
	log.Printf("sms (dev mode): to=%s body=%q", to, body)
	return nil
}
