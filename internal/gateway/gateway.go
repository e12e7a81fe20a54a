// Package gateway implements the outbound escalation relay calls. The
// relay is a best-effort backstop, not a dependency: every call here is
// fire-and-forget from the session machine's point of view, and the
// retry policy lives entirely inside this package.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ikkeifujio/WakeOrPay/internal/auth"
)

const (
	clientTimeout = 10 * time.Second

	// Bounded in-process retry: two more attempts with exponential
	// backoff, then give up and leave the rest to the relay's sweep.
	retryBase     = 500 * time.Millisecond
	retryAttempts = 2
)

// Client posts escalation calls to the relay over HTTP, signing each
// request with a short-lived device token.
type Client struct {
	baseURL          string
	deviceID         string
	escalationWindow time.Duration
	tokens           *auth.TokenService
	httpClient       *http.Client
	now              func() time.Time
}

// NewClient creates a relay client. escalationWindow is the server-side
// SMS deadline measured from the alarm's fire time.
func NewClient(baseURL, secret, deviceID string, escalationWindow time.Duration) *Client {
	return &Client{
		baseURL:          baseURL,
		deviceID:         deviceID,
		escalationWindow: escalationWindow,
		tokens:           auth.NewTokenService(secret),
		httpClient:       &http.Client{Timeout: clientTimeout},
		now:              time.Now,
	}
}

// registerPayload asks the relay to arm a server-side deadline.
type registerPayload struct {
	Action      string `json:"action"`
	AlarmID     string `json:"alarmId"`
	FireDate    int64  `json:"fireDate"`
	PhoneNumber string `json:"phoneNumber"`
	DeviceID    string `json:"deviceId"`
	Deadline    int64  `json:"deadline"`
}

// cancelPayload asks the relay to disarm a deadline.
type cancelPayload struct {
	Action    string `json:"action"`
	AlarmID   string `json:"alarmId"`
	FireDate  int64  `json:"fireDate"`
	DeviceID  string `json:"deviceId"`
	Timestamp int64  `json:"timestamp"`
}

// timeoutPayload asks the relay to send the emergency SMS immediately.
type timeoutPayload struct {
	Action      string `json:"action"`
	AlarmID     string `json:"alarmId"`
	FireDate    int64  `json:"fireDate"`
	PhoneNumber string `json:"phoneNumber"`
	DeviceID    string `json:"deviceId"`
	Timestamp   int64  `json:"timestamp"`
}

// Register arms the relay's deadline at startedAt + escalation window.
func (c *Client) Register(ctx context.Context, alarmID uuid.UUID, startedAt time.Time, contact string) error {
	payload := registerPayload{
		Action:      "register",
		AlarmID:     alarmID.String(),
		FireDate:    startedAt.Unix(),
		PhoneNumber: contact,
		DeviceID:    c.deviceID,
		Deadline:    startedAt.Add(c.escalationWindow).Unix(),
	}
	return c.post(ctx, "/api/register", payload)
}

// Cancel disarms the relay's deadline. Idempotent: the relay returns
// 200 whether or not a registration was found.
func (c *Client) Cancel(ctx context.Context, alarmID uuid.UUID, startedAt time.Time) error {
	payload := cancelPayload{
		Action:    "cancel",
		AlarmID:   alarmID.String(),
		FireDate:  startedAt.Unix(),
		DeviceID:  c.deviceID,
		Timestamp: c.now().Unix(),
	}
	return c.post(ctx, "/api/cancel", payload)
}

// NotifyTimeout asks the relay to send the emergency SMS now,
// independent of its own deadline bookkeeping.
func (c *Client) NotifyTimeout(ctx context.Context, alarmID uuid.UUID, startedAt time.Time, contact string) error {
	payload := timeoutPayload{
		Action:      "timeout",
		AlarmID:     alarmID.String(),
		FireDate:    startedAt.Unix(),
		PhoneNumber: contact,
		DeviceID:    c.deviceID,
		Timestamp:   c.now().Unix(),
	}
	return c.post(ctx, "/api/timeout", payload)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	token, err := c.tokens.SignDeviceToken(c.deviceID)
	if err != nil {
		return fmt.Errorf("sign device token: %w", err)
	}

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewExponential(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("post %s: %w", endpoint, err))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode))
		default:
			return fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode)
		}
	})
}

// Nop is the gateway used when no relay is configured. It logs the
// calls it swallows so a misconfigured deployment is at least visible.
type Nop struct{}

// Register implements the escalator contract as a logged no-op.
func (Nop) Register(_ context.Context, alarmID uuid.UUID, _ time.Time, _ string) error {
	log.Printf("gateway: no relay configured, register for %s dropped", alarmID)
	return nil
}

// Cancel implements the escalator contract as a logged no-op.
func (Nop) Cancel(_ context.Context, alarmID uuid.UUID, _ time.Time) error {
	log.Printf("gateway: no relay configured, cancel for %s dropped", alarmID)
	return nil
}

// NotifyTimeout implements the escalator contract as a logged no-op.
func (Nop) NotifyTimeout(_ context.Context, alarmID uuid.UUID, _ time.Time, _ string) error {
	log.Printf("gateway: no relay configured, timeout notice for %s dropped", alarmID)
	return nil
}
