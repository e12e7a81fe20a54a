package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikkeifujio/WakeOrPay/internal/auth"
	"github.com/ikkeifujio/WakeOrPay/internal/config"
	"github.com/ikkeifujio/WakeOrPay/internal/db"
	httphandler "github.com/ikkeifujio/WakeOrPay/internal/http"
	"github.com/ikkeifujio/WakeOrPay/internal/http/handlers"
	"github.com/ikkeifujio/WakeOrPay/internal/model"
	"github.com/ikkeifujio/WakeOrPay/internal/relay"
	"github.com/ikkeifujio/WakeOrPay/internal/repo"
	_ "github.com/lib/pq"
)

const (
	testDeviceID = "device-abc"
	testPhone    = "+491234567890"
	testAlarmID  = "b5c1f2c7-9a2f-4b8e-8d3a-2f1e6c9d4a01"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("RELAY_SECRET") == "" {
		os.Setenv("RELAY_SECRET", "test-relay-secret-at-least-32-characters")
	}
	if os.Getenv("DEV_MODE") == "" {
		os.Setenv("DEV_MODE", "true")
	}

	code := m.Run()
	os.Exit(code)
}

// recordedSMS captures one Send call made through the fake sender.
type recordedSMS struct {
	To   string
	Body string
}

// fakeSender records sends and can be switched into failure mode.
type fakeSender struct {
	mu   sync.Mutex
	sent []recordedSMS
	fail bool
}

func (f *fakeSender) Send(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, recordedSMS{To: to, Body: body})
	return nil
}

func (f *fakeSender) Sent() []recordedSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedSMS, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

// testServer holds the relay server and DB for integration tests
type testServer struct {
	Server        *httptest.Server
	DB            *sql.DB
	Registrations repo.RegistrationRepo
	Sender        *fakeSender
	Tokens        *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.LoadRelay()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.Migrate(database), "migrations must run successfully")

	registrations := repo.NewRegistrationRepo(database)
	sender := &fakeSender{}
	tokens := auth.NewTokenService(cfg.RelaySecret)
	webhookHandler := handlers.NewWebhookHandler(registrations, sender)

	router := httphandler.NewRouter(webhookHandler, tokens)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{
		Server:        server,
		DB:            database,
		Registrations: registrations,
		Sender:        sender,
		Tokens:        tokens,
	}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) Truncate(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateRegistrations(context.Background(), s.DB), "truncate registrations")
}

// post sends a signed webhook request as the given device.
func (s *testServer) post(t *testing.T, path, deviceID string, body map[string]any) *http.Response {
	t.Helper()
	token, err := s.Tokens.SignDeviceToken(deviceID)
	require.NoError(t, err)
	payload, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, s.BaseURL()+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

// registerBody builds a valid register payload with the given deadline.
func registerBody(deadline time.Time) map[string]any {
	now := time.Now()
	return map[string]any{
		"action":      "register",
		"alarmId":     testAlarmID,
		"fireDate":    now.Unix(),
		"phoneNumber": testPhone,
		"deviceId":    testDeviceID,
		"deadline":    deadline.Unix(),
		"timestamp":   now.Unix(),
	}
}

// webhookResponse matches the relay's JSON responses
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Error string `json:"error"`
}

func (s *testServer) countRegistrations(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB.QueryRow("SELECT count(*) FROM registrations").Scan(&n))
	return n
}

func TestRelayIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ts := newTestServer(t)
	baseURL := ts.BaseURL()
	client := ts.Server.Client()

	t.Run("A_HealthCheck", func(t *testing.T) {
		resp, err := client.Get(baseURL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET /health must return 200")
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("B_Register", func(t *testing.T) {
		ts.Truncate(t)
		resp := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(3*time.Minute)))
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "POST /api/register must return 200; body: %s", respBody)
		var res webhookResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &res))
		assert.True(t, res.Success)
		assert.Equal(t, 1, ts.countRegistrations(t), "registration must be stored")
	})

	t.Run("B2_ReRegisterSameAlarm", func(t *testing.T) {
		ts.Truncate(t)
		resp1 := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(3*time.Minute)))
		resp1.Body.Close()
		require.Equal(t, http.StatusOK, resp1.StatusCode)

		// Same alarm, later deadline. Must replace, not duplicate.
		resp2 := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(5*time.Minute)))
		defer resp2.Body.Close()
		assert.Equal(t, http.StatusOK, resp2.StatusCode, "re-register must return 200; body: %s", readBody(resp2))
		assert.Equal(t, 1, ts.countRegistrations(t), "re-register must replace the previous row")
	})

	t.Run("B3_RegisterPastDeadline", func(t *testing.T) {
		ts.Truncate(t)
		resp := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(-time.Minute)))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "past deadline is accepted; body: %s", readBody(resp))
		assert.Equal(t, 0, ts.countRegistrations(t), "past deadline must not be armed")
	})

	t.Run("C_Cancel", func(t *testing.T) {
		ts.Truncate(t)
		resp := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(3*time.Minute)))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		cancel := ts.post(t, "/api/cancel", testDeviceID, map[string]any{
			"action":   "cancel",
			"alarmId":  testAlarmID,
			"deviceId": testDeviceID,
		})
		defer cancel.Body.Close()
		assert.Equal(t, http.StatusOK, cancel.StatusCode, "POST /api/cancel must return 200; body: %s", readBody(cancel))
		assert.Equal(t, 0, ts.countRegistrations(t), "cancel must remove the registration")
	})

	t.Run("C2_CancelIdempotent", func(t *testing.T) {
		ts.Truncate(t)
		// Original clients report a verified stop with action "success".
		resp := ts.post(t, "/api/cancel", testDeviceID, map[string]any{
			"action":   "success",
			"alarmId":  testAlarmID,
			"deviceId": testDeviceID,
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "cancelling an absent registration must return 200")
	})

	t.Run("D_Timeout", func(t *testing.T) {
		ts.Truncate(t)
		resp := ts.post(t, "/api/register", testDeviceID, registerBody(time.Now().Add(3*time.Minute)))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		timeout := ts.post(t, "/api/timeout", testDeviceID, map[string]any{
			"action":      "timeout",
			"alarmId":     testAlarmID,
			"phoneNumber": testPhone,
			"deviceId":    testDeviceID,
			"timestamp":   time.Now().Unix(),
		})
		defer timeout.Body.Close()
		timeoutBody := readBody(timeout)
		assert.Equal(t, http.StatusOK, timeout.StatusCode, "POST /api/timeout must return 200; body: %s", timeoutBody)
		var res webhookResponse
		require.NoError(t, json.Unmarshal([]byte(timeoutBody), &res))
		assert.Equal(t, "SMS sent", res.Message)

		sent := ts.Sender.Sent()
		require.Len(t, sent, 1, "timeout must send exactly one SMS")
		assert.Equal(t, testPhone, sent[0].To)
		assert.Contains(t, sent[0].Body, testAlarmID)
		assert.Equal(t, 0, ts.countRegistrations(t), "timeout must clear the registration")
	})

	t.Run("D2_TimeoutSendFailure", func(t *testing.T) {
		ts.Truncate(t)
		ts.Sender.SetFail(true)
		defer ts.Sender.SetFail(false)

		resp := ts.post(t, "/api/timeout", testDeviceID, map[string]any{
			"action":      "timeout",
			"alarmId":     testAlarmID,
			"phoneNumber": testPhone,
			"deviceId":    testDeviceID,
		})
		defer resp.Body.Close()
		respBody := readBody(resp)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "SMS failure must return 500; body: %s", respBody)
		var errRes errorResponse
		require.NoError(t, json.Unmarshal([]byte(respBody), &errRes))
		assert.Equal(t, "SMS sending failed", errRes.Error)
	})

	t.Run("E_DeviceMismatch", func(t *testing.T) {
		ts.Truncate(t)
		// Token for one device, payload claiming another.
		resp := ts.post(t, "/api/register", "some-other-device", registerBody(time.Now().Add(3*time.Minute)))
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "device mismatch must return 403; body: %s", readBody(resp))
	})

	t.Run("F_Unauthorized", func(t *testing.T) {
		payload, _ := json.Marshal(registerBody(time.Now().Add(3 * time.Minute)))
		resp, err := client.Post(baseURL+"/api/register", "application/json", bytes.NewReader(payload))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing token must return 401")
	})

	t.Run("G_Sweeper", func(t *testing.T) {
		ts.Truncate(t)
		ctx := context.Background()

		// Arm a registration whose deadline has already passed.
		require.NoError(t, ts.Registrations.Upsert(ctx, model.Registration{
			AlarmID:     testAlarmID,
			DeviceID:    testDeviceID,
			PhoneNumber: testPhone,
			FireDate:    time.Now().Add(-2 * time.Minute),
			Deadline:    time.Now().Add(-time.Minute),
		}))

		sweeper := relay.NewSweeper(ts.Registrations, ts.Sender, time.Second, 5*time.Minute)
		before := len(ts.Sender.Sent())
		require.NoError(t, sweeper.Sweep(ctx))

		sent := ts.Sender.Sent()
		require.Equal(t, before+1, len(sent), "sweep must send the backstop SMS")
		assert.Equal(t, testPhone, sent[len(sent)-1].To)
		assert.Equal(t, 0, ts.countRegistrations(t), "sent registration must be removed")
	})

	t.Run("G2_SweeperRetryBackoff", func(t *testing.T) {
		ts.Truncate(t)
		ctx := context.Background()

		require.NoError(t, ts.Registrations.Upsert(ctx, model.Registration{
			AlarmID:     testAlarmID,
			DeviceID:    testDeviceID,
			PhoneNumber: testPhone,
			FireDate:    time.Now().Add(-2 * time.Minute),
			Deadline:    time.Now().Add(-time.Minute),
		}))

		sweeper := relay.NewSweeper(ts.Registrations, ts.Sender, time.Second, 5*time.Minute)

		// First sweep fails; the registration stays with retry_at set.
		ts.Sender.SetFail(true)
		err := sweeper.Sweep(ctx)
		ts.Sender.SetFail(false)
		require.Error(t, err, "failed send must surface from the sweep")
		assert.Equal(t, 1, ts.countRegistrations(t), "failed registration must be retained for retry")

		// The retry is 5 minutes out, so an immediate sweep skips it.
		before := len(ts.Sender.Sent())
		require.NoError(t, sweeper.Sweep(ctx))
		assert.Equal(t, before, len(ts.Sender.Sent()), "registration within backoff must not be re-sent")
		assert.Equal(t, 1, ts.countRegistrations(t))
	})
}

// readBody reads and returns the response body (consumes it). Use for error messages only.
func readBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}
