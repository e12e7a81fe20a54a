package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ikkeifujio/WakeOrPay/internal/metrics"
	"github.com/ikkeifujio/WakeOrPay/internal/middleware"
	"github.com/ikkeifujio/WakeOrPay/internal/model"
	"github.com/ikkeifujio/WakeOrPay/internal/relay"
	"github.com/ikkeifujio/WakeOrPay/internal/repo"
)

// WebhookHandler handles the escalation endpoints called by devices
type WebhookHandler struct {
	registrations repo.RegistrationRepo
	sender        relay.Sender
	deviceLimiter *middleware.RateLimiter
	now           func() time.Time
}

// NewWebhookHandler creates a new webhook handler. The per-device
// register budget lives here; the coarser per-IP cap sits in the
// router, in front of auth.
func NewWebhookHandler(registrations repo.RegistrationRepo, sender relay.Sender) *WebhookHandler {
	return &WebhookHandler{
		registrations: registrations,
		sender:        sender,
		deviceLimiter: middleware.NewRateLimiter(10*time.Minute, 30),
		now:           time.Now,
	}
}

// webhookRequest is the shared request body of the escalation endpoints
type webhookRequest struct {
	Action      string `json:"action"`
	AlarmID     string `json:"alarmId"`
	FireDate    int64  `json:"fireDate"`
	PhoneNumber string `json:"phoneNumber"`
	DeviceID    string `json:"deviceId"`
	Deadline    int64  `json:"deadline"`
	Timestamp   int64  `json:"timestamp"`
}

// webhookResponse is the JSON response of the escalation endpoints
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// decode parses the body and cross-checks the authenticated device.
func (h *WebhookHandler) decode(w http.ResponseWriter, r *http.Request) (*webhookRequest, bool) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return nil, false
	}
	if req.AlarmID == "" || req.DeviceID == "" {
		respondWithError(w, http.StatusBadRequest, "alarmId and deviceId are required")
		return nil, false
	}
	if deviceID, ok := middleware.GetDeviceID(r.Context()); !ok || deviceID != req.DeviceID {
		respondWithError(w, http.StatusForbidden, "device mismatch")
		return nil, false
	}
	return &req, true
}

// HandleRegister handles POST /api/register: arm the server-side SMS
// deadline for an alarm session.
func (h *WebhookHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Action != "register" {
		respondWithError(w, http.StatusBadRequest, "invalid action")
		return
	}
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}
	if !h.deviceLimiter.Allow(middleware.GetDeviceKey(req.DeviceID)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	deadline := time.Unix(req.Deadline, 0)
	if !deadline.After(h.now()) {
		// Already past: accept but do not arm, the device will report
		// its own timeout if it is still alive.
		metrics.IncRegistration("expired")
		respondWithJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "Alarm registered"})
		return
	}

	reg := model.Registration{
		AlarmID:     req.AlarmID,
		DeviceID:    req.DeviceID,
		PhoneNumber: req.PhoneNumber,
		FireDate:    time.Unix(req.FireDate, 0),
		Deadline:    deadline,
	}
	if err := h.registrations.Upsert(r.Context(), reg); err != nil {
		log.Printf("webhook: register %s/%s: %v", req.AlarmID, req.DeviceID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to register alarm")
		return
	}

	metrics.IncRegistration("accepted")
	respondWithJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "Alarm registered"})
}

// HandleCancel handles POST /api/cancel: disarm the deadline after a
// verified stop. Idempotent; cancelling an absent registration is 200.
func (h *WebhookHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Action != "cancel" && req.Action != "success" {
		respondWithError(w, http.StatusBadRequest, "invalid action")
		return
	}

	deleted, err := h.registrations.Delete(r.Context(), req.AlarmID, req.DeviceID)
	if err != nil {
		log.Printf("webhook: cancel %s/%s: %v", req.AlarmID, req.DeviceID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to cancel alarm")
		return
	}
	if deleted {
		log.Printf("webhook: alarm cancelled: %s", req.AlarmID)
	}

	metrics.IncCancellation()
	respondWithJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "Alarm cancelled"})
}

// HandleTimeout handles POST /api/timeout: the device reports a missed
// verification and the SMS goes out immediately, independent of the
// deadline bookkeeping. May be called more than once for the same
// alarm; each call sends.
func (h *WebhookHandler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.Action != "timeout" {
		respondWithError(w, http.StatusBadRequest, "invalid action")
		return
	}
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	if err := h.sender.Send(r.Context(), req.PhoneNumber, relay.EmergencyMessage(req.AlarmID)); err != nil {
		metrics.IncSMS("timeout", "failed")
		log.Printf("webhook: SMS for %s: %v", req.AlarmID, err)
		respondWithError(w, http.StatusInternalServerError, "SMS sending failed")
		return
	}
	metrics.IncSMS("timeout", "sent")
	log.Printf("webhook: SMS sent immediately for alarm: %s", req.AlarmID)

	// The deadline has served its purpose either way.
	if _, err := h.registrations.Delete(r.Context(), req.AlarmID, req.DeviceID); err != nil {
		log.Printf("webhook: clear registration %s/%s: %v", req.AlarmID, req.DeviceID, err)
	}

	respondWithJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "SMS sent"})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
