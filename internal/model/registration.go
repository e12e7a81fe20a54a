package model

import "time"

// Registration statuses.
const (
	RegistrationScheduled = "scheduled"
	RegistrationFailed    = "failed" // SMS send failed, waiting for retry
)

// Registration is a server-side escalation deadline armed by a device.
// When the deadline passes without a cancel, the relay sends the
// emergency SMS. One registration exists per (alarm, device) pair;
// re-registering replaces it.
type Registration struct {
	AlarmID     string
	DeviceID    string
	PhoneNumber string
	FireDate    time.Time
	Deadline    time.Time
	Status      string
	LastError   *string
	RetryAt     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
