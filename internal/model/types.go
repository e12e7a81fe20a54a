package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Weekday is a repeat day for an alarm (time.Weekday numbering).
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// UniversalStopToken accepts any well-formed stop token for the alarm.
const UniversalStopToken = "Universal"

// Alarm is a user-authored alarm definition. The verification core only
// reads these; creation and editing belong to the UI layer.
type Alarm struct {
	ID                uuid.UUID
	Title             string
	Hour              int // time of day, 0-23
	Minute            int // 0-59
	Enabled           bool
	RepeatDays        map[Weekday]bool // empty = one-shot
	SoundName         string
	Volume            float64 // 0.0-1.0
	SnoozeEnabled     bool
	SnoozeInterval    int // minutes
	QRRequired        bool
	ExpectedStopToken string // UniversalStopToken or a per-alarm token
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewAlarm returns an alarm with the application defaults.
func NewAlarm(title string, hour, minute int) Alarm {
	now := time.Now()
	return Alarm{
		ID:                uuid.New(),
		Title:             title,
		Hour:              hour,
		Minute:            minute,
		Enabled:           true,
		RepeatDays:        map[Weekday]bool{},
		SoundName:         "default",
		Volume:            0.8,
		SnoozeEnabled:     true,
		SnoozeInterval:    5,
		QRRequired:        true,
		ExpectedStopToken: UniversalStopToken,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Validate checks the definition invariants.
func (a *Alarm) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("alarm id is required")
	}
	if a.Hour < 0 || a.Hour > 23 {
		return fmt.Errorf("hour must be in [0,23], got %d", a.Hour)
	}
	if a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("minute must be in [0,59], got %d", a.Minute)
	}
	if a.Volume < 0 || a.Volume > 1 {
		return fmt.Errorf("volume must be in [0,1], got %g", a.Volume)
	}
	if a.SnoozeInterval < 1 || a.SnoozeInterval > 60 {
		return fmt.Errorf("snooze interval must be in [1,60] minutes, got %d", a.SnoozeInterval)
	}
	if a.ExpectedStopToken == "" {
		return fmt.Errorf("expected stop token is required")
	}
	return nil
}

// NextFireTime returns the next moment the alarm should ring after now,
// honoring the repeat-day set. A disabled alarm never fires. A one-shot
// alarm fires at its next time-of-day occurrence.
func (a *Alarm) NextFireTime(now time.Time) (time.Time, bool) {
	if !a.Enabled {
		return time.Time{}, false
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), a.Hour, a.Minute, 0, 0, now.Location())
	if today.After(now) && a.firesOn(Weekday(now.Weekday())) {
		return today, true
	}

	for offset := 1; offset <= 7; offset++ {
		day := today.AddDate(0, 0, offset)
		if a.firesOn(Weekday(day.Weekday())) {
			return day, true
		}
	}
	return time.Time{}, false
}

func (a *Alarm) firesOn(day Weekday) bool {
	if len(a.RepeatDays) == 0 {
		return true
	}
	return a.RepeatDays[day]
}

// SessionState is the lifecycle state of the single ringing session.
type SessionState string

const (
	StateIdle    SessionState = "idle"
	StateActive  SessionState = "active"
	StateSuccess SessionState = "success"
	StateFailure SessionState = "failure"
)

// Terminal reports whether no automatic transition leaves the state.
func (s SessionState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Session is the live record of one ringing-to-resolution episode.
// At most one non-terminal session exists at any time; all mutation
// goes through the session machine.
type Session struct {
	AlarmID          uuid.UUID
	AlarmTitle       string
	ExpectedToken    string
	QRRequired       bool
	EmergencyContact string
	StartedAt        time.Time
	Deadline         time.Time // StartedAt + verification window, fixed at creation
	State            SessionState
}

// StopAttempt is a candidate stop code plus the time it was presented.
// It is consumed immediately by the validator and never persisted.
type StopAttempt struct {
	Code        string
	PresentedAt time.Time
}

// SessionRecord is the durable restart-recovery record written when a
// session begins and cleared when it reaches a terminal state.
type SessionRecord struct {
	CurrentAlarmID string    `json:"currentAlarmId"`
	AlarmStartTime time.Time `json:"alarmStartTime"`
}

// WakeUpRecord is one entry of the wake-up history.
type WakeUpRecord struct {
	ID         uuid.UUID     `json:"id"`
	Date       time.Time     `json:"date"`
	AlarmID    uuid.UUID     `json:"alarmId"`
	AlarmTitle string        `json:"alarmTitle"`
	WakeUpTime time.Time     `json:"wakeUpTime"`
	Verified   bool          `json:"verified"` // stop code scanned within the window
	TimeToWake time.Duration `json:"timeToWake"`
}

// Settings are the user-level defaults applied to new alarms.
type Settings struct {
	DefaultSoundName      string  `json:"defaultSoundName"`
	DefaultVolume         float64 `json:"defaultVolume"`
	DefaultSnoozeInterval int     `json:"defaultSnoozeInterval"`
	QRCodeEnabled         bool    `json:"qrCodeEnabled"`
	HapticFeedback        bool    `json:"hapticFeedback"`
	MaxSnoozeCount        int     `json:"maxSnoozeCount"`
	AlarmDuration         int     `json:"alarmDuration"` // seconds
}

// DefaultSettings mirror the application defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultSoundName:      "default",
		DefaultVolume:         0.8,
		DefaultSnoozeInterval: 5,
		QRCodeEnabled:         false,
		HapticFeedback:        true,
		MaxSnoozeCount:        3,
		AlarmDuration:         300,
	}
}
