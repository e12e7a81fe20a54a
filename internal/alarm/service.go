package alarm

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

// DefinitionStore persists the user's alarm definitions.
type DefinitionStore interface {
	LoadAlarms() ([]model.Alarm, error)
	SaveAlarms(alarms []model.Alarm) error
}

// NotificationScheduler is the abstract wake-event capability: schedule
// a wake at time T for an alarm, cancel by id. The OS-specific trigger
// mechanics live behind it.
type NotificationScheduler interface {
	Schedule(alarm model.Alarm, at time.Time) error
	Cancel(alarmID uuid.UUID) error
}

// TriggerKind identifies the source of a wake trigger. All sources
// normalize to the same Begin on the session machine.
type TriggerKind int

const (
	TriggerNotificationDelivered TriggerKind = iota
	TriggerNotificationTapped
	TriggerManualTest
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerNotificationDelivered:
		return "notification-delivered"
	case TriggerNotificationTapped:
		return "notification-tapped"
	case TriggerManualTest:
		return "manual-test"
	default:
		return "unknown"
	}
}

// Service manages the alarm definitions and routes wake triggers into
// the session machine. It owns the in-memory copy of the definitions;
// the store only sees whole-set saves, mirroring blob persistence.
type Service struct {
	store   DefinitionStore
	sched   NotificationScheduler
	machine *Machine
	clock   Clock

	mu     sync.Mutex
	alarms []model.Alarm
}

// NewService loads the definitions and wires the service. A corrupt or
// missing definitions blob is treated as an empty set.
func NewService(store DefinitionStore, sched NotificationScheduler, machine *Machine, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		sched:   sched,
		machine: machine,
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	alarms, err := store.LoadAlarms()
	if err != nil {
		log.Printf("alarm: load definitions: %v", err)
	}
	s.alarms = alarms
	return s
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceClock substitutes the time source, for tests.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// Machine exposes the session machine for callers that observe session
// state directly.
func (s *Service) Machine() *Machine { return s.machine }

// Alarms returns a copy of the current definitions.
func (s *Service) Alarms() []model.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Alarm, len(s.alarms))
	copy(out, s.alarms)
	return out
}

// Add validates and stores a new alarm and schedules its next wake.
func (s *Service) Add(alarm model.Alarm) error {
	if err := alarm.Validate(); err != nil {
		return fmt.Errorf("invalid alarm: %w", err)
	}

	s.mu.Lock()
	for i := range s.alarms {
		if s.alarms[i].ID == alarm.ID {
			s.mu.Unlock()
			return fmt.Errorf("alarm %s already exists", alarm.ID)
		}
	}
	s.alarms = append(s.alarms, alarm)
	err := s.store.SaveAlarms(s.alarms)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save alarms: %w", err)
	}

	s.reschedule(alarm)
	return nil
}

// Update replaces an existing alarm and reschedules it.
func (s *Service) Update(alarm model.Alarm) error {
	if err := alarm.Validate(); err != nil {
		return fmt.Errorf("invalid alarm: %w", err)
	}

	s.mu.Lock()
	found := false
	for i := range s.alarms {
		if s.alarms[i].ID == alarm.ID {
			alarm.UpdatedAt = s.clock.Now()
			s.alarms[i] = alarm
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("alarm %s not found", alarm.ID)
	}
	err := s.store.SaveAlarms(s.alarms)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save alarms: %w", err)
	}

	s.reschedule(alarm)
	return nil
}

// Delete removes an alarm and cancels its scheduled wake.
func (s *Service) Delete(alarmID uuid.UUID) error {
	s.mu.Lock()
	kept := s.alarms[:0]
	found := false
	for _, a := range s.alarms {
		if a.ID == alarmID {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	s.alarms = kept
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("alarm %s not found", alarmID)
	}
	err := s.store.SaveAlarms(s.alarms)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save alarms: %w", err)
	}

	if err := s.sched.Cancel(alarmID); err != nil {
		log.Printf("alarm: cancel wake for %s: %v", alarmID, err)
	}
	return nil
}

// Toggle flips the enabled flag and (re)schedules or cancels the wake.
func (s *Service) Toggle(alarmID uuid.UUID) error {
	s.mu.Lock()
	var toggled *model.Alarm
	for i := range s.alarms {
		if s.alarms[i].ID == alarmID {
			s.alarms[i].Enabled = !s.alarms[i].Enabled
			s.alarms[i].UpdatedAt = s.clock.Now()
			a := s.alarms[i]
			toggled = &a
			break
		}
	}
	if toggled == nil {
		s.mu.Unlock()
		return fmt.Errorf("alarm %s not found", alarmID)
	}
	err := s.store.SaveAlarms(s.alarms)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save alarms: %w", err)
	}

	s.reschedule(*toggled)
	return nil
}

// NextAlarm returns the enabled alarm that fires soonest.
func (s *Service) NextAlarm() (model.Alarm, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	var best model.Alarm
	var bestAt time.Time
	found := false
	for _, a := range s.alarms {
		at, ok := a.NextFireTime(now)
		if !ok {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = a, at, true
		}
	}
	return best, found
}

// AlarmsForToday returns the enabled alarms that ring today.
func (s *Service) AlarmsForToday(now time.Time) []model.Alarm {
	today := Weekday(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alarm
	for _, a := range s.alarms {
		if !a.Enabled {
			continue
		}
		if len(a.RepeatDays) == 0 || a.RepeatDays[today] {
			out = append(out, a)
		}
	}
	return out
}

// Weekday converts a wall-clock time to the model's weekday.
func Weekday(t time.Time) model.Weekday {
	return model.Weekday(t.Weekday())
}

// OnNotificationDelivered is the wake entry point for an OS-delivered
// notification.
func (s *Service) OnNotificationDelivered(alarmID uuid.UUID) {
	s.handleTrigger(TriggerNotificationDelivered, alarmID, nil)
}

// OnNotificationTapped is the wake entry point for a tapped
// notification.
func (s *Service) OnNotificationTapped(alarmID uuid.UUID) {
	s.handleTrigger(TriggerNotificationTapped, alarmID, nil)
}

// OnManualTestTrigger rings the given alarm immediately.
func (s *Service) OnManualTestTrigger(alarm model.Alarm) {
	s.handleTrigger(TriggerManualTest, alarm.ID, &alarm)
}

func (s *Service) handleTrigger(kind TriggerKind, alarmID uuid.UUID, alarm *model.Alarm) {
	if alarm == nil {
		s.mu.Lock()
		for i := range s.alarms {
			if s.alarms[i].ID == alarmID {
				a := s.alarms[i]
				alarm = &a
				break
			}
		}
		s.mu.Unlock()
	}
	if alarm == nil {
		log.Printf("alarm: %s trigger for unknown alarm %s ignored", kind, alarmID)
		return
	}
	s.machine.Begin(*alarm)

	// One-shot alarms stay scheduled only until they ring once.
	if len(alarm.RepeatDays) > 0 {
		s.reschedule(*alarm)
	}
}

// DismissRinging resolves the ringing session without a stop code, the
// in-app stop button. Rejected when the ringing alarm requires
// stop-code verification: those sessions end through AttemptStop or
// the timer, never through a bare dismiss.
func (s *Service) DismissRinging() error {
	session, ok := s.machine.Session()
	if !ok || session.State != model.StateActive {
		return fmt.Errorf("no ringing alarm")
	}
	if session.QRRequired {
		return fmt.Errorf("alarm %s requires stop-code verification", session.AlarmID)
	}
	if !s.machine.MarkSuccess() {
		return fmt.Errorf("no ringing alarm")
	}
	return nil
}

// Snooze dismisses the current session for the alarm and schedules a
// one-shot wake after the alarm's snooze interval. Alarms that require
// stop-code verification cannot be snoozed out of an active session.
func (s *Service) Snooze(alarmID uuid.UUID) error {
	s.mu.Lock()
	var alarm *model.Alarm
	for i := range s.alarms {
		if s.alarms[i].ID == alarmID {
			a := s.alarms[i]
			alarm = &a
			break
		}
	}
	s.mu.Unlock()
	if alarm == nil {
		return fmt.Errorf("alarm %s not found", alarmID)
	}
	if !alarm.SnoozeEnabled {
		return fmt.Errorf("alarm %s has snooze disabled", alarmID)
	}

	if session, ok := s.machine.Session(); ok && session.State == model.StateActive {
		if session.AlarmID != alarmID {
			return fmt.Errorf("alarm %s is not the ringing alarm", alarmID)
		}
		if alarm.QRRequired {
			return fmt.Errorf("alarm %s requires stop-code verification", alarmID)
		}
		s.machine.MarkSuccess()
	}

	at := s.clock.Now().Add(time.Duration(alarm.SnoozeInterval) * time.Minute)
	if err := s.sched.Schedule(*alarm, at); err != nil {
		return fmt.Errorf("schedule snooze wake: %w", err)
	}
	return nil
}

// reschedule points the scheduler at the alarm's next fire time, or
// cancels the wake when there is none.
func (s *Service) reschedule(alarm model.Alarm) {
	at, ok := alarm.NextFireTime(s.clock.Now())
	if !ok {
		if err := s.sched.Cancel(alarm.ID); err != nil {
			log.Printf("alarm: cancel wake for %s: %v", alarm.ID, err)
		}
		return
	}
	if err := s.sched.Schedule(alarm, at); err != nil {
		log.Printf("alarm: schedule wake for %s: %v", alarm.ID, err)
	}
}
