package alarm

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

// SoundController starts and stops alarm playback. Implementations wrap
// the platform audio layer; tests substitute fakes.
type SoundController interface {
	Play(soundName string, volume float64)
	Stop()
	Playing() bool
}

// Escalator is the outbound escalation relay contract. All three calls
// are best-effort: the implementation owns timeouts and retries, and a
// failure never affects local session state.
type Escalator interface {
	Register(ctx context.Context, alarmID uuid.UUID, startedAt time.Time, contact string) error
	Cancel(ctx context.Context, alarmID uuid.UUID, startedAt time.Time) error
	NotifyTimeout(ctx context.Context, alarmID uuid.UUID, startedAt time.Time, contact string) error
}

// SessionRecordStore persists the restart-recovery record.
type SessionRecordStore interface {
	SaveSessionRecord(rec model.SessionRecord) error
	LoadSessionRecord() (model.SessionRecord, bool, error)
	ClearSessionRecord() error
}

// HistoryRecorder receives the outcome of each resolved session.
type HistoryRecorder interface {
	Record(rec model.WakeUpRecord)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Machine owns the single ringing-session lifecycle:
//
//	Idle -> Active -> {Success, Failure} -> Idle (explicit reset only)
//
// Every mutation is serialized through one mutex because triggers
// arrive concurrently: notification delivery, notification tap, the
// in-app stop button, the camera-scan callback and the timer expiry.
// Whichever terminal transition lands first wins; the loser observes
// the terminal-state guard and becomes a no-op.
type Machine struct {
	sound   SoundController
	gateway Escalator
	records SessionRecordStore

	window  time.Duration
	contact string

	clock        Clock
	history      HistoryRecorder
	onTransition func(model.Session)

	mu      sync.Mutex
	session *model.Session
	seq     uint64 // bumped per session; stale timer callbacks check it
	timer   *VerificationTimer
}

// MachineOption customizes the machine.
type MachineOption func(*Machine)

// WithClock substitutes the time source, for tests.
func WithClock(clock Clock) MachineOption {
	return func(m *Machine) { m.clock = clock }
}

// WithHistory records resolved sessions into the wake-up history.
func WithHistory(h HistoryRecorder) MachineOption {
	return func(m *Machine) { m.history = h }
}

// WithTransitionHook observes every state change with a session
// snapshot. The hook runs outside the machine lock; UI visibility is
// derived purely from these snapshots.
func WithTransitionHook(fn func(model.Session)) MachineOption {
	return func(m *Machine) { m.onTransition = fn }
}

// NewMachine wires the session machine to its collaborators. window is
// the local verification grace window; contact is the emergency phone
// number resolved at session start.
func NewMachine(sound SoundController, gateway Escalator, records SessionRecordStore, window time.Duration, contact string, opts ...MachineOption) *Machine {
	m := &Machine{
		sound:   sound,
		gateway: gateway,
		records: records,
		window:  window,
		contact: contact,
		clock:   systemClock{},
		timer:   NewVerificationTimer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns a snapshot of the current session, if any.
func (m *Machine) Session() (model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return model.Session{}, false
	}
	return *m.session, true
}

// State returns the current lifecycle state.
func (m *Machine) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return model.StateIdle
	}
	return m.session.State
}

// Begin starts a ringing session for the alarm: playback on, the
// verification timer armed, the restart-recovery record written, and
// the relay registration dispatched in the background. A call while a
// session is still Active is rejected, not queued; a call over a
// terminal session auto-resets first.
func (m *Machine) Begin(alarm model.Alarm) {
	m.mu.Lock()
	if m.session != nil && !m.session.State.Terminal() {
		log.Printf("alarm: begin %s rejected, session for alarm %s still %s",
			alarm.ID, m.session.AlarmID, m.session.State)
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	m.seq++
	seq := m.seq
	session := &model.Session{
		AlarmID:          alarm.ID,
		AlarmTitle:       alarm.Title,
		ExpectedToken:    alarm.ExpectedStopToken,
		QRRequired:       alarm.QRRequired,
		EmergencyContact: m.contact,
		StartedAt:        now,
		Deadline:         now.Add(m.window),
		State:            model.StateActive,
	}
	m.session = session

	// Local effects complete, in program order, before the network call
	// is dispatched: a crash right after Begin still leaves correct
	// local and persisted state.
	m.sound.Play(alarm.SoundName, alarm.Volume)
	if err := m.records.SaveSessionRecord(model.SessionRecord{
		CurrentAlarmID: alarm.ID.String(),
		AlarmStartTime: now,
	}); err != nil {
		log.Printf("alarm: save session record: %v", err)
	}
	m.timer.Arm(m.window, func() { m.onTimerExpired(seq) })

	snapshot := *session
	m.mu.Unlock()

	m.notifyTransition(snapshot)
	go func() {
		if err := m.gateway.Register(context.Background(), snapshot.AlarmID, snapshot.StartedAt, snapshot.EmergencyContact); err != nil {
			log.Printf("alarm: escalation register for %s: %v", snapshot.AlarmID, err)
		}
	}()
}

// AttemptStop validates the candidate stop code against the live
// session. On success the session resolves to Success; otherwise
// nothing changes and false is returned.
func (m *Machine) AttemptStop(code string) bool {
	m.mu.Lock()
	session := m.session
	if session == nil || session.State != model.StateActive || !ValidateStopCode(code, session) {
		m.mu.Unlock()
		return false
	}
	snapshot := m.succeedLocked()
	m.mu.Unlock()

	m.resolve(snapshot, true)
	return true
}

// MarkSuccess resolves the Active session without a stop code. This is
// the in-app stop path for alarms that do not require verification; the
// caller is responsible for that policy check.
func (m *Machine) MarkSuccess() bool {
	m.mu.Lock()
	if m.session == nil || m.session.State != model.StateActive {
		m.mu.Unlock()
		return false
	}
	snapshot := m.succeedLocked()
	m.mu.Unlock()

	m.resolve(snapshot, true)
	return true
}

// succeedLocked flips the Active session to Success and performs the
// local effects. Caller holds the lock.
func (m *Machine) succeedLocked() model.Session {
	m.session.State = model.StateSuccess
	m.sound.Stop()
	m.timer.Disarm()
	if err := m.records.ClearSessionRecord(); err != nil {
		log.Printf("alarm: clear session record: %v", err)
	}
	return *m.session
}

// onTimerExpired runs when the verification window elapses. It is a
// no-op unless the session it was armed for is still the current one
// and still Active, which closes the race with a near-simultaneous
// successful stop.
func (m *Machine) onTimerExpired(seq uint64) {
	m.mu.Lock()
	if m.seq != seq || m.session == nil || m.session.State != model.StateActive {
		m.mu.Unlock()
		return
	}
	m.session.State = model.StateFailure
	m.sound.Stop()
	m.timer.Disarm()
	if err := m.records.ClearSessionRecord(); err != nil {
		log.Printf("alarm: clear session record: %v", err)
	}
	snapshot := *m.session
	m.mu.Unlock()

	m.resolve(snapshot, false)
}

// ResetToIdle clears a resolved session. It is rejected while the
// session is non-terminal so an external actor cannot silently discard
// an in-flight session.
func (m *Machine) ResetToIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return true
	}
	if !m.session.State.Terminal() {
		log.Printf("alarm: reset rejected, session for alarm %s still %s",
			m.session.AlarmID, m.session.State)
		return false
	}
	m.session = nil
	return true
}

// RecoverOnLaunch reconciles state after a process restart. A persisted
// record still inside the grace window rehydrates the Active session
// with its original start time and deadline; a stale, unparsable or
// orphaned record is discarded. A missed timeout is not replayed
// locally: the relay's own sweep is the backstop for sessions that
// expired while the process was not running.
func (m *Machine) RecoverOnLaunch(alarms []model.Alarm) {
	rec, ok, err := m.records.LoadSessionRecord()
	if err != nil {
		log.Printf("alarm: load session record: %v", err)
		return
	}
	if !ok {
		return
	}

	discard := func(reason string) {
		log.Printf("alarm: discarding session record for %q: %s", rec.CurrentAlarmID, reason)
		if err := m.records.ClearSessionRecord(); err != nil {
			log.Printf("alarm: clear session record: %v", err)
		}
	}

	alarmID, err := uuid.Parse(rec.CurrentAlarmID)
	if err != nil {
		discard("unparsable alarm id")
		return
	}
	var alarm *model.Alarm
	for i := range alarms {
		if alarms[i].ID == alarmID {
			alarm = &alarms[i]
			break
		}
	}
	if alarm == nil {
		discard("alarm no longer exists")
		return
	}

	now := m.clock.Now()
	remaining := m.window - now.Sub(rec.AlarmStartTime)
	if remaining <= 0 {
		discard("grace window elapsed")
		return
	}

	m.mu.Lock()
	if m.session != nil && !m.session.State.Terminal() {
		m.mu.Unlock()
		log.Printf("alarm: recover skipped, session already active")
		return
	}
	m.seq++
	seq := m.seq
	session := &model.Session{
		AlarmID:          alarm.ID,
		AlarmTitle:       alarm.Title,
		ExpectedToken:    alarm.ExpectedStopToken,
		QRRequired:       alarm.QRRequired,
		EmergencyContact: m.contact,
		StartedAt:        rec.AlarmStartTime,
		Deadline:         rec.AlarmStartTime.Add(m.window),
		State:            model.StateActive,
	}
	m.session = session
	m.sound.Play(alarm.SoundName, alarm.Volume)
	m.timer.Arm(remaining, func() { m.onTimerExpired(seq) })
	snapshot := *session
	m.mu.Unlock()

	// The relay registration from the original Begin still stands, so no
	// re-register here.
	m.notifyTransition(snapshot)
}

// resolve performs the post-transition work common to both terminal
// outcomes: the observer hook, the history record, and the background
// relay call.
func (m *Machine) resolve(session model.Session, success bool) {
	m.notifyTransition(session)

	if m.history != nil {
		now := m.clock.Now()
		m.history.Record(model.WakeUpRecord{
			ID:         uuid.New(),
			Date:       now,
			AlarmID:    session.AlarmID,
			AlarmTitle: session.AlarmTitle,
			WakeUpTime: now,
			Verified:   success,
			TimeToWake: now.Sub(session.StartedAt),
		})
	}

	go func() {
		var err error
		if success {
			err = m.gateway.Cancel(context.Background(), session.AlarmID, session.StartedAt)
		} else {
			err = m.gateway.NotifyTimeout(context.Background(), session.AlarmID, session.StartedAt, session.EmergencyContact)
		}
		if err != nil {
			log.Printf("alarm: escalation call for %s: %v", session.AlarmID, err)
		}
	}()
}

func (m *Machine) notifyTransition(session model.Session) {
	if m.onTransition != nil {
		m.onTransition(session)
	}
}
