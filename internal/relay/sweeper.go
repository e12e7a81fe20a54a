package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/ikkeifujio/WakeOrPay/internal/metrics"
	"github.com/ikkeifujio/WakeOrPay/internal/repo"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Sweeper periodically fires registrations whose deadline has passed:
// the backstop for a phone that was killed before it could report its
// own timeout. SMS failures are recorded on the registration and
// retried on a later pass; a successful send removes it.
type Sweeper struct {
	registrations repo.RegistrationRepo
	sender        Sender
	interval      time.Duration
	retryAfter    time.Duration
	clock         Clock
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperClock substitutes the time source, for tests.
func WithSweeperClock(clock Clock) SweeperOption {
	return func(s *Sweeper) { s.clock = clock }
}

// NewSweeper wires the sweep loop.
func NewSweeper(registrations repo.RegistrationRepo, sender Sender, interval, retryAfter time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		registrations: registrations,
		sender:        sender,
		interval:      interval,
		retryAfter:    retryAfter,
		clock:         systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("sweeper: %v", err)
			}
		}
	}
}

// Sweep processes every due registration once. Failures on one
// registration do not stop the pass; they are aggregated and returned.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.registrations.Due(ctx, now)
	if err != nil {
		return fmt.Errorf("list due registrations: %w", err)
	}

	var errs error
	for _, reg := range due {
		metrics.IncSweepDue()

		if err := s.sender.Send(ctx, reg.PhoneNumber, EmergencyMessage(reg.AlarmID)); err != nil {
			metrics.IncSMS("sweep", "failed")
			retryAt := s.clock.Now().Add(s.retryAfter)
			if markErr := s.registrations.MarkFailed(ctx, reg.AlarmID, reg.DeviceID, err.Error(), retryAt); markErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("mark %s/%s failed: %w", reg.AlarmID, reg.DeviceID, markErr))
			}
			errs = multierr.Append(errs, fmt.Errorf("send SMS for %s: %w", reg.AlarmID, err))
			continue
		}

		metrics.IncSMS("sweep", "sent")
		log.Printf("sweeper: SMS sent for alarm %s (deadline %s)", reg.AlarmID, reg.Deadline.Format(time.RFC3339))
		if _, err := s.registrations.Delete(ctx, reg.AlarmID, reg.DeviceID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s/%s: %w", reg.AlarmID, reg.DeviceID, err))
		}
	}
	return errs
}
