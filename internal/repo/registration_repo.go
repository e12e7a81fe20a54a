package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

// RegistrationRepo defines the interface for escalation registration repository operations
type RegistrationRepo interface {
	Upsert(ctx context.Context, reg model.Registration) error
	Delete(ctx context.Context, alarmID, deviceID string) (bool, error)
	Due(ctx context.Context, now time.Time) ([]model.Registration, error)
	MarkFailed(ctx context.Context, alarmID, deviceID, sendErr string, retryAt time.Time) error
}

type registrationRepo struct {
	db *sql.DB
}

// NewRegistrationRepo creates a new RegistrationRepo instance
func NewRegistrationRepo(db *sql.DB) RegistrationRepo {
	return &registrationRepo{db: db}
}

// Upsert inserts or replaces the registration for (alarm_id, device_id).
// A re-register resets status and clears any pending retry.
func (r *registrationRepo) Upsert(ctx context.Context, reg model.Registration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registrations (alarm_id, device_id, phone_number, fire_date, deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alarm_id, device_id) DO UPDATE
		SET phone_number = EXCLUDED.phone_number,
		    fire_date    = EXCLUDED.fire_date,
		    deadline     = EXCLUDED.deadline,
		    status       = EXCLUDED.status,
		    last_error   = NULL,
		    retry_at     = NULL,
		    updated_at   = now()
	`, reg.AlarmID, reg.DeviceID, reg.PhoneNumber, reg.FireDate, reg.Deadline, model.RegistrationScheduled)
	if err != nil {
		return fmt.Errorf("upsert registration: %w", err)
	}
	return nil
}

// Delete removes the registration; reports whether a row existed.
// Idempotent: deleting an absent registration is not an error.
func (r *registrationRepo) Delete(ctx context.Context, alarmID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM registrations WHERE alarm_id = $1 AND device_id = $2
	`, alarmID, deviceID)
	if err != nil {
		return false, fmt.Errorf("delete registration: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Due returns registrations whose deadline has passed and that are not
// waiting out an SMS retry backoff.
func (r *registrationRepo) Due(ctx context.Context, now time.Time) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT alarm_id, device_id, phone_number, fire_date, deadline,
		       status, last_error, retry_at, created_at, updated_at
		FROM registrations
		WHERE deadline <= $1
		  AND (retry_at IS NULL OR retry_at <= $1)
		ORDER BY deadline
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query due registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(
			&reg.AlarmID,
			&reg.DeviceID,
			&reg.PhoneNumber,
			&reg.FireDate,
			&reg.Deadline,
			&reg.Status,
			&reg.LastError,
			&reg.RetryAt,
			&reg.CreatedAt,
			&reg.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return regs, nil
}

// MarkFailed records an SMS send failure and schedules a retry.
func (r *registrationRepo) MarkFailed(ctx context.Context, alarmID, deviceID, sendErr string, retryAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = $3, last_error = $4, retry_at = $5, updated_at = now()
		WHERE alarm_id = $1 AND device_id = $2
	`, alarmID, deviceID, model.RegistrationFailed, sendErr, retryAt)
	if err != nil {
		return fmt.Errorf("mark registration failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("registration not found")
	}
	return nil
}
