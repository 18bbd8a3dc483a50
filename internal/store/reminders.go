package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/models"
)

const reminderColumns = `id, appointment_id, business_id, recipient_phone, remind_at, next_attempt_at, status,
	attempts, max_attempts, COALESCE(last_error, '') AS last_error, payload, created_at, updated_at`

// ReplaceReminder cancels any pending reminder of the appointment and inserts
// r as its only pending reminder. It returns how many reminders were cancelled.
func (s *Store) ReplaceReminder(ctx context.Context, r *models.ScheduledReminder) (int64, error) {
	if len(r.Payload) == 0 {
		r.Payload = []byte("{}")
	}
	if r.NextAttemptAt.IsZero() {
		r.NextAttemptAt = r.RemindAt
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE scheduled_reminders SET status = $1, updated_at = NOW()
		 WHERE appointment_id = $2 AND status = $3`,
		models.ReminderCancelled, r.AppointmentID, models.ReminderPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending reminders: %w", err)
	}
	cancelled, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO scheduled_reminders (appointment_id, business_id, recipient_phone, remind_at, next_attempt_at,
			status, max_attempts, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	if err := tx.GetContext(ctx, r, query,
		r.AppointmentID, r.BusinessID, r.RecipientPhone, r.RemindAt, r.NextAttemptAt, r.Status,
		r.MaxAttempts, r.Payload); err != nil {
		return 0, fmt.Errorf("failed to insert reminder: %w", err)
	}

	return cancelled, tx.Commit()
}

// RetryReminder puts a dispatched reminder back to PENDING with its next
// attempt at nextAttempt, or marks it FAILED once max_attempts is reached.
// It returns the resulting status, or "" when the reminder is not SENT.
func (s *Store) RetryReminder(ctx context.Context, id string, nextAttempt time.Time, lastErr string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status,
		`UPDATE scheduled_reminders
		 SET attempts = attempts + 1,
		     status = CASE WHEN attempts + 1 >= max_attempts THEN $1 ELSE $2 END,
		     next_attempt_at = $3, last_error = $4, updated_at = NOW()
		 WHERE id = $5 AND status = $6
		 RETURNING status`,
		models.ReminderFailed, models.ReminderPending, nextAttempt, lastErr, id, models.ReminderSent)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// CancelReminders marks every pending reminder of an appointment cancelled
// and returns how many were affected.
func (s *Store) CancelReminders(ctx context.Context, appointmentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_reminders SET status = $1, updated_at = NOW()
		 WHERE appointment_id = $2 AND status = $3`,
		models.ReminderCancelled, appointmentID, models.ReminderPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetRemindersByAppointmentID lists reminders of an appointment
func (s *Store) GetRemindersByAppointmentID(ctx context.Context, appointmentID string) ([]models.ScheduledReminder, error) {
	reminders := []models.ScheduledReminder{}
	err := s.db.SelectContext(ctx, &reminders,
		"SELECT "+reminderColumns+" FROM scheduled_reminders WHERE appointment_id = $1 ORDER BY remind_at",
		appointmentID)
	return reminders, err
}

// ProcessDueReminders locks up to limit reminders whose next attempt is due
// and hands each to fn inside one transaction. Successful reminders are
// marked SENT. Failed ones keep their remind_at and are retried after backoff
// until max_attempts, then marked FAILED.
func (s *Store) ProcessDueReminders(
	ctx context.Context,
	limit int,
	backoff time.Duration,
	fn func(context.Context, models.ScheduledReminder) error,
) (sent, failed int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var due []models.ScheduledReminder
	err = tx.SelectContext(ctx, &due,
		`SELECT `+reminderColumns+`
		 FROM scheduled_reminders
		 WHERE status = $1 AND next_attempt_at <= NOW()
		 ORDER BY next_attempt_at
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`, models.ReminderPending, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch due reminders: %w", err)
	}

	for _, r := range due {
		if hErr := fn(ctx, r); hErr != nil {
			attempts := r.Attempts + 1
			status := models.ReminderPending
			if attempts >= r.MaxAttempts {
				status = models.ReminderFailed
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE scheduled_reminders
				 SET attempts = $1, status = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
				 WHERE id = $5`,
				attempts, status, time.Now().UTC().Add(backoff), hErr.Error(), r.ID)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to record reminder failure: %w", err)
			}
			failed++
			continue
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE scheduled_reminders SET status = $1, updated_at = NOW() WHERE id = $2",
			models.ReminderSent, r.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to mark reminder sent: %w", err)
		}
		sent++
	}

	return sent, failed, tx.Commit()
}
