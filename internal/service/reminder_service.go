package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"go.uber.org/zap"
)

// ReminderService schedules and cancels WhatsApp appointment reminders
type ReminderService struct {
	store       ReminderStore
	lead        time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewReminderService creates a reminder service that fires lead before each
// appointment. Failed deliveries are retried backoff later.
func NewReminderService(store ReminderStore, lead time.Duration, maxAttempts int, backoff time.Duration) *ReminderService {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &ReminderService{
		store:       store,
		lead:        lead,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// RemindAt returns when the reminder for an appointment starting at start fires
func (rs *ReminderService) RemindAt(start time.Time) time.Time {
	return start.Add(-rs.lead)
}

type reminderPayload struct {
	CustomerName string    `json:"customer_name,omitempty"`
	StartTime    time.Time `json:"start_time"`
}

// Schedule makes a new reminder the only pending reminder of appt. It
// returns false without error when the reminder time has already passed.
func (rs *ReminderService) Schedule(ctx context.Context, appt *models.Appointment, contact models.CustomerContact) (bool, error) {
	ctx, span := util.StartSpan(ctx, "ReminderService.Schedule")
	defer span.End()

	remindAt := rs.RemindAt(appt.StartTime)
	if !remindAt.After(rs.now()) {
		rs.logger.Info("Reminder time already passed, not scheduling",
			zap.String("appointment_id", appt.ID),
			zap.Time("remind_at", remindAt))
		return false, nil
	}

	payload, err := json.Marshal(reminderPayload{CustomerName: contact.Name, StartTime: appt.StartTime})
	if err != nil {
		return false, fmt.Errorf("failed to encode reminder payload: %w", err)
	}

	r := &models.ScheduledReminder{
		AppointmentID:  appt.ID,
		BusinessID:     appt.BusinessID,
		RecipientPhone: contact.Phone,
		RemindAt:       remindAt.UTC(),
		Status:         models.ReminderPending,
		MaxAttempts:    rs.maxAttempts,
		Payload:        payload,
	}
	replaced, err := rs.store.ReplaceReminder(ctx, r)
	if err != nil {
		return false, fmt.Errorf("failed to create reminder: %w", err)
	}
	if replaced > 0 {
		util.RemindersCancelledTotal.Add(float64(replaced))
	}

	util.RemindersScheduledTotal.Inc()
	rs.logger.Info("Reminder scheduled",
		zap.String("appointment_id", appt.ID),
		zap.String("reminder_id", r.ID),
		zap.Time("remind_at", r.RemindAt),
		zap.Int64("replaced", replaced))
	return true, nil
}

// Retry returns a dispatched reminder to the queue after a failed delivery.
// It reports whether another attempt will be made.
func (rs *ReminderService) Retry(ctx context.Context, reminderID string, cause error) (bool, error) {
	ctx, span := util.StartSpan(ctx, "ReminderService.Retry")
	defer span.End()

	status, err := rs.store.RetryReminder(ctx, reminderID, rs.now().UTC().Add(rs.backoff), cause.Error())
	if err != nil {
		return false, fmt.Errorf("failed to requeue reminder: %w", err)
	}

	switch status {
	case models.ReminderPending:
		util.ReminderRetriesTotal.WithLabelValues("requeued").Inc()
		rs.logger.Warn("Reminder delivery failed, will retry",
			zap.String("reminder_id", reminderID),
			zap.Duration("backoff", rs.backoff),
			zap.Error(cause))
		return true, nil
	case models.ReminderFailed:
		util.ReminderRetriesTotal.WithLabelValues("exhausted").Inc()
		rs.logger.Error("Reminder delivery failed, attempts exhausted",
			zap.String("reminder_id", reminderID),
			zap.Error(cause))
	default:
		rs.logger.Warn("Reminder not awaiting delivery, not retrying",
			zap.String("reminder_id", reminderID))
	}
	return false, nil
}

// Cancel marks every pending reminder of an appointment cancelled
func (rs *ReminderService) Cancel(ctx context.Context, appointmentID string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "ReminderService.Cancel")
	defer span.End()

	n, err := rs.store.CancelReminders(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	if n > 0 {
		util.RemindersCancelledTotal.Add(float64(n))
		rs.logger.Info("Reminders cancelled",
			zap.String("appointment_id", appointmentID),
			zap.Int64("count", n))
	}
	return n, nil
}

// List returns every reminder of an appointment
func (rs *ReminderService) List(ctx context.Context, appointmentID string) ([]models.ScheduledReminder, error) {
	return rs.store.GetRemindersByAppointmentID(ctx, appointmentID)
}
