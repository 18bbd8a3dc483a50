package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/store"
	"appointment-service/internal/util"
	"appointment-service/internal/whatsapp"

	"go.uber.org/zap"
)

// DefaultSpecialistName is shown when no specialist is known.
const DefaultSpecialistName = "Especialista"

// reminderDrift is how far a due reminder may be from the appointment's
// current reminder time before it is treated as stale.
const reminderDrift = time.Minute

// StatusNotifier turns appointment transitions into customer notifications
// and keeps the appointment's reminder in step.
type StatusNotifier struct {
	store     NoticeStore
	contacts  *ContactResolver
	notifier  Notifier
	reminders *ReminderService
	events    EventLog
	logger    *zap.Logger
}

// NewStatusNotifier creates a new status notifier
func NewStatusNotifier(
	store NoticeStore,
	contacts *ContactResolver,
	notifier Notifier,
	reminders *ReminderService,
	events EventLog,
) *StatusNotifier {
	return &StatusNotifier{
		store:     store,
		contacts:  contacts,
		notifier:  notifier,
		reminders: reminders,
		events:    events,
		logger:    util.GetLogger(),
	}
}

// NotifyCreated confirms a new booking and schedules its reminder.
func (sn *StatusNotifier) NotifyCreated(ctx context.Context, appt *models.Appointment) (sent, scheduled bool) {
	ctx, span := util.StartSpan(ctx, "StatusNotifier.NotifyCreated")
	defer span.End()

	notice, contact, ok := sn.prepare(ctx, appt, "")
	if !ok {
		return false, false
	}

	res := sn.notifier.SendAppointmentConfirmation(ctx, notice)
	sn.report(appt.ID, "confirmation", res)

	if appt.Status != models.StatusCancelled {
		scheduled = sn.schedule(ctx, appt, contact)
	}
	return res.Success, scheduled
}

// Dispatch sends the notification implied by moving from prev to curr.
// Cancellation wins over every other change; otherwise confirmation,
// completion and reschedule are evaluated in that order.
func (sn *StatusNotifier) Dispatch(ctx context.Context, prev, curr *models.Appointment) {
	ctx, span := util.StartSpan(ctx, "StatusNotifier.Dispatch")
	defer span.End()

	statusChanged := prev.Status != curr.Status
	timeChanged := !prev.StartTime.Equal(curr.StartTime)

	if curr.Status == models.StatusCancelled {
		sn.cancelReminders(ctx, curr.ID)
		if !statusChanged {
			return
		}
		if notice, _, ok := sn.prepare(ctx, curr, ""); ok {
			sn.report(curr.ID, "cancellation", sn.notifier.SendAppointmentCancellation(ctx, notice))
		}
		return
	}

	if !statusChanged && !timeChanged {
		return
	}

	notice, contact, ok := sn.prepare(ctx, curr, "")

	if prev.Status == models.StatusPending && curr.Status == models.StatusConfirmed && ok {
		sn.report(curr.ID, "confirmation", sn.notifier.SendAppointmentConfirmation(ctx, notice))
		if !timeChanged {
			sn.schedule(ctx, curr, contact)
		}
	}

	if transitionedTo(prev.Status, curr.Status, models.StatusCompleted) && ok {
		sn.report(curr.ID, "completed", sn.notifier.SendAppointmentCompleted(ctx, notice))
	}

	if timeChanged {
		sn.cancelReminders(ctx, curr.ID)
		if ok {
			moved := notice
			moved.PreviousStartTime = prev.StartTime
			sn.report(curr.ID, "rescheduled", sn.notifier.SendAppointmentRescheduled(ctx, moved))
			sn.schedule(ctx, curr, contact)
		}
	}
}

// DeliverReminder sends the reminder announced by a REMINDER_DUE event.
// Events are handled once; reminders for appointments that were closed or
// moved since scheduling are dropped. A failed send puts the reminder back
// in the queue so the poller publishes it again after the retry backoff.
func (sn *StatusNotifier) DeliverReminder(ctx context.Context, event *models.ReminderDueEvent) error {
	ctx, span := util.StartSpan(ctx, "StatusNotifier.DeliverReminder")
	defer span.End()

	processed, err := sn.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		sn.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	appt, err := sn.store.GetAppointmentByID(ctx, event.AppointmentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		sn.logger.Info("Reminder for deleted appointment dropped",
			zap.String("appointment_id", event.AppointmentID))
	case err != nil:
		return fmt.Errorf("failed to load appointment: %w", err)
	case sn.reminderStale(appt, event):
		sn.logger.Info("Stale reminder dropped",
			zap.String("appointment_id", appt.ID),
			zap.String("status", appt.Status),
			zap.Time("remind_at", event.RemindAt))
	default:
		if notice, _, ok := sn.prepare(ctx, appt, event.RecipientPhone); ok {
			res := sn.notifier.SendAppointmentReminder(ctx, notice)
			sn.report(appt.ID, "reminder", res)
			if !res.Success && !res.Skipped {
				if err := sn.requeue(ctx, event, errors.New(res.Error)); err != nil {
					return err
				}
			}
		}
	}

	if err := sn.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		sn.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// requeue hands a failed reminder back to the poller. Without a reminder to
// requeue the error is returned so the event is not marked processed.
func (sn *StatusNotifier) requeue(ctx context.Context, event *models.ReminderDueEvent, cause error) error {
	if event.ReminderID == "" {
		return fmt.Errorf("reminder delivery failed: %w", cause)
	}
	if _, err := sn.reminders.Retry(ctx, event.ReminderID, cause); err != nil {
		return fmt.Errorf("reminder delivery failed: %v: %w", cause, err)
	}
	return nil
}

func (sn *StatusNotifier) reminderStale(appt *models.Appointment, event *models.ReminderDueEvent) bool {
	switch appt.Status {
	case models.StatusCancelled, models.StatusCompleted, models.StatusNoShow:
		return true
	}
	drift := sn.reminders.RemindAt(appt.StartTime).Sub(event.RemindAt)
	return drift > reminderDrift || drift < -reminderDrift
}

// prepare resolves the customer and builds the notice for appt. ok is false
// when the customer cannot be reached; the reason is logged.
func (sn *StatusNotifier) prepare(ctx context.Context, appt *models.Appointment, fallbackPhone string) (whatsapp.Notice, models.CustomerContact, bool) {
	contact, err := sn.contacts.Resolve(ctx, appt.UserProfileID, appt.BusinessID)
	if err != nil {
		sn.logger.Warn("Customer contact could not be resolved",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
	}
	if contact.Phone == "" {
		contact.Phone = fallbackPhone
	}
	if contact.Phone == "" {
		sn.logger.Info("Customer has no phone, skipping notification",
			zap.String("appointment_id", appt.ID),
			zap.String("user_profile_id", appt.UserProfileID))
		return whatsapp.Notice{}, contact, false
	}

	notice, err := sn.buildNotice(ctx, appt, contact)
	if err != nil {
		sn.logger.Error("Failed to build notification",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
		return whatsapp.Notice{}, contact, false
	}
	return notice, contact, true
}

func (sn *StatusNotifier) buildNotice(ctx context.Context, appt *models.Appointment, contact models.CustomerContact) (whatsapp.Notice, error) {
	business, err := sn.store.GetBusinessByID(ctx, appt.BusinessID)
	if err != nil {
		return whatsapp.Notice{}, fmt.Errorf("failed to load business: %w", err)
	}

	lines, err := sn.store.GetServiceLines(ctx, appt.ID)
	if err != nil {
		sn.logger.Warn("Failed to load service lines for notification",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
	}

	services := make([]whatsapp.ServiceSummary, 0, len(lines))
	for _, l := range lines {
		services = append(services, whatsapp.ServiceSummary{
			Name:            l.ServiceName,
			Price:           l.Price,
			DurationMinutes: l.DurationMinutes,
		})
	}

	notice := whatsapp.Notice{
		AppointmentID:   appt.ID,
		BusinessID:      appt.BusinessID,
		CustomerPhone:   contact.Phone,
		CustomerName:    contact.Name,
		BusinessName:    business.Name,
		BusinessAddress: business.Address,
		BusinessPhone:   business.Phone,
		SpecialistName:  sn.specialistName(ctx, appt, lines),
		Services:        services,
		TotalPrice:      appt.TotalPrice,
		StartTime:       appt.StartTime,
	}
	if business.WhatsAppPhoneNumberID != nil {
		notice.PhoneNumberID = *business.WhatsAppPhoneNumberID
	}
	return notice, nil
}

func (sn *StatusNotifier) specialistName(ctx context.Context, appt *models.Appointment, lines []models.ServiceLine) string {
	if names := lineSpecialistNames(lines); names != "" {
		return names
	}
	if appt.SpecialistID == nil || *appt.SpecialistID == "" {
		return DefaultSpecialistName
	}

	specialists, err := sn.store.GetSpecialistsByIDs(ctx, []string{*appt.SpecialistID})
	if err != nil {
		sn.logger.Warn("Failed to load specialist",
			zap.String("specialist_id", *appt.SpecialistID),
			zap.Error(err))
	}
	for _, sp := range specialists {
		if sp.Name != "" {
			return sp.Name
		}
	}
	return DefaultSpecialistName
}

// lineSpecialistNames joins the distinct specialists of the service lines
// in line order.
func lineSpecialistNames(lines []models.ServiceLine) string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range lines {
		if l.SpecialistID == nil || l.SpecialistName == "" || seen[*l.SpecialistID] {
			continue
		}
		seen[*l.SpecialistID] = true
		names = append(names, l.SpecialistName)
	}
	return strings.Join(names, ", ")
}

func (sn *StatusNotifier) schedule(ctx context.Context, appt *models.Appointment, contact models.CustomerContact) bool {
	ok, err := sn.reminders.Schedule(ctx, appt, contact)
	if err != nil {
		util.SideEffectFailuresTotal.WithLabelValues("reminder").Inc()
		sn.logger.Error("Failed to schedule reminder",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
	}
	return ok
}

func (sn *StatusNotifier) cancelReminders(ctx context.Context, appointmentID string) {
	if _, err := sn.reminders.Cancel(ctx, appointmentID); err != nil {
		util.SideEffectFailuresTotal.WithLabelValues("reminder").Inc()
		sn.logger.Error("Failed to cancel reminders",
			zap.String("appointment_id", appointmentID),
			zap.Error(err))
	}
}

func (sn *StatusNotifier) report(appointmentID, kind string, res whatsapp.Result) {
	switch {
	case res.Success:
		sn.logger.Info("Notification sent",
			zap.String("appointment_id", appointmentID),
			zap.String("kind", kind),
			zap.String("message_id", res.MessageID))
	case res.Skipped:
		sn.logger.Info("Notification skipped",
			zap.String("appointment_id", appointmentID),
			zap.String("kind", kind),
			zap.String("reason", res.Error))
	default:
		util.SideEffectFailuresTotal.WithLabelValues("notification").Inc()
		sn.logger.Error("Notification failed",
			zap.String("appointment_id", appointmentID),
			zap.String("kind", kind),
			zap.String("error", res.Error))
	}
}

func transitionedTo(prev, next, target string) bool {
	return next == target && prev != target
}
