package service

import (
	"context"
	"testing"
	"time"

	"appointment-service/internal/broker"
	"appointment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineSpecialistNames(t *testing.T) {
	lines := []models.ServiceLine{
		{SpecialistID: &specialistBia, SpecialistName: "Bia"},
		{SpecialistID: nil},
		{SpecialistID: &specialistAna, SpecialistName: "Ana"},
		{SpecialistID: &specialistBia, SpecialistName: "Bia"},
	}
	assert.Equal(t, "Bia, Ana", lineSpecialistNames(lines))
	assert.Equal(t, "", lineSpecialistNames(nil))
}

func TestNoticeListsSpecialistsInBookingOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := baseRequest(testNow.Add(3 * time.Hour))
	req.Services = []ServiceLineRequest{
		{ServiceID: "svc-color", SpecialistID: &specialistBia, Price: decimal.NewFromInt(200)},
		{ServiceID: "svc-cut", SpecialistID: &specialistAna, Price: decimal.NewFromInt(100)},
		{ServiceID: "svc-cut", SpecialistID: &specialistBia, Price: decimal.NewFromInt(100)},
	}
	created, err := h.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	id := created.Appointment.ID

	stored := h.store.services[id]
	require.Len(t, stored, 3)
	for i, l := range stored {
		assert.Equal(t, i, l.Position)
	}
	assert.Equal(t, "Bia, Ana", h.notifier.sent[0].Notice.SpecialistName)

	// rows come back from storage in arbitrary physical order
	stored[0], stored[2] = stored[2], stored[0]
	notice, err := h.status.buildNotice(ctx, created.Appointment, models.CustomerContact{Phone: "11987654321"})
	require.NoError(t, err)
	assert.Equal(t, "Bia, Ana", notice.SpecialistName)
	assert.Equal(t, "Coloração", notice.Services[0].Name)
}

func TestSpecialistNameFallbacks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	appt := &models.Appointment{ID: "a1", SpecialistID: &specialistAna}
	assert.Equal(t, "Ana", h.status.specialistName(ctx, appt, nil))

	appt.SpecialistID = nil
	assert.Equal(t, DefaultSpecialistName, h.status.specialistName(ctx, appt, nil))

	unknown := "spec-unknown"
	appt.SpecialistID = &unknown
	assert.Equal(t, DefaultSpecialistName, h.status.specialistName(ctx, appt, nil))
}

func TestDispatchIgnoresUnchangedResave(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(4 * time.Hour)
	prev := &models.Appointment{ID: "a1", BusinessID: testBusinessID, UserProfileID: testProfileID,
		Status: models.StatusConfirmed, StartTime: start}
	curr := *prev
	curr.Notes = "changed"

	h.status.Dispatch(context.Background(), prev, &curr)

	assert.Empty(t, h.notifier.kinds())
	assert.Empty(t, h.store.reminders)
}

func TestDispatchCancelledResaveSendsNothing(t *testing.T) {
	h := newHarness(t)
	prev := &models.Appointment{ID: "a1", BusinessID: testBusinessID, UserProfileID: testProfileID,
		Status: models.StatusCancelled, StartTime: testNow.Add(4 * time.Hour)}
	curr := *prev

	h.status.Dispatch(context.Background(), prev, &curr)

	assert.Empty(t, h.notifier.kinds())
}

func TestDispatchCancellationWinsOverReschedule(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(4 * time.Hour)
	prev := &models.Appointment{ID: "a1", BusinessID: testBusinessID, UserProfileID: testProfileID,
		Status: models.StatusConfirmed, StartTime: start}
	curr := *prev
	curr.Status = models.StatusCancelled
	curr.StartTime = start.Add(time.Hour)

	h.status.Dispatch(context.Background(), prev, &curr)

	assert.Equal(t, []string{"cancellation"}, h.notifier.kinds())
	assert.Empty(t, h.store.reminders)
}

func TestDispatchConfirmedAndMovedSchedulesOneReminder(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(4 * time.Hour)
	prev := &models.Appointment{ID: "a1", BusinessID: testBusinessID, UserProfileID: testProfileID,
		Status: models.StatusPending, StartTime: start}
	curr := *prev
	curr.Status = models.StatusConfirmed
	curr.StartTime = start.Add(2 * time.Hour)

	h.status.Dispatch(context.Background(), prev, &curr)

	assert.Equal(t, []string{"confirmation", "rescheduled"}, h.notifier.kinds())
	assert.Len(t, h.store.pendingReminders("a1"), 1)
}

func reminderEvent(r models.ScheduledReminder) *models.ReminderDueEvent {
	return &models.ReminderDueEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeReminderDue),
		ReminderID:     r.ID,
		AppointmentID:  r.AppointmentID,
		BusinessID:     r.BusinessID,
		RecipientPhone: r.RecipientPhone,
		RemindAt:       r.RemindAt,
	}
}

func TestDeliverReminderOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	pending := h.store.pendingReminders(created.Appointment.ID)
	require.Len(t, pending, 1)

	event := reminderEvent(pending[0])
	require.NoError(t, h.status.DeliverReminder(ctx, event))
	require.NoError(t, h.status.DeliverReminder(ctx, event))

	assert.Equal(t, 1, countKind(h.notifier.kinds(), "reminder"))
	assert.True(t, h.store.processed[event.EventID])
}

func TestDeliverReminderDropsStaleAndClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	id := created.Appointment.ID
	stale := reminderEvent(h.store.pendingReminders(id)[0])

	newStart := created.Appointment.StartTime.Add(24 * time.Hour)
	_, err = h.svc.UpdateAppointment(ctx, id, &UpdateAppointmentRequest{
		StartTime: ptr(newStart),
		EndTime:   ptr(newStart.Add(time.Hour)),
	})
	require.NoError(t, err)

	require.NoError(t, h.status.DeliverReminder(ctx, stale))
	assert.Zero(t, countKind(h.notifier.kinds(), "reminder"))

	current := reminderEvent(h.store.pendingReminders(id)[0])
	_, err = h.svc.UpdateAppointment(ctx, id, &UpdateAppointmentRequest{Status: ptr(models.StatusCancelled)})
	require.NoError(t, err)

	require.NoError(t, h.status.DeliverReminder(ctx, current))
	assert.Zero(t, countKind(h.notifier.kinds(), "reminder"))
}

func TestDeliverReminderForDeletedAppointment(t *testing.T) {
	h := newHarness(t)
	event := &models.ReminderDueEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeReminderDue),
		AppointmentID: "gone",
	}

	require.NoError(t, h.status.DeliverReminder(context.Background(), event))
	assert.True(t, h.store.processed[event.EventID])
}

func TestCreateThenConfirmDeliversOneReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	id := created.Appointment.ID

	_, err = h.svc.UpdateAppointment(ctx, id, &UpdateAppointmentRequest{Status: ptr(models.StatusConfirmed)})
	require.NoError(t, err)
	require.Len(t, h.store.pendingReminders(id), 1)

	for _, event := range h.store.dispatchPending(id) {
		require.NoError(t, h.status.DeliverReminder(ctx, event))
	}

	assert.Equal(t, 1, countKind(h.notifier.kinds(), "reminder"))
}

func TestDeliverReminderProviderFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := bookedRequest()
	req.SkipNotification = true
	created, err := h.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	id := created.Appointment.ID
	_, err = h.svc.ScheduleReminder(ctx, id)
	require.NoError(t, err)
	remindAt := h.store.pendingReminders(id)[0].RemindAt

	h.notifier.fail = true
	events := h.store.dispatchPending(id)
	require.Len(t, events, 1)
	require.NoError(t, h.status.DeliverReminder(ctx, events[0]))
	assert.True(t, h.store.processed[events[0].EventID])

	pending := h.store.pendingReminders(id)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "provider down", pending[0].LastError)
	assert.True(t, pending[0].RemindAt.Equal(remindAt))
	assert.True(t, pending[0].NextAttemptAt.Equal(testNow.Add(5*time.Minute)))

	// the poller publishes the requeued reminder again once its backoff elapses
	h.notifier.fail = false
	retry := h.store.dispatchPending(id)
	require.Len(t, retry, 1)
	require.NoError(t, h.status.DeliverReminder(ctx, retry[0]))

	assert.Equal(t, 2, countKind(h.notifier.kinds(), "reminder"))
	assert.Empty(t, h.store.pendingReminders(id))
	reminders, err := h.svc.ListReminders(ctx, id)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, models.ReminderSent, reminders[0].Status)
}

func TestDeliverReminderGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	id := created.Appointment.ID

	h.notifier.fail = true
	for i := 0; i < 5; i++ {
		for _, event := range h.store.dispatchPending(id) {
			require.NoError(t, h.status.DeliverReminder(ctx, event))
		}
	}

	assert.Equal(t, 3, countKind(h.notifier.kinds(), "reminder"))
	reminders, err := h.svc.ListReminders(ctx, id)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, models.ReminderFailed, reminders[0].Status)
	assert.Equal(t, 3, reminders[0].Attempts)
}

func TestDeliverReminderWithoutReminderIDReturnsError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	event := reminderEvent(h.store.pendingReminders(created.Appointment.ID)[0])
	event.ReminderID = ""

	h.notifier.fail = true
	assert.Error(t, h.status.DeliverReminder(ctx, event))
	assert.False(t, h.store.processed[event.EventID])
}

func TestDeliverReminderFallsBackToScheduledPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreateAppointment(ctx, bookedRequest())
	require.NoError(t, err)
	event := reminderEvent(h.store.pendingReminders(created.Appointment.ID)[0])
	delete(h.store.customers, testProfileID+"|"+testBusinessID)

	require.NoError(t, h.status.DeliverReminder(ctx, event))

	last := h.notifier.sent[len(h.notifier.sent)-1]
	assert.Equal(t, "reminder", last.Kind)
	assert.Equal(t, "11987654321", last.Notice.CustomerPhone)
}
