package worker

import (
	"context"
	"fmt"
	"time"

	"appointment-service/internal/broker"
	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DueReminderStore hands due reminders to a callback inside one transaction
type DueReminderStore interface {
	ProcessDueReminders(ctx context.Context, limit int, backoff time.Duration,
		fn func(context.Context, models.ScheduledReminder) error) (sent, failed int, err error)
}

// ReminderPublisher puts due reminders on the broker
type ReminderPublisher interface {
	PublishReminderDue(ctx context.Context, event *models.ReminderDueEvent) error
}

// ReminderPoller moves due reminders from the database to the broker
type ReminderPoller struct {
	store     DueReminderStore
	publisher ReminderPublisher
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	logger    *zap.Logger
}

// NewReminderPoller creates a poller that checks for due reminders every interval
func NewReminderPoller(store DueReminderStore, publisher ReminderPublisher, interval time.Duration, batchSize int, backoff time.Duration) *ReminderPoller {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReminderPoller{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		backoff:   backoff,
		logger:    util.GetLogger(),
	}
}

// Start polls until ctx is cancelled
func (p *ReminderPoller) Start(ctx context.Context) error {
	p.logger.Info("Starting reminder poller", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping reminder poller")
			return ctx.Err()
		case <-ticker.C:
			if _, _, err := p.Poll(ctx); err != nil {
				p.logger.Error("Reminder poll failed", zap.Error(err))
			}
		}
	}
}

// Poll publishes one batch of due reminders
func (p *ReminderPoller) Poll(ctx context.Context) (sent, failed int, err error) {
	ctx, span := util.StartSpan(ctx, "ReminderPoller.Poll")
	defer span.End()

	sent, failed, err = p.store.ProcessDueReminders(ctx, p.batchSize, p.backoff, p.dispatch)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to process due reminders: %w", err)
	}
	if sent > 0 || failed > 0 {
		p.logger.Info("Dispatched due reminders", zap.Int("sent", sent), zap.Int("failed", failed))
	}
	return sent, failed, nil
}

func (p *ReminderPoller) dispatch(ctx context.Context, r models.ScheduledReminder) error {
	event := &models.ReminderDueEvent{
		BaseEvent:      broker.NewBaseEvent(models.EventTypeReminderDue),
		ReminderID:     r.ID,
		AppointmentID:  r.AppointmentID,
		BusinessID:     r.BusinessID,
		RecipientPhone: r.RecipientPhone,
		RemindAt:       r.RemindAt,
	}
	if err := p.publisher.PublishReminderDue(ctx, event); err != nil {
		util.RemindersDispatchedTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("Failed to publish due reminder",
			zap.String("reminder_id", r.ID),
			zap.String("appointment_id", r.AppointmentID),
			zap.Error(err))
		return err
	}
	util.RemindersDispatchedTotal.WithLabelValues("published").Inc()
	return nil
}

// MessageConsumer reads broker messages until ctx is cancelled
type MessageConsumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker delivers reminders published by the poller
type NotificationWorker struct {
	consumer     MessageConsumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer MessageConsumer,
	deliverReminder func(context.Context, *models.ReminderDueEvent) error,
) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnReminderDue(deliverReminder)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Handle processes a single broker message
func (w *NotificationWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
