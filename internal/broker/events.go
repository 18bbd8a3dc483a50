package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the producer side used by EventPublisher.
type EventWriter interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func appointmentKey(appointmentID string) string {
	return fmt.Sprintf("appointment-%s", appointmentID)
}

// PublishAppointmentCreated publishes AppointmentCreated event
func (ep *EventPublisher) PublishAppointmentCreated(ctx context.Context, event *models.AppointmentCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// PublishAppointmentStatusChanged publishes AppointmentStatusChanged event
func (ep *EventPublisher) PublishAppointmentStatusChanged(ctx context.Context, event *models.AppointmentStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// PublishAppointmentDeleted publishes AppointmentDeleted event
func (ep *EventPublisher) PublishAppointmentDeleted(ctx context.Context, event *models.AppointmentDeletedEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// PublishReminderDue publishes ReminderDue event
func (ep *EventPublisher) PublishReminderDue(ctx context.Context, event *models.ReminderDueEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// PublishInvoiceGenerated publishes InvoiceGenerated event
func (ep *EventPublisher) PublishInvoiceGenerated(ctx context.Context, event *models.InvoiceGeneratedEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// PublishCommissionGenerated publishes CommissionGenerated event
func (ep *EventPublisher) PublishCommissionGenerated(ctx context.Context, event *models.CommissionGeneratedEvent) error {
	return ep.producer.PublishEvent(ctx, appointmentKey(event.AppointmentID), event.EventType, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReminderDue func(context.Context, *models.ReminderDueEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReminderDue registers a handler for ReminderDue events
func (eh *EventHandler) OnReminderDue(handler func(context.Context, *models.ReminderDueEvent) error) {
	eh.onReminderDue = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeReminderDue:
		if eh.onReminderDue != nil {
			var event models.ReminderDueEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReminderDue event: %w", err)
			}
			return eh.onReminderDue(ctx, &event)
		}

	default:
		eh.logger.Debug("Ignoring event",
			zap.String("event_type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID))
	}

	return nil
}
