package service

import (
	"context"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/whatsapp"
)

// AppointmentStore is the persistence used by AppointmentService.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	GetAppointmentByID(ctx context.Context, id string) (*models.Appointment, error)
	UpdateAppointment(ctx context.Context, a *models.Appointment) error
	DeleteAppointment(ctx context.Context, id string) error
	GetAppointmentRow(ctx context.Context, id string) (*models.AppointmentRow, error)
	ListAppointments(ctx context.Context, f models.AppointmentFilter) ([]models.AppointmentRow, int, error)

	CreateServiceLine(ctx context.Context, line *models.ServiceLine) error
	CreateSupplyLine(ctx context.Context, line *models.SupplyLine) error
	ReplaceServiceLines(ctx context.Context, appointmentID string, lines []models.ServiceLine) error
	ReplaceSupplyLines(ctx context.Context, appointmentID string, lines []models.SupplyLine) error
	GetSupplyLines(ctx context.Context, appointmentID string) ([]models.SupplyLine, error)
	GetServiceLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.ServiceLine, error)
	GetSupplyLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.SupplyLine, error)

	ServiceLineReader
}

// ServiceLineReader loads service lines joined with display names.
type ServiceLineReader interface {
	GetServiceLines(ctx context.Context, appointmentID string) ([]models.ServiceLine, error)
}

// ContactStore backs customer contact resolution.
type ContactStore interface {
	GetBusinessCustomer(ctx context.Context, userProfileID, businessID string) (*models.BusinessCustomer, error)
	GetAuthUser(ctx context.Context, id string) (*models.AuthUser, error)
}

// NoticeStore backs notification building.
type NoticeStore interface {
	GetAppointmentByID(ctx context.Context, id string) (*models.Appointment, error)
	GetBusinessByID(ctx context.Context, id string) (*models.Business, error)
	GetSpecialistsByIDs(ctx context.Context, ids []string) ([]models.Specialist, error)
	ServiceLineReader
}

type InventoryStore interface {
	GetSupplies(ctx context.Context) ([]models.Supply, error)
	DeductSupplyStock(ctx context.Context, supplyID string, quantity int) (int, error)
}

// StockCache mirrors supply stock for fast reads.
type StockCache interface {
	DeductStock(ctx context.Context, supplyID string, quantity int) (int, bool, error)
	SetStock(ctx context.Context, supplyID string, available int) error
}

type CommissionStore interface {
	GetSpecialistsByIDs(ctx context.Context, ids []string) ([]models.Specialist, error)
	CreateCommission(ctx context.Context, c *models.Commission) (bool, error)
}

type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *models.Invoice) (bool, error)
	GetInvoiceByAppointmentID(ctx context.Context, appointmentID string) (*models.Invoice, error)
	GetSupplyLines(ctx context.Context, appointmentID string) ([]models.SupplyLine, error)
	ServiceLineReader
}

type ReminderStore interface {
	ReplaceReminder(ctx context.Context, r *models.ScheduledReminder) (int64, error)
	RetryReminder(ctx context.Context, id string, nextAttempt time.Time, lastErr string) (string, error)
	CancelReminders(ctx context.Context, appointmentID string) (int64, error)
	GetRemindersByAppointmentID(ctx context.Context, appointmentID string) ([]models.ScheduledReminder, error)
}

// EventLog records consumed events for idempotent handling.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Notifier sends customer-facing appointment messages.
type Notifier interface {
	SendAppointmentConfirmation(ctx context.Context, n whatsapp.Notice) whatsapp.Result
	SendAppointmentCancellation(ctx context.Context, n whatsapp.Notice) whatsapp.Result
	SendAppointmentCompleted(ctx context.Context, n whatsapp.Notice) whatsapp.Result
	SendAppointmentRescheduled(ctx context.Context, n whatsapp.Notice) whatsapp.Result
	SendAppointmentReminder(ctx context.Context, n whatsapp.Notice) whatsapp.Result
}

// InvoiceMailer delivers a rendered invoice to the customer.
type InvoiceMailer interface {
	SendInvoice(ctx context.Context, inv *models.Invoice, pdf []byte) error
}

// Cache provides the per-appointment lock, request idempotency keys and
// side-effect claims.
type Cache interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	ClaimSideEffect(ctx context.Context, kind, appointmentID string, ttl time.Duration) (bool, error)
	ReleaseSideEffect(ctx context.Context, kind, appointmentID string) error
}

// EventPublisher publishes appointment domain events.
type EventPublisher interface {
	PublishAppointmentCreated(ctx context.Context, event *models.AppointmentCreatedEvent) error
	PublishAppointmentStatusChanged(ctx context.Context, event *models.AppointmentStatusChangedEvent) error
	PublishAppointmentDeleted(ctx context.Context, event *models.AppointmentDeletedEvent) error
	PublishInvoiceGenerated(ctx context.Context, event *models.InvoiceGeneratedEvent) error
	PublishCommissionGenerated(ctx context.Context, event *models.CommissionGeneratedEvent) error
}
