package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeAppointmentCreated       = "APPOINTMENT_CREATED"
	EventTypeAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventTypeAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventTypeReminderDue              = "REMINDER_DUE"
	EventTypeInvoiceGenerated         = "INVOICE_GENERATED"
	EventTypeCommissionGenerated      = "COMMISSION_GENERATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// AppointmentCreatedEvent published when an appointment is booked
type AppointmentCreatedEvent struct {
	BaseEvent
	AppointmentID string          `json:"appointment_id"`
	BusinessID    string          `json:"business_id"`
	StartTime     time.Time       `json:"start_time"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	ServiceCount  int             `json:"service_count"`
	SupplyCount   int             `json:"supply_count"`
}

// AppointmentStatusChangedEvent published on status or payment transitions
type AppointmentStatusChangedEvent struct {
	BaseEvent
	AppointmentID     string `json:"appointment_id"`
	BusinessID        string `json:"business_id"`
	PreviousStatus    string `json:"previous_status"`
	Status            string `json:"status"`
	PreviousPayment   string `json:"previous_payment_status"`
	PaymentStatus     string `json:"payment_status"`
	Rescheduled       bool   `json:"rescheduled"`
	StockDeducted     bool   `json:"stock_deducted"`
	CommissionCreated bool   `json:"commission_generated"`
	InvoiceGenerated  bool   `json:"invoice_generated"`
}

// AppointmentDeletedEvent published when an appointment row is removed
type AppointmentDeletedEvent struct {
	BaseEvent
	AppointmentID string `json:"appointment_id"`
	BusinessID    string `json:"business_id"`
}

// ReminderDueEvent published by the reminder poller
type ReminderDueEvent struct {
	BaseEvent
	ReminderID     string    `json:"reminder_id"`
	AppointmentID  string    `json:"appointment_id"`
	BusinessID     string    `json:"business_id"`
	RecipientPhone string    `json:"recipient_phone"`
	RemindAt       time.Time `json:"remind_at"`
}

// InvoiceGeneratedEvent published once per appointment invoice
type InvoiceGeneratedEvent struct {
	BaseEvent
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	AppointmentID string          `json:"appointment_id"`
	BusinessID    string          `json:"business_id"`
	Total         decimal.Decimal `json:"total"`
}

// CommissionGeneratedEvent published per specialist commission
type CommissionGeneratedEvent struct {
	BaseEvent
	CommissionID  string          `json:"commission_id"`
	AppointmentID string          `json:"appointment_id"`
	SpecialistID  string          `json:"specialist_id"`
	Amount        decimal.Decimal `json:"amount"`
}
