package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Appointment statuses
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusNoShow    = "NO_SHOW"
)

// Payment statuses
const (
	PaymentUnpaid   = "UNPAID"
	PaymentPartial  = "PARTIAL"
	PaymentPaid     = "PAID"
	PaymentRefunded = "REFUNDED"
)

// Scheduled reminder statuses
const (
	ReminderPending   = "PENDING"
	ReminderSent      = "SENT"
	ReminderCancelled = "CANCELLED"
	ReminderFailed    = "FAILED"
)

// Commission statuses
const (
	CommissionPending = "PENDING"
	CommissionPaid    = "PAID"
)

// Contact sources
const (
	ContactSourceBusinessCustomer = "business_customer"
	ContactSourceAuth             = "auth"
)

// ValidStatus reports whether s is a known appointment status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentUnpaid, PaymentPartial, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// Appointment is a booking of one customer at a business.
type Appointment struct {
	ID            string          `db:"id" json:"id"`
	BusinessID    string          `db:"business_id" json:"business_id"`
	UserProfileID string          `db:"user_profile_id" json:"user_profile_id"`
	SpecialistID  *string         `db:"specialist_id" json:"specialist_id,omitempty"`
	Status        string          `db:"status" json:"status"`
	PaymentStatus string          `db:"payment_status" json:"payment_status"`
	StartTime     time.Time       `db:"start_time" json:"start_time"`
	EndTime       time.Time       `db:"end_time" json:"end_time"`
	TotalPrice    decimal.Decimal `db:"total_price" json:"total_price"`
	Notes         string          `db:"notes" json:"notes"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ServiceLine is a row of appointment_services. Price is the snapshot taken
// at booking time.
type ServiceLine struct {
	ID              string          `db:"id" json:"id"`
	AppointmentID   string          `db:"appointment_id" json:"appointment_id"`
	ServiceID       string          `db:"service_id" json:"service_id"`
	SpecialistID    *string         `db:"specialist_id" json:"specialist_id,omitempty"`
	Price           decimal.Decimal `db:"price" json:"price"`
	DurationMinutes int             `db:"duration_minutes" json:"duration_minutes"`
	StartTime       *time.Time      `db:"start_time" json:"start_time,omitempty"`
	EndTime         *time.Time      `db:"end_time" json:"end_time,omitempty"`
	Position        int             `db:"position" json:"position"`
	ServiceName     string          `db:"service_name" json:"service_name,omitempty"`
	SpecialistName  string          `db:"specialist_name" json:"specialist_name,omitempty"`
}

// SupplyLine is a row of appointment_supplies.
type SupplyLine struct {
	ID            string          `db:"id" json:"id"`
	AppointmentID string          `db:"appointment_id" json:"appointment_id"`
	SupplyID      string          `db:"supply_id" json:"supply_id"`
	Quantity      int             `db:"quantity" json:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	SupplyName    string          `db:"supply_name" json:"supply_name,omitempty"`
}

// Cost returns quantity times unit price.
func (l SupplyLine) Cost() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Supply is an inventory item consumed by appointments.
type Supply struct {
	ID            string          `db:"id" json:"id"`
	BusinessID    string          `db:"business_id" json:"business_id"`
	Name          string          `db:"name" json:"name"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Specialist provides services. CommissionRate is a percentage.
type Specialist struct {
	ID             string          `db:"id" json:"id"`
	BusinessID     string          `db:"business_id" json:"business_id"`
	Name           string          `db:"name" json:"name"`
	Phone          string          `db:"phone" json:"phone,omitempty"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"commission_rate"`
}

type Business struct {
	ID                        string  `db:"id" json:"id"`
	Name                      string  `db:"name" json:"name"`
	Phone                     string  `db:"phone" json:"phone,omitempty"`
	Address                   string  `db:"address" json:"address,omitempty"`
	WhatsAppBusinessAccountID *string `db:"whatsapp_business_account_id" json:"-"`
	WhatsAppPhoneNumberID     *string `db:"whatsapp_phone_number_id" json:"-"`
}

// Service is a catalog entry of a business.
type Service struct {
	ID              string          `db:"id" json:"id"`
	BusinessID      string          `db:"business_id" json:"business_id"`
	Name            string          `db:"name" json:"name"`
	Price           decimal.Decimal `db:"price" json:"price"`
	DurationMinutes int             `db:"duration_minutes" json:"duration_minutes"`
}

// BusinessCustomer is the per-business view of a customer.
type BusinessCustomer struct {
	ID            string `db:"id" json:"id"`
	BusinessID    string `db:"business_id" json:"business_id"`
	UserProfileID string `db:"user_profile_id" json:"user_profile_id"`
	Name          string `db:"name" json:"name"`
	Phone         string `db:"phone" json:"phone"`
	Email         string `db:"email" json:"email"`
}

type UserProfile struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}

// AuthUser is the authentication provider's user record.
type AuthUser struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	Phone        string         `db:"phone" json:"phone"`
	UserMetadata types.JSONText `db:"raw_user_meta_data" json:"user_metadata"`
}

// CustomerContact is the resolved identity of an appointment's client.
type CustomerContact struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source"`
}

type ScheduledReminder struct {
	ID             string         `db:"id" json:"id"`
	AppointmentID  string         `db:"appointment_id" json:"appointment_id"`
	BusinessID     string         `db:"business_id" json:"business_id"`
	RecipientPhone string         `db:"recipient_phone" json:"recipient_phone"`
	RemindAt       time.Time      `db:"remind_at" json:"remind_at"`
	NextAttemptAt  time.Time      `db:"next_attempt_at" json:"next_attempt_at"`
	Status         string         `db:"status" json:"status"`
	Attempts       int            `db:"attempts" json:"attempts"`
	MaxAttempts    int            `db:"max_attempts" json:"max_attempts"`
	LastError      string         `db:"last_error" json:"last_error,omitempty"`
	Payload        types.JSONText `db:"payload" json:"payload"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

type Commission struct {
	ID            string          `db:"id" json:"id"`
	AppointmentID string          `db:"appointment_id" json:"appointment_id"`
	BusinessID    string          `db:"business_id" json:"business_id"`
	SpecialistID  string          `db:"specialist_id" json:"specialist_id"`
	BaseAmount    decimal.Decimal `db:"base_amount" json:"base_amount"`
	Rate          decimal.Decimal `db:"rate" json:"rate"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

type Invoice struct {
	ID               string          `db:"id" json:"id"`
	AppointmentID    string          `db:"appointment_id" json:"appointment_id"`
	BusinessID       string          `db:"business_id" json:"business_id"`
	InvoiceNumber    string          `db:"invoice_number" json:"invoice_number"`
	Subtotal         decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total            decimal.Decimal `db:"total" json:"total"`
	BusinessName     string          `db:"business_name" json:"business_name"`
	BusinessDocument string          `db:"business_document" json:"business_document"`
	BusinessAddress  string          `db:"business_address" json:"business_address"`
	BusinessPhone    string          `db:"business_phone" json:"business_phone"`
	CustomerName     string          `db:"customer_name" json:"customer_name"`
	CustomerEmail    string          `db:"customer_email" json:"customer_email"`
	IssuedAt         time.Time       `db:"issued_at" json:"issued_at"`
}

// BusinessMetadata is the issuer data printed on an invoice.
type BusinessMetadata struct {
	Name     string `json:"name" binding:"required"`
	Document string `json:"document"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
}

// AppointmentRow is an appointment joined with display names.
type AppointmentRow struct {
	Appointment
	SpecialistName string `db:"specialist_name" json:"specialist_name,omitempty"`
	BusinessName   string `db:"business_name" json:"business_name"`
	ProfileName    string `db:"profile_name" json:"profile_name,omitempty"`
}

// AppointmentDetails is the enriched read model.
type AppointmentDetails struct {
	AppointmentRow
	Services []ServiceLine   `json:"services"`
	Supplies []SupplyLine    `json:"supplies"`
	Client   CustomerContact `json:"client"`
}

// AppointmentFilter drives paginated listing. Page is 1-based.
type AppointmentFilter struct {
	BusinessID   string
	Status       string
	SpecialistID string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging values into range.
func (f *AppointmentFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the SQL offset for the current page.
func (f AppointmentFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
