package service

import (
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/models"

	"github.com/shopspring/decimal"
)

// ServiceLineRequest is one booked service
type ServiceLineRequest struct {
	ServiceID       string          `json:"service_id" binding:"required"`
	SpecialistID    *string         `json:"specialist_id,omitempty"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"duration_minutes"`
	StartTime       *time.Time      `json:"start_time,omitempty"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
}

// SupplyLineRequest is one supply consumed by the appointment
type SupplyLineRequest struct {
	SupplyID  string          `json:"supply_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateAppointmentRequest represents a request to book an appointment
type CreateAppointmentRequest struct {
	BusinessID       string               `json:"business_id" binding:"required"`
	UserProfileID    string               `json:"user_profile_id" binding:"required"`
	SpecialistID     *string              `json:"specialist_id,omitempty"`
	Status           string               `json:"status,omitempty"`
	PaymentStatus    string               `json:"payment_status,omitempty"`
	StartTime        time.Time            `json:"start_time" binding:"required"`
	EndTime          time.Time            `json:"end_time" binding:"required"`
	TotalPrice       *decimal.Decimal     `json:"total_price,omitempty"`
	Notes            string               `json:"notes,omitempty"`
	Services         []ServiceLineRequest `json:"services,omitempty" binding:"dive"`
	Supplies         []SupplyLineRequest  `json:"supplies,omitempty" binding:"dive"`
	SkipNotification bool                 `json:"skip_notification,omitempty"`
	IdempotencyKey   string               `json:"idempotency_key,omitempty"`
}

// CreateAppointmentResponse represents the booked appointment
type CreateAppointmentResponse struct {
	Appointment       *models.Appointment  `json:"appointment"`
	Services          []models.ServiceLine `json:"services"`
	Supplies          []models.SupplyLine  `json:"supplies"`
	NotificationSent  bool                 `json:"notification_sent"`
	ReminderScheduled bool                 `json:"reminder_scheduled"`
	Duplicate         bool                 `json:"duplicate,omitempty"`
}

// UpdateAppointmentRequest is a partial update; nil fields are left as is.
// Services and Supplies, when present, replace the existing lines.
type UpdateAppointmentRequest struct {
	SpecialistID     *string                  `json:"specialist_id,omitempty"`
	Status           *string                  `json:"status,omitempty"`
	PaymentStatus    *string                  `json:"payment_status,omitempty"`
	StartTime        *time.Time               `json:"start_time,omitempty"`
	EndTime          *time.Time               `json:"end_time,omitempty"`
	TotalPrice       *decimal.Decimal         `json:"total_price,omitempty"`
	Notes            *string                  `json:"notes,omitempty"`
	Services         *[]ServiceLineRequest    `json:"services,omitempty"`
	Supplies         *[]SupplyLineRequest     `json:"supplies,omitempty"`
	SkipNotification bool                     `json:"skip_notification,omitempty"`
	Business         *models.BusinessMetadata `json:"business,omitempty"`
}

// UpdateAppointmentResult reports which side effects ran
type UpdateAppointmentResult struct {
	Success             bool                `json:"success"`
	Appointment         *models.Appointment `json:"appointment"`
	InvoiceGenerated    bool                `json:"invoice_generated"`
	StockDeducted       bool                `json:"stock_deducted"`
	CommissionGenerated bool                `json:"commission_generated"`
}

// ListAppointmentsResponse is one page of enriched appointments
type ListAppointmentsResponse struct {
	Items    []models.AppointmentDetails `json:"items"`
	Total    int                         `json:"total"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
}

func (r *CreateAppointmentRequest) validate() error {
	if r.BusinessID == "" || r.UserProfileID == "" {
		return errors.New("business_id and user_profile_id are required")
	}
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return errors.New("start_time and end_time are required")
	}
	if !r.EndTime.After(r.StartTime) {
		return errors.New("end_time must be after start_time")
	}
	if r.Status != "" && !models.ValidStatus(r.Status) {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	if r.PaymentStatus != "" && !models.ValidPaymentStatus(r.PaymentStatus) {
		return fmt.Errorf("unknown payment status %q", r.PaymentStatus)
	}
	if err := validateServiceLines(r.Services); err != nil {
		return err
	}
	return validateSupplyLines(r.Supplies)
}

func (r *CreateAppointmentRequest) toAppointment() *models.Appointment {
	appt := &models.Appointment{
		BusinessID:    r.BusinessID,
		UserProfileID: r.UserProfileID,
		SpecialistID:  r.SpecialistID,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Notes:         r.Notes,
	}
	if appt.Status == "" {
		appt.Status = models.StatusPending
	}
	if appt.PaymentStatus == "" {
		appt.PaymentStatus = models.PaymentUnpaid
	}
	if r.TotalPrice != nil {
		appt.TotalPrice = *r.TotalPrice
	} else {
		appt.TotalPrice = sumServicePrices(r.Services)
	}
	return appt
}

func (r *UpdateAppointmentRequest) validate() error {
	if r.Status != nil && !models.ValidStatus(*r.Status) {
		return fmt.Errorf("unknown status %q", *r.Status)
	}
	if r.PaymentStatus != nil && !models.ValidPaymentStatus(*r.PaymentStatus) {
		return fmt.Errorf("unknown payment status %q", *r.PaymentStatus)
	}
	if r.Services != nil {
		if err := validateServiceLines(*r.Services); err != nil {
			return err
		}
	}
	if r.Supplies != nil {
		if err := validateSupplyLines(*r.Supplies); err != nil {
			return err
		}
	}
	if r.Business != nil && r.Business.Name == "" {
		return errors.New("business name is required")
	}
	return nil
}

// apply returns a copy of current with the patch applied.
func (r *UpdateAppointmentRequest) apply(current models.Appointment) (models.Appointment, error) {
	next := current
	if r.SpecialistID != nil {
		if *r.SpecialistID == "" {
			next.SpecialistID = nil
		} else {
			id := *r.SpecialistID
			next.SpecialistID = &id
		}
	}
	if r.Status != nil {
		next.Status = *r.Status
	}
	if r.PaymentStatus != nil {
		next.PaymentStatus = *r.PaymentStatus
	}
	if r.StartTime != nil {
		next.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		next.EndTime = *r.EndTime
	}
	if r.Notes != nil {
		next.Notes = *r.Notes
	}
	switch {
	case r.TotalPrice != nil:
		next.TotalPrice = *r.TotalPrice
	case r.Services != nil:
		next.TotalPrice = sumServicePrices(*r.Services)
	}

	if !next.EndTime.After(next.StartTime) {
		return current, errors.New("end_time must be after start_time")
	}
	return next, nil
}

func validateServiceLines(lines []ServiceLineRequest) error {
	for i, l := range lines {
		if l.ServiceID == "" {
			return fmt.Errorf("services[%d]: service_id is required", i)
		}
		if l.Price.IsNegative() {
			return fmt.Errorf("services[%d]: price must not be negative", i)
		}
	}
	return nil
}

func validateSupplyLines(lines []SupplyLineRequest) error {
	for i, l := range lines {
		if l.SupplyID == "" {
			return fmt.Errorf("supplies[%d]: supply_id is required", i)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("supplies[%d]: quantity must be positive", i)
		}
	}
	return nil
}

func sumServicePrices(lines []ServiceLineRequest) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price)
	}
	return sum
}

func serviceLinesFrom(appointmentID string, reqs []ServiceLineRequest) []models.ServiceLine {
	lines := make([]models.ServiceLine, len(reqs))
	for i, r := range reqs {
		lines[i] = models.ServiceLine{
			AppointmentID:   appointmentID,
			ServiceID:       r.ServiceID,
			SpecialistID:    r.SpecialistID,
			Price:           r.Price,
			DurationMinutes: r.DurationMinutes,
			StartTime:       r.StartTime,
			EndTime:         r.EndTime,
			Position:        i,
		}
	}
	return lines
}

func supplyLinesFrom(appointmentID string, reqs []SupplyLineRequest) []models.SupplyLine {
	lines := make([]models.SupplyLine, len(reqs))
	for i, r := range reqs {
		lines[i] = models.SupplyLine{
			AppointmentID: appointmentID,
			SupplyID:      r.SupplyID,
			Quantity:      r.Quantity,
			UnitPrice:     r.UnitPrice,
		}
	}
	return lines
}
