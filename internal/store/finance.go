package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"appointment-service/internal/models"
)

// CreateCommission inserts a commission unless one already exists for the
// same appointment and specialist. created is false on conflict.
func (s *Store) CreateCommission(ctx context.Context, c *models.Commission) (bool, error) {
	query := `
		INSERT INTO commissions (appointment_id, business_id, specialist_id, base_amount, rate, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appointment_id, specialist_id) DO NOTHING
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, c, query,
		c.AppointmentID, c.BusinessID, c.SpecialistID, c.BaseAmount, c.Rate, c.Amount, c.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetCommissionsByAppointmentID lists commissions of an appointment
func (s *Store) GetCommissionsByAppointmentID(ctx context.Context, appointmentID string) ([]models.Commission, error) {
	commissions := []models.Commission{}
	err := s.db.SelectContext(ctx, &commissions,
		`SELECT id, appointment_id, business_id, specialist_id, base_amount, rate, amount, status, created_at
		 FROM commissions WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	return commissions, err
}

// CreateInvoice inserts the invoice of an appointment. created is false when
// the appointment already has one.
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (bool, error) {
	query := `
		INSERT INTO invoices (appointment_id, business_id, invoice_number, subtotal, total, business_name,
			business_document, business_address, business_phone, customer_name, customer_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING id, issued_at`

	err := s.db.GetContext(ctx, inv, query,
		inv.AppointmentID, inv.BusinessID, inv.InvoiceNumber, inv.Subtotal, inv.Total, inv.BusinessName,
		inv.BusinessDocument, inv.BusinessAddress, inv.BusinessPhone, inv.CustomerName, inv.CustomerEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetInvoiceByAppointmentID retrieves the invoice of an appointment
func (s *Store) GetInvoiceByAppointmentID(ctx context.Context, appointmentID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.GetContext(ctx, &inv,
		`SELECT id, appointment_id, business_id, invoice_number, subtotal, total, business_name,
		        business_document, business_address, business_phone, customer_name, customer_email, issued_at
		 FROM invoices WHERE appointment_id = $1`, appointmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice for appointment %s: %w", appointmentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
