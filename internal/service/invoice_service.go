package service

import (
	"context"
	"fmt"
	"time"

	"appointment-service/internal/invoice"
	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService issues invoices for paid appointments
type InvoiceService struct {
	store    InvoiceStore
	contacts *ContactResolver
	mailer   InvoiceMailer
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// NewInvoiceService creates a new invoice service. mailer may be nil, in
// which case invoices are not emailed.
func NewInvoiceService(store InvoiceStore, contacts *ContactResolver, mailer InvoiceMailer, loc *time.Location) *InvoiceService {
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceService{
		store:    store,
		contacts: contacts,
		mailer:   mailer,
		location: loc,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// Generate issues the invoice of appt with the given issuer data. created is
// false when the appointment was already invoiced.
func (is *InvoiceService) Generate(ctx context.Context, appt *models.Appointment, meta models.BusinessMetadata) (*models.Invoice, bool, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.Generate")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SideEffectLatency.WithLabelValues("invoice").Observe(time.Since(start).Seconds())
	}()

	services, err := is.store.GetServiceLines(ctx, appt.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load service lines: %w", err)
	}
	supplies, err := is.store.GetSupplyLines(ctx, appt.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load supply lines: %w", err)
	}

	contact, err := is.contacts.Resolve(ctx, appt.UserProfileID, appt.BusinessID)
	if err != nil {
		is.logger.Warn("Invoice customer could not be resolved",
			zap.String("appointment_id", appt.ID),
			zap.Error(err))
	}

	subtotal, total := invoiceTotals(appt.TotalPrice, services, supplies)

	inv := &models.Invoice{
		AppointmentID:    appt.ID,
		BusinessID:       appt.BusinessID,
		InvoiceNumber:    invoice.Number(appt.ID, is.now()),
		Subtotal:         subtotal,
		Total:            total,
		BusinessName:     meta.Name,
		BusinessDocument: meta.Document,
		BusinessAddress:  meta.Address,
		BusinessPhone:    meta.Phone,
		CustomerName:     contact.Name,
		CustomerEmail:    contact.Email,
	}

	created, err := is.store.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create invoice: %w", err)
	}
	if !created {
		is.logger.Info("Appointment already invoiced", zap.String("appointment_id", appt.ID))
		return nil, false, nil
	}

	util.InvoicesGeneratedTotal.Inc()
	is.logger.Info("Invoice generated",
		zap.String("appointment_id", appt.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("total", inv.Total.StringFixed(2)))

	is.email(ctx, inv, services, supplies)
	return inv, true, nil
}

func (is *InvoiceService) email(ctx context.Context, inv *models.Invoice, services []models.ServiceLine, supplies []models.SupplyLine) {
	if is.mailer == nil || inv.CustomerEmail == "" {
		return
	}

	pdf, err := invoice.RenderPDF(invoice.Document{
		Invoice:  inv,
		Services: services,
		Supplies: supplies,
		Location: is.location,
	})
	if err == nil {
		err = is.mailer.SendInvoice(ctx, inv, pdf)
	}
	if err != nil {
		util.SideEffectFailuresTotal.WithLabelValues("invoice_email").Inc()
		is.logger.Error("Failed to email invoice",
			zap.String("invoice_number", inv.InvoiceNumber),
			zap.Error(err))
	}
}

// Render returns the stored invoice of an appointment and its PDF
func (is *InvoiceService) Render(ctx context.Context, appointmentID string) (*models.Invoice, []byte, error) {
	ctx, span := util.StartSpan(ctx, "InvoiceService.Render")
	defer span.End()

	inv, err := is.store.GetInvoiceByAppointmentID(ctx, appointmentID)
	if err != nil {
		return nil, nil, err
	}
	services, err := is.store.GetServiceLines(ctx, appointmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load service lines: %w", err)
	}
	supplies, err := is.store.GetSupplyLines(ctx, appointmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load supply lines: %w", err)
	}

	pdf, err := invoice.RenderPDF(invoice.Document{
		Invoice:  inv,
		Services: services,
		Supplies: supplies,
		Location: is.location,
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, pdf, nil
}

// invoiceTotals returns the sum of the invoice lines and the amount charged.
// A positive appointment price replaces the service lines in the total;
// supply costs are always charged on top.
func invoiceTotals(price decimal.Decimal, services []models.ServiceLine, supplies []models.SupplyLine) (subtotal, total decimal.Decimal) {
	servicesSum, suppliesSum := decimal.Zero, decimal.Zero
	for _, s := range services {
		servicesSum = servicesSum.Add(s.Price)
	}
	for _, s := range supplies {
		suppliesSum = suppliesSum.Add(s.Cost())
	}

	subtotal = servicesSum.Add(suppliesSum)
	if !price.IsPositive() {
		return subtotal, subtotal
	}
	return subtotal, price.Add(suppliesSum)
}
