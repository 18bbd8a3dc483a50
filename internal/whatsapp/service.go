package whatsapp

import (
	"context"
	"strings"
	"time"

	"appointment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ServiceSummary is one service line as shown to the customer.
type ServiceSummary struct {
	Name            string
	Price           decimal.Decimal
	DurationMinutes int
}

// Notice carries everything a customer-facing appointment message needs.
type Notice struct {
	AppointmentID     string
	BusinessID        string
	PhoneNumberID     string
	CustomerPhone     string
	CustomerName      string
	BusinessName      string
	BusinessAddress   string
	BusinessPhone     string
	SpecialistName    string
	Services          []ServiceSummary
	TotalPrice        decimal.Decimal
	StartTime         time.Time
	PreviousStartTime time.Time
}

// Result reports the outcome of one send. Skipped is set when the message
// was not attempted because data was missing.
type Result struct {
	Success   bool
	Skipped   bool
	MessageID string
	Error     string
}

// Service renders appointment notices and sends them through a Sender.
type Service struct {
	sender    Sender
	templates *Templates
	location  *time.Location
	logger    *zap.Logger
}

// NewService creates a WhatsApp notification service. Times are rendered in
// loc; nil means UTC.
func NewService(sender Sender, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		sender:    sender,
		templates: NewTemplates(),
		location:  loc,
		logger:    util.GetLogger(),
	}
}

// Templates exposes the template set for customization.
func (s *Service) Templates() *Templates {
	return s.templates
}

func (s *Service) SendAppointmentConfirmation(ctx context.Context, n Notice) Result {
	return s.send(ctx, KindConfirmation, n)
}

func (s *Service) SendAppointmentCancellation(ctx context.Context, n Notice) Result {
	return s.send(ctx, KindCancellation, n)
}

func (s *Service) SendAppointmentCompleted(ctx context.Context, n Notice) Result {
	return s.send(ctx, KindCompleted, n)
}

func (s *Service) SendAppointmentRescheduled(ctx context.Context, n Notice) Result {
	return s.send(ctx, KindRescheduled, n)
}

func (s *Service) SendAppointmentReminder(ctx context.Context, n Notice) Result {
	return s.send(ctx, KindReminder, n)
}

func (s *Service) send(ctx context.Context, kind Kind, n Notice) Result {
	ctx, span := util.StartSpan(ctx, "WhatsApp.Send."+string(kind))
	defer span.End()

	to := NormalizePhone(n.CustomerPhone)
	if to == "" {
		util.NotificationsTotal.WithLabelValues(string(kind), "skipped").Inc()
		return Result{Skipped: true, Error: "customer has no phone"}
	}
	if s.sender.RequiresBusinessNumber() && n.PhoneNumberID == "" {
		util.NotificationsTotal.WithLabelValues(string(kind), "skipped").Inc()
		return Result{Skipped: true, Error: "business has no whatsapp number"}
	}

	body, err := s.templates.Render(kind, s.templateData(n))
	if err != nil {
		util.NotificationsTotal.WithLabelValues(string(kind), "error").Inc()
		return Result{Error: err.Error()}
	}

	id, err := s.sender.Send(ctx, Message{From: n.PhoneNumberID, To: to, Body: body})
	if err != nil {
		s.logger.Warn("WhatsApp send failed",
			zap.String("kind", string(kind)),
			zap.String("provider", s.sender.ProviderID()),
			zap.String("appointment_id", n.AppointmentID),
			zap.Error(err))
		util.NotificationsTotal.WithLabelValues(string(kind), "error").Inc()
		return Result{Error: err.Error()}
	}

	util.NotificationsTotal.WithLabelValues(string(kind), "sent").Inc()
	return Result{Success: true, MessageID: id}
}

func (s *Service) templateData(n Notice) map[string]string {
	start := n.StartTime.In(s.location)
	data := map[string]string{
		"customer_name":    firstNonEmpty(n.CustomerName, "cliente"),
		"business_name":    n.BusinessName,
		"business_address": n.BusinessAddress,
		"business_phone":   n.BusinessPhone,
		"specialist":       n.SpecialistName,
		"services":         serviceNames(n.Services),
		"total":            FormatMoney(n.TotalPrice),
		"date":             start.Format("02/01/2006"),
		"time":             start.Format("15:04"),
	}
	if !n.PreviousStartTime.IsZero() {
		prev := n.PreviousStartTime.In(s.location)
		data["old_date"] = prev.Format("02/01/2006")
		data["old_time"] = prev.Format("15:04")
	}
	return data
}

func serviceNames(services []ServiceSummary) string {
	names := make([]string, 0, len(services))
	for _, svc := range services {
		if svc.Name != "" {
			names = append(names, svc.Name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

// FormatMoney renders an amount with two decimals and a comma separator.
func FormatMoney(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
