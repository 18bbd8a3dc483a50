package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/broker"
	"appointment-service/internal/models"
	"appointment-service/internal/store"
	"appointment-service/internal/util"

	"go.uber.org/zap"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentBusy     = errors.New("appointment is being updated")
	ErrInvalidAppointment  = errors.New("invalid appointment")
)

// Side effect kinds, used for claims, metrics and logs.
const (
	effectStock      = "stock"
	effectCommission = "commission"
	effectInvoice    = "invoice"
)

// AppointmentDeps groups the collaborators of AppointmentService. Cache and
// Publisher may be nil.
type AppointmentDeps struct {
	Store       AppointmentStore
	Cache       Cache
	Publisher   EventPublisher
	Contacts    *ContactResolver
	Inventory   *InventoryClient
	Commissions *CommissionService
	Invoices    *InvoiceService
	Reminders   *ReminderService
	Notifier    *StatusNotifier
	LockTTL     time.Duration
	ClaimTTL    time.Duration
}

// AppointmentService handles appointment business logic
type AppointmentService struct {
	store       AppointmentStore
	cache       Cache
	publisher   EventPublisher
	contacts    *ContactResolver
	inventory   *InventoryClient
	commissions *CommissionService
	invoices    *InvoiceService
	reminders   *ReminderService
	notifier    *StatusNotifier
	lockTTL     time.Duration
	claimTTL    time.Duration
	logger      *zap.Logger
}

// NewAppointmentService creates a new appointment service
func NewAppointmentService(d AppointmentDeps) *AppointmentService {
	if d.LockTTL <= 0 {
		d.LockTTL = 10 * time.Second
	}
	if d.ClaimTTL <= 0 {
		d.ClaimTTL = 24 * time.Hour
	}
	return &AppointmentService{
		store:       d.Store,
		cache:       d.Cache,
		publisher:   d.Publisher,
		contacts:    d.Contacts,
		inventory:   d.Inventory,
		commissions: d.Commissions,
		invoices:    d.Invoices,
		reminders:   d.Reminders,
		notifier:    d.Notifier,
		lockTTL:     d.LockTTL,
		claimTTL:    d.ClaimTTL,
		logger:      util.GetLogger(),
	}
}

// CreateAppointment books an appointment with its service and supply lines.
// Only the appointment insert can fail the call.
func (s *AppointmentService) CreateAppointment(ctx context.Context, req *CreateAppointmentRequest) (*CreateAppointmentResponse, error) {
	ctx, span := util.StartSpan(ctx, "AppointmentService.CreateAppointment")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAppointment, err)
	}

	if resp := s.findDuplicate(ctx, req.IdempotencyKey); resp != nil {
		return resp, nil
	}

	appt := req.toAppointment()
	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	util.AppointmentsCreatedTotal.Inc()
	s.logger.Info("Appointment created",
		zap.String("appointment_id", appt.ID),
		zap.String("business_id", appt.BusinessID),
		zap.Time("start_time", appt.StartTime))

	if req.IdempotencyKey != "" && s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, idempotencyKey(req.IdempotencyKey), appt.ID, s.claimTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	resp := &CreateAppointmentResponse{
		Appointment: appt,
		Services:    []models.ServiceLine{},
		Supplies:    []models.SupplyLine{},
	}

	for _, line := range serviceLinesFrom(appt.ID, req.Services) {
		line := line
		if err := s.store.CreateServiceLine(ctx, &line); err != nil {
			s.logger.Error("Failed to create service line",
				zap.String("appointment_id", appt.ID),
				zap.String("service_id", line.ServiceID),
				zap.Error(err))
			continue
		}
		resp.Services = append(resp.Services, line)
	}

	for _, line := range supplyLinesFrom(appt.ID, req.Supplies) {
		line := line
		if err := s.store.CreateSupplyLine(ctx, &line); err != nil {
			s.logger.Error("Failed to create supply line",
				zap.String("appointment_id", appt.ID),
				zap.String("supply_id", line.SupplyID),
				zap.Error(err))
			continue
		}
		resp.Supplies = append(resp.Supplies, line)
	}

	if !req.SkipNotification {
		resp.NotificationSent, resp.ReminderScheduled = s.notifier.NotifyCreated(ctx, appt)
	}

	s.publish("AppointmentCreated", func() error {
		return s.publisher.PublishAppointmentCreated(ctx, &models.AppointmentCreatedEvent{
			BaseEvent:     broker.NewBaseEvent(models.EventTypeAppointmentCreated),
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			StartTime:     appt.StartTime,
			TotalPrice:    appt.TotalPrice,
			ServiceCount:  len(resp.Services),
			SupplyCount:   len(resp.Supplies),
		})
	})

	return resp, nil
}

func idempotencyKey(key string) string {
	return "appointment:" + key
}

// findDuplicate returns the earlier response for a replayed idempotency key
func (s *AppointmentService) findDuplicate(ctx context.Context, key string) *CreateAppointmentResponse {
	if key == "" || s.cache == nil {
		return nil
	}

	id, err := s.cache.GetIdempotencyKey(ctx, idempotencyKey(key))
	if err != nil {
		s.logger.Warn("Failed to check idempotency key", zap.Error(err))
		return nil
	}
	if id == "" {
		return nil
	}

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		s.logger.Warn("Idempotency key points to missing appointment",
			zap.String("idempotency_key", key),
			zap.String("appointment_id", id),
			zap.Error(err))
		return nil
	}

	s.logger.Info("Duplicate appointment request detected",
		zap.String("idempotency_key", key),
		zap.String("appointment_id", id))

	services, err := s.store.GetServiceLines(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to load service lines of duplicate appointment",
			zap.String("appointment_id", id),
			zap.Error(err))
	}
	supplies, err := s.store.GetSupplyLines(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to load supply lines of duplicate appointment",
			zap.String("appointment_id", id),
			zap.Error(err))
	}
	return &CreateAppointmentResponse{
		Appointment: appt,
		Services:    services,
		Supplies:    supplies,
		Duplicate:   true,
	}
}

// UpdateAppointment applies a partial update and runs the side effects of
// the transitions it causes. Side effect failures are logged and reported
// through the result flags.
func (s *AppointmentService) UpdateAppointment(ctx context.Context, id string, req *UpdateAppointmentRequest) (*UpdateAppointmentResult, error) {
	ctx, span := util.StartAppointmentSpan(ctx, "AppointmentService.UpdateAppointment", id)
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAppointment, err)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, s.notFound(id, err)
	}

	updated, err := req.apply(*current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAppointment, err)
	}

	if err := s.store.UpdateAppointment(ctx, &updated); err != nil {
		return nil, s.notFound(id, err)
	}

	if req.Services != nil {
		if err := s.store.ReplaceServiceLines(ctx, id, serviceLinesFrom(id, *req.Services)); err != nil {
			s.logger.Error("Failed to replace service lines",
				zap.String("appointment_id", id),
				zap.Error(err))
		}
	}
	if req.Supplies != nil {
		if err := s.store.ReplaceSupplyLines(ctx, id, supplyLinesFrom(id, *req.Supplies)); err != nil {
			s.logger.Error("Failed to replace supply lines",
				zap.String("appointment_id", id),
				zap.Error(err))
		}
	}

	result := &UpdateAppointmentResult{Success: true, Appointment: &updated}

	if transitionedTo(current.Status, updated.Status, models.StatusCompleted) {
		result.StockDeducted = s.deductStock(ctx, &updated)
		result.CommissionGenerated = s.generateCommissions(ctx, &updated)
	}

	if transitionedTo(current.PaymentStatus, updated.PaymentStatus, models.PaymentPaid) {
		if req.Business == nil {
			s.logger.Info("Payment settled without business metadata, no invoice issued",
				zap.String("appointment_id", id))
		} else {
			result.InvoiceGenerated = s.generateInvoice(ctx, &updated, *req.Business)
		}
	}

	timeChanged := !current.StartTime.Equal(updated.StartTime)
	if req.SkipNotification {
		if updated.Status == models.StatusCancelled || timeChanged {
			if _, err := s.reminders.Cancel(ctx, id); err != nil {
				s.logger.Error("Failed to cancel reminders", zap.String("appointment_id", id), zap.Error(err))
			}
		}
	} else {
		s.notifier.Dispatch(ctx, current, &updated)
	}

	if current.Status != updated.Status {
		util.AppointmentTransitionsTotal.WithLabelValues(updated.Status).Inc()
		s.logger.Info("Appointment status changed",
			zap.String("appointment_id", id),
			zap.String("from", current.Status),
			zap.String("to", updated.Status))
	}

	if current.Status != updated.Status || current.PaymentStatus != updated.PaymentStatus || timeChanged {
		s.publish("AppointmentStatusChanged", func() error {
			return s.publisher.PublishAppointmentStatusChanged(ctx, &models.AppointmentStatusChangedEvent{
				BaseEvent:         broker.NewBaseEvent(models.EventTypeAppointmentStatusChanged),
				AppointmentID:     id,
				BusinessID:        updated.BusinessID,
				PreviousStatus:    current.Status,
				Status:            updated.Status,
				PreviousPayment:   current.PaymentStatus,
				PaymentStatus:     updated.PaymentStatus,
				Rescheduled:       timeChanged,
				StockDeducted:     result.StockDeducted,
				CommissionCreated: result.CommissionGenerated,
				InvoiceGenerated:  result.InvoiceGenerated,
			})
		})
	}

	return result, nil
}

// lock takes the per-appointment update lock. A Redis failure lets the
// update through unlocked.
func (s *AppointmentService) lock(ctx context.Context, id string) (func(), error) {
	noop := func() {}
	if s.cache == nil {
		return noop, nil
	}

	key := "appointment:" + id
	token, acquired, err := s.cache.AcquireLock(ctx, key, s.lockTTL)
	if err != nil {
		s.logger.Warn("Appointment lock unavailable, continuing without it",
			zap.String("appointment_id", id),
			zap.Error(err))
		return noop, nil
	}
	if !acquired {
		return nil, ErrAppointmentBusy
	}

	return func() {
		if err := s.cache.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release appointment lock",
				zap.String("appointment_id", id),
				zap.Error(err))
		}
	}, nil
}

// runSideEffect runs fn at most once per appointment and kind. fn reports
// whether it persisted anything; when it did not, the claim is dropped so a
// later transition may retry.
func (s *AppointmentService) runSideEffect(ctx context.Context, kind, appointmentID string, fn func() (bool, error)) (bool, error) {
	if s.cache != nil {
		claimed, err := s.cache.ClaimSideEffect(ctx, kind, appointmentID, s.claimTTL)
		if err != nil {
			s.logger.Warn("Side effect claim unavailable, relying on database constraints",
				zap.String("effect", kind),
				zap.String("appointment_id", appointmentID),
				zap.Error(err))
		} else if !claimed {
			s.logger.Info("Side effect already claimed",
				zap.String("effect", kind),
				zap.String("appointment_id", appointmentID))
			return false, nil
		}
	}

	applied, err := fn()
	if err != nil {
		util.MarkSpanFailed(ctx, err)
		util.SideEffectFailuresTotal.WithLabelValues(kind).Inc()
		s.logger.Error("Side effect failed",
			zap.String("effect", kind),
			zap.String("appointment_id", appointmentID),
			zap.Error(err))
	}
	if !applied && s.cache != nil {
		if err := s.cache.ReleaseSideEffect(ctx, kind, appointmentID); err != nil {
			s.logger.Warn("Failed to release side effect claim",
				zap.String("effect", kind),
				zap.String("appointment_id", appointmentID),
				zap.Error(err))
		}
	}
	return applied, err
}

// deductStock consumes the appointment's supplies. Partial failures keep
// the claim; the lines that did succeed must not be deducted twice.
func (s *AppointmentService) deductStock(ctx context.Context, appt *models.Appointment) bool {
	supplies, err := s.store.GetSupplyLines(ctx, appt.ID)
	if err != nil {
		util.SideEffectFailuresTotal.WithLabelValues(effectStock).Inc()
		s.logger.Error("Failed to load supply lines", zap.String("appointment_id", appt.ID), zap.Error(err))
		return false
	}
	if len(supplies) == 0 {
		return false
	}

	applied, err := s.runSideEffect(ctx, effectStock, appt.ID, func() (bool, error) {
		return true, s.inventory.DeductSupplies(ctx, appt.ID, supplies)
	})
	return applied && err == nil
}

func (s *AppointmentService) generateCommissions(ctx context.Context, appt *models.Appointment) bool {
	lines, err := s.store.GetServiceLines(ctx, appt.ID)
	if err != nil {
		util.SideEffectFailuresTotal.WithLabelValues(effectCommission).Inc()
		s.logger.Error("Failed to load service lines", zap.String("appointment_id", appt.ID), zap.Error(err))
		return false
	}

	applied, _ := s.runSideEffect(ctx, effectCommission, appt.ID, func() (bool, error) {
		created, err := s.commissions.Generate(ctx, appt, lines)
		for _, c := range created {
			c := c
			s.publish("CommissionGenerated", func() error {
				return s.publisher.PublishCommissionGenerated(ctx, &models.CommissionGeneratedEvent{
					BaseEvent:     broker.NewBaseEvent(models.EventTypeCommissionGenerated),
					CommissionID:  c.ID,
					AppointmentID: c.AppointmentID,
					SpecialistID:  c.SpecialistID,
					Amount:        c.Amount,
				})
			})
		}
		return len(created) > 0, err
	})
	return applied
}

func (s *AppointmentService) generateInvoice(ctx context.Context, appt *models.Appointment, meta models.BusinessMetadata) bool {
	applied, _ := s.runSideEffect(ctx, effectInvoice, appt.ID, func() (bool, error) {
		inv, created, err := s.invoices.Generate(ctx, appt, meta)
		if err != nil || !created {
			return false, err
		}
		s.publish("InvoiceGenerated", func() error {
			return s.publisher.PublishInvoiceGenerated(ctx, &models.InvoiceGeneratedEvent{
				BaseEvent:     broker.NewBaseEvent(models.EventTypeInvoiceGenerated),
				InvoiceID:     inv.ID,
				InvoiceNumber: inv.InvoiceNumber,
				AppointmentID: inv.AppointmentID,
				BusinessID:    inv.BusinessID,
				Total:         inv.Total,
			})
		})
		return true, nil
	})
	return applied
}

// DeleteAppointment cancels the appointment's reminders and removes it
func (s *AppointmentService) DeleteAppointment(ctx context.Context, id string) error {
	ctx, span := util.StartAppointmentSpan(ctx, "AppointmentService.DeleteAppointment", id)
	defer span.End()

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return s.notFound(id, err)
	}

	if _, err := s.reminders.Cancel(ctx, id); err != nil {
		s.logger.Error("Failed to cancel reminders", zap.String("appointment_id", id), zap.Error(err))
	}

	if err := s.store.DeleteAppointment(ctx, id); err != nil {
		return s.notFound(id, err)
	}

	s.logger.Info("Appointment deleted", zap.String("appointment_id", id))
	s.publish("AppointmentDeleted", func() error {
		return s.publisher.PublishAppointmentDeleted(ctx, &models.AppointmentDeletedEvent{
			BaseEvent:     broker.NewBaseEvent(models.EventTypeAppointmentDeleted),
			AppointmentID: id,
			BusinessID:    appt.BusinessID,
		})
	})
	return nil
}

// GetAppointment retrieves an appointment with its lines and client
func (s *AppointmentService) GetAppointment(ctx context.Context, id string) (*models.AppointmentDetails, error) {
	ctx, span := util.StartAppointmentSpan(ctx, "AppointmentService.GetAppointment", id)
	defer span.End()

	row, err := s.store.GetAppointmentRow(ctx, id)
	if err != nil {
		return nil, s.notFound(id, err)
	}

	services, err := s.store.GetServiceLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get service lines: %w", err)
	}
	supplies, err := s.store.GetSupplyLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get supply lines: %w", err)
	}

	return &models.AppointmentDetails{
		AppointmentRow: *row,
		Services:       services,
		Supplies:       supplies,
		Client:         s.client(ctx, row.UserProfileID, row.BusinessID),
	}, nil
}

// ListAppointments returns one page of a business's appointments
func (s *AppointmentService) ListAppointments(ctx context.Context, filter models.AppointmentFilter) (*ListAppointmentsResponse, error) {
	ctx, span := util.StartSpan(ctx, "AppointmentService.ListAppointments")
	defer span.End()

	if filter.BusinessID == "" {
		return nil, fmt.Errorf("%w: business_id is required", ErrInvalidAppointment)
	}
	if filter.Status != "" && !models.ValidStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidAppointment, filter.Status)
	}
	filter.Normalize()

	rows, total, err := s.store.ListAppointments(ctx, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	services, err := s.store.GetServiceLinesByAppointmentIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get service lines: %w", err)
	}
	supplies, err := s.store.GetSupplyLinesByAppointmentIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get supply lines: %w", err)
	}

	servicesByAppt := make(map[string][]models.ServiceLine)
	for _, l := range services {
		servicesByAppt[l.AppointmentID] = append(servicesByAppt[l.AppointmentID], l)
	}
	suppliesByAppt := make(map[string][]models.SupplyLine)
	for _, l := range supplies {
		suppliesByAppt[l.AppointmentID] = append(suppliesByAppt[l.AppointmentID], l)
	}

	clients := make(map[string]models.CustomerContact)
	items := make([]models.AppointmentDetails, 0, len(rows))
	for _, row := range rows {
		client, ok := clients[row.UserProfileID]
		if !ok {
			client = s.client(ctx, row.UserProfileID, row.BusinessID)
			clients[row.UserProfileID] = client
		}

		d := models.AppointmentDetails{
			AppointmentRow: row,
			Services:       servicesByAppt[row.ID],
			Supplies:       suppliesByAppt[row.ID],
			Client:         client,
		}
		if d.Services == nil {
			d.Services = []models.ServiceLine{}
		}
		if d.Supplies == nil {
			d.Supplies = []models.SupplyLine{}
		}
		items = append(items, d)
	}

	return &ListAppointmentsResponse{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (s *AppointmentService) client(ctx context.Context, profileID, businessID string) models.CustomerContact {
	contact, err := s.contacts.Resolve(ctx, profileID, businessID)
	if err != nil {
		s.logger.Warn("Failed to resolve client",
			zap.String("user_profile_id", profileID),
			zap.Error(err))
	}
	return contact
}

// ScheduleReminder schedules the reminder of an existing appointment
func (s *AppointmentService) ScheduleReminder(ctx context.Context, id string) (bool, error) {
	ctx, span := util.StartAppointmentSpan(ctx, "AppointmentService.ScheduleReminder", id)
	defer span.End()

	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return false, s.notFound(id, err)
	}
	if appt.Status == models.StatusCancelled {
		return false, fmt.Errorf("%w: appointment is cancelled", ErrInvalidAppointment)
	}

	contact := s.client(ctx, appt.UserProfileID, appt.BusinessID)
	if contact.Phone == "" {
		return false, fmt.Errorf("%w: customer has no phone", ErrInvalidAppointment)
	}
	return s.reminders.Schedule(ctx, appt, contact)
}

// CancelReminders cancels every pending reminder of an appointment
func (s *AppointmentService) CancelReminders(ctx context.Context, id string) (int64, error) {
	return s.reminders.Cancel(ctx, id)
}

// ListReminders returns every reminder of an appointment
func (s *AppointmentService) ListReminders(ctx context.Context, id string) ([]models.ScheduledReminder, error) {
	return s.reminders.List(ctx, id)
}

// InvoicePDF returns the invoice of an appointment rendered as PDF
func (s *AppointmentService) InvoicePDF(ctx context.Context, id string) (*models.Invoice, []byte, error) {
	inv, pdf, err := s.invoices.Render(ctx, id)
	if err != nil {
		return nil, nil, s.notFound(id, err)
	}
	return inv, pdf, nil
}

func (s *AppointmentService) notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return err
}

func (s *AppointmentService) publish(name string, fn func() error) {
	if s.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Error("Failed to publish "+name+" event", zap.Error(err))
	}
}
