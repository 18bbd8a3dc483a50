package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/store"
	"appointment-service/internal/whatsapp"

	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store.
type memStore struct {
	mu  sync.Mutex
	seq int

	appointments map[string]*models.Appointment
	services     map[string][]models.ServiceLine
	supplies     map[string][]models.SupplyLine
	businesses   map[string]*models.Business
	specialists  map[string]models.Specialist
	serviceNames map[string]string
	customers    map[string]*models.BusinessCustomer
	authUsers    map[string]*models.AuthUser
	stock        map[string]int
	reminders    []*models.ScheduledReminder
	commissions  []models.Commission
	invoices     map[string]*models.Invoice
	processed    map[string]bool

	failServiceLines bool
	failCustomers    error
	failLineReads    error
}

func newMemStore() *memStore {
	return &memStore{
		appointments: map[string]*models.Appointment{},
		services:     map[string][]models.ServiceLine{},
		supplies:     map[string][]models.SupplyLine{},
		businesses:   map[string]*models.Business{},
		specialists:  map[string]models.Specialist{},
		serviceNames: map[string]string{},
		customers:    map[string]*models.BusinessCustomer{},
		authUsers:    map[string]*models.AuthUser{},
		stock:        map[string]int{},
		invoices:     map[string]*models.Invoice{},
		processed:    map[string]bool{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) CreateAppointment(_ context.Context, a *models.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("appt")
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id string) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAppointment(_ context.Context, a *models.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; !ok {
		return fmt.Errorf("appointment %s: %w", a.ID, store.ErrNotFound)
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memStore) DeleteAppointment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return fmt.Errorf("appointment %s: %w", id, store.ErrNotFound)
	}
	delete(m.appointments, id)
	delete(m.services, id)
	delete(m.supplies, id)
	return nil
}

func (m *memStore) row(a *models.Appointment) models.AppointmentRow {
	row := models.AppointmentRow{Appointment: *a}
	if b, ok := m.businesses[a.BusinessID]; ok {
		row.BusinessName = b.Name
	}
	if a.SpecialistID != nil {
		row.SpecialistName = m.specialists[*a.SpecialistID].Name
	}
	return row
}

func (m *memStore) GetAppointmentRow(_ context.Context, id string) (*models.AppointmentRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, store.ErrNotFound)
	}
	row := m.row(a)
	return &row, nil
}

func (m *memStore) ListAppointments(_ context.Context, f models.AppointmentFilter) ([]models.AppointmentRow, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Normalize()

	var all []models.AppointmentRow
	for _, a := range m.appointments {
		if a.BusinessID != f.BusinessID || (f.Status != "" && a.Status != f.Status) {
			continue
		}
		all = append(all, m.row(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	total := len(all)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memStore) withNames(l models.ServiceLine) models.ServiceLine {
	l.ServiceName = m.serviceNames[l.ServiceID]
	if l.SpecialistID != nil {
		l.SpecialistName = m.specialists[*l.SpecialistID].Name
	}
	return l
}

func (m *memStore) CreateServiceLine(_ context.Context, line *models.ServiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failServiceLines {
		return errors.New("insert failed")
	}
	line.ID = m.nextID("svc-line")
	m.services[line.AppointmentID] = append(m.services[line.AppointmentID], *line)
	return nil
}

func (m *memStore) CreateSupplyLine(_ context.Context, line *models.SupplyLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line.ID = m.nextID("sup-line")
	m.supplies[line.AppointmentID] = append(m.supplies[line.AppointmentID], *line)
	return nil
}

func (m *memStore) ReplaceServiceLines(_ context.Context, id string, lines []models.ServiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[id] = nil
	for _, l := range lines {
		l.ID = m.nextID("svc-line")
		m.services[id] = append(m.services[id], l)
	}
	return nil
}

func (m *memStore) ReplaceSupplyLines(_ context.Context, id string, lines []models.SupplyLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplies[id] = nil
	for _, l := range lines {
		l.ID = m.nextID("sup-line")
		m.supplies[id] = append(m.supplies[id], l)
	}
	return nil
}

func (m *memStore) GetServiceLines(_ context.Context, id string) ([]models.ServiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLineReads != nil {
		return nil, m.failLineReads
	}
	lines := []models.ServiceLine{}
	for _, l := range m.services[id] {
		lines = append(lines, m.withNames(l))
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })
	return lines, nil
}

func (m *memStore) GetSupplyLines(_ context.Context, id string) ([]models.SupplyLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLineReads != nil {
		return nil, m.failLineReads
	}
	return append([]models.SupplyLine{}, m.supplies[id]...), nil
}

func (m *memStore) GetServiceLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.ServiceLine, error) {
	var out []models.ServiceLine
	for _, id := range ids {
		lines, _ := m.GetServiceLines(ctx, id)
		out = append(out, lines...)
	}
	return out, nil
}

func (m *memStore) GetSupplyLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.SupplyLine, error) {
	var out []models.SupplyLine
	for _, id := range ids {
		lines, _ := m.GetSupplyLines(ctx, id)
		out = append(out, lines...)
	}
	return out, nil
}

func (m *memStore) GetBusinessCustomer(_ context.Context, profileID, businessID string) (*models.BusinessCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCustomers != nil {
		return nil, m.failCustomers
	}
	return m.customers[profileID+"|"+businessID], nil
}

func (m *memStore) GetAuthUser(_ context.Context, id string) (*models.AuthUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.authUsers[id]
	if !ok {
		return nil, fmt.Errorf("auth user %s: %w", id, store.ErrNotFound)
	}
	return u, nil
}

func (m *memStore) GetBusinessByID(_ context.Context, id string) (*models.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, fmt.Errorf("business %s: %w", id, store.ErrNotFound)
	}
	return b, nil
}

func (m *memStore) GetSpecialistsByIDs(_ context.Context, ids []string) ([]models.Specialist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Specialist
	for _, id := range ids {
		if sp, ok := m.specialists[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (m *memStore) GetSupplies(_ context.Context) ([]models.Supply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Supply
	for id, qty := range m.stock {
		out = append(out, models.Supply{ID: id, StockQuantity: qty})
	}
	return out, nil
}

func (m *memStore) DeductSupplyStock(_ context.Context, supplyID string, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.stock[supplyID]
	if !ok {
		return 0, fmt.Errorf("supply %s: %w", supplyID, store.ErrNotFound)
	}
	qty -= quantity
	if qty < 0 {
		qty = 0
	}
	m.stock[supplyID] = qty
	return qty, nil
}

func (m *memStore) CreateCommission(_ context.Context, c *models.Commission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.commissions {
		if existing.AppointmentID == c.AppointmentID && existing.SpecialistID == c.SpecialistID {
			return false, nil
		}
	}
	c.ID = m.nextID("commission")
	m.commissions = append(m.commissions, *c)
	return true, nil
}

func (m *memStore) CreateInvoice(_ context.Context, inv *models.Invoice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.AppointmentID]; ok {
		return false, nil
	}
	inv.ID = m.nextID("invoice")
	inv.IssuedAt = time.Now()
	cp := *inv
	m.invoices[inv.AppointmentID] = &cp
	return true, nil
}

func (m *memStore) GetInvoiceByAppointmentID(_ context.Context, id string) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice for appointment %s: %w", id, store.ErrNotFound)
	}
	return inv, nil
}

func (m *memStore) ReplaceReminder(_ context.Context, r *models.ScheduledReminder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cancelled int64
	for _, existing := range m.reminders {
		if existing.AppointmentID == r.AppointmentID && existing.Status == models.ReminderPending {
			existing.Status = models.ReminderCancelled
			cancelled++
		}
	}
	r.ID = m.nextID("reminder")
	if r.NextAttemptAt.IsZero() {
		r.NextAttemptAt = r.RemindAt
	}
	cp := *r
	m.reminders = append(m.reminders, &cp)
	return cancelled, nil
}

func (m *memStore) RetryReminder(_ context.Context, id string, nextAttempt time.Time, lastErr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reminders {
		if r.ID != id || r.Status != models.ReminderSent {
			continue
		}
		r.Attempts++
		r.Status = models.ReminderPending
		if r.Attempts >= r.MaxAttempts {
			r.Status = models.ReminderFailed
		}
		r.NextAttemptAt = nextAttempt
		r.LastError = lastErr
		return r.Status, nil
	}
	return "", nil
}

// dispatchPending marks the pending reminders of an appointment SENT the way
// the poller does and returns the REMINDER_DUE events it would publish.
func (m *memStore) dispatchPending(appointmentID string) []*models.ReminderDueEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []*models.ReminderDueEvent
	for _, r := range m.reminders {
		if r.AppointmentID != appointmentID || r.Status != models.ReminderPending {
			continue
		}
		r.Status = models.ReminderSent
		events = append(events, reminderEvent(*r))
	}
	return events
}

func (m *memStore) CancelReminders(_ context.Context, appointmentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.reminders {
		if r.AppointmentID == appointmentID && r.Status == models.ReminderPending {
			r.Status = models.ReminderCancelled
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetRemindersByAppointmentID(_ context.Context, appointmentID string) ([]models.ScheduledReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduledReminder
	for _, r := range m.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) pendingReminders(appointmentID string) []models.ScheduledReminder {
	all, _ := m.GetRemindersByAppointmentID(context.Background(), appointmentID)
	var out []models.ScheduledReminder
	for _, r := range all {
		if r.Status == models.ReminderPending {
			out = append(out, r)
		}
	}
	return out
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

// sentNotice is one call made on fakeNotifier.
type sentNotice struct {
	Kind   string
	Notice whatsapp.Notice
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	fail bool
}

func (f *fakeNotifier) record(kind string, n whatsapp.Notice) whatsapp.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{Kind: kind, Notice: n})
	if f.fail {
		return whatsapp.Result{Error: "provider down"}
	}
	return whatsapp.Result{Success: true, MessageID: fmt.Sprintf("msg-%d", len(f.sent))}
}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Kind
	}
	return out
}

func (f *fakeNotifier) SendAppointmentConfirmation(_ context.Context, n whatsapp.Notice) whatsapp.Result {
	return f.record("confirmation", n)
}

func (f *fakeNotifier) SendAppointmentCancellation(_ context.Context, n whatsapp.Notice) whatsapp.Result {
	return f.record("cancellation", n)
}

func (f *fakeNotifier) SendAppointmentCompleted(_ context.Context, n whatsapp.Notice) whatsapp.Result {
	return f.record("completed", n)
}

func (f *fakeNotifier) SendAppointmentRescheduled(_ context.Context, n whatsapp.Notice) whatsapp.Result {
	return f.record("rescheduled", n)
}

func (f *fakeNotifier) SendAppointmentReminder(_ context.Context, n whatsapp.Notice) whatsapp.Result {
	return f.record("reminder", n)
}

type fakeCache struct {
	mu          sync.Mutex
	seq         int
	locks       map[string]string
	idempotency map[string]string
	claims      map[string]bool
	stock       map[string]int
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		locks:       map[string]string{},
		idempotency: map[string]string{},
		claims:      map[string]bool{},
		stock:       map[string]int{},
	}
}

func (c *fakeCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	c.seq++
	token := fmt.Sprintf("token-%d", c.seq)
	c.locks[key] = token
	return token, true, nil
}

func (c *fakeCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return c.err
}

func (c *fakeCache) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idempotency[key], c.err
}

func (c *fakeCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.idempotency[key] = fmt.Sprint(value)
	return nil
}

func (c *fakeCache) ClaimSideEffect(_ context.Context, kind, appointmentID string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	key := kind + ":" + appointmentID
	if c.claims[key] {
		return false, nil
	}
	c.claims[key] = true
	return true, nil
}

func (c *fakeCache) ReleaseSideEffect(_ context.Context, kind, appointmentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, kind+":"+appointmentID)
	return c.err
}

func (c *fakeCache) DeductStock(_ context.Context, supplyID string, quantity int) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	qty, ok := c.stock[supplyID]
	if !ok {
		return 0, false, nil
	}
	qty -= quantity
	if qty < 0 {
		qty = 0
	}
	c.stock[supplyID] = qty
	return qty, true, nil
}

func (c *fakeCache) SetStock(_ context.Context, supplyID string, available int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[supplyID] = available
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) add(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *fakePublisher) PublishAppointmentCreated(_ context.Context, e *models.AppointmentCreatedEvent) error {
	return p.add(e.EventType)
}

func (p *fakePublisher) PublishAppointmentStatusChanged(_ context.Context, e *models.AppointmentStatusChangedEvent) error {
	return p.add(e.EventType)
}

func (p *fakePublisher) PublishAppointmentDeleted(_ context.Context, e *models.AppointmentDeletedEvent) error {
	return p.add(e.EventType)
}

func (p *fakePublisher) PublishInvoiceGenerated(_ context.Context, e *models.InvoiceGeneratedEvent) error {
	return p.add(e.EventType)
}

func (p *fakePublisher) PublishCommissionGenerated(_ context.Context, e *models.CommissionGeneratedEvent) error {
	return p.add(e.EventType)
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendInvoice(_ context.Context, inv *models.Invoice, pdf []byte) error {
	f.sent = append(f.sent, inv.InvoiceNumber)
	return nil
}

// Fixture ids and clock shared by the service tests.
var (
	testNow        = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	testBusinessID = "biz-1"
	testProfileID  = "profile-1"
	specialistAna  = "spec-ana"
	specialistBia  = "spec-bia"
)

type harness struct {
	svc       *AppointmentService
	store     *memStore
	cache     *fakeCache
	notifier  *fakeNotifier
	publisher *fakePublisher
	mailer    *fakeMailer
	reminders *ReminderService
	status    *StatusNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := newMemStore()
	phoneID := "pn-1"
	st.businesses[testBusinessID] = &models.Business{
		ID:                    testBusinessID,
		Name:                  "Studio Bela",
		WhatsAppPhoneNumberID: &phoneID,
	}
	st.specialists[specialistAna] = models.Specialist{ID: specialistAna, Name: "Ana", CommissionRate: decimal.NewFromInt(40)}
	st.specialists[specialistBia] = models.Specialist{ID: specialistBia, Name: "Bia", CommissionRate: decimal.NewFromInt(50)}
	st.serviceNames["svc-cut"] = "Corte"
	st.serviceNames["svc-color"] = "Coloração"
	st.customers[testProfileID+"|"+testBusinessID] = &models.BusinessCustomer{
		UserProfileID: testProfileID,
		BusinessID:    testBusinessID,
		Name:          "Carla",
		Phone:         "11987654321",
		Email:         "carla@example.com",
	}
	st.stock["sup-gel"] = 10

	cache := newFakeCache()
	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}
	mailer := &fakeMailer{}

	contacts := NewContactResolver(st)
	reminders := NewReminderService(st, 2*time.Hour, 3, 5*time.Minute)
	reminders.now = func() time.Time { return testNow }
	invoices := NewInvoiceService(st, contacts, mailer, time.UTC)
	invoices.now = func() time.Time { return testNow }
	status := NewStatusNotifier(st, contacts, notifier, reminders, st)

	svc := NewAppointmentService(AppointmentDeps{
		Store:       st,
		Cache:       cache,
		Publisher:   publisher,
		Contacts:    contacts,
		Inventory:   NewInventoryClient(st, cache),
		Commissions: NewCommissionService(st),
		Invoices:    invoices,
		Reminders:   reminders,
		Notifier:    status,
	})

	return &harness{
		svc:       svc,
		store:     st,
		cache:     cache,
		notifier:  notifier,
		publisher: publisher,
		mailer:    mailer,
		reminders: reminders,
		status:    status,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func baseRequest(start time.Time) *CreateAppointmentRequest {
	return &CreateAppointmentRequest{
		BusinessID:    testBusinessID,
		UserProfileID: testProfileID,
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
	}
}
