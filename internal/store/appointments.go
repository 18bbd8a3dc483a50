package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"appointment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const appointmentColumns = `a.id, a.business_id, a.user_profile_id, a.specialist_id, a.status, a.payment_status,
	a.start_time, a.end_time, a.total_price, COALESCE(a.notes, '') AS notes, a.created_at, a.updated_at`

const appointmentRowSelect = `SELECT ` + appointmentColumns + `,
	COALESCE(sp.name, '') AS specialist_name,
	COALESCE(b.name, '') AS business_name,
	COALESCE(up.full_name, '') AS profile_name
	FROM appointments a
	LEFT JOIN specialists sp ON sp.id = a.specialist_id
	LEFT JOIN businesses b ON b.id = a.business_id
	LEFT JOIN users_profile up ON up.id = a.user_profile_id`

// serviceLineOrder keeps service lines in the order they were submitted
const serviceLineOrder = "l.position, l.start_time NULLS LAST, l.id"

const serviceLineSelect = `SELECT l.id, l.appointment_id, l.service_id, l.specialist_id, l.price, l.duration_minutes,
	l.start_time, l.end_time, l.position,
	COALESCE(sv.name, '') AS service_name,
	COALESCE(sp.name, '') AS specialist_name
	FROM appointment_services l
	LEFT JOIN services sv ON sv.id = l.service_id
	LEFT JOIN specialists sp ON sp.id = l.specialist_id`

const supplyLineSelect = `SELECT l.id, l.appointment_id, l.supply_id, l.quantity, l.unit_price,
	COALESCE(su.name, '') AS supply_name
	FROM appointment_supplies l
	LEFT JOIN supplies su ON su.id = l.supply_id`

// CreateAppointment inserts a new appointment
func (s *Store) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	query := `
		INSERT INTO appointments (business_id, user_profile_id, specialist_id, status, payment_status,
			start_time, end_time, total_price, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, a, query,
		a.BusinessID, a.UserProfileID, a.SpecialistID, a.Status, a.PaymentStatus,
		a.StartTime, a.EndTime, a.TotalPrice, a.Notes)
}

// GetAppointmentByID retrieves an appointment by ID
func (s *Store) GetAppointmentByID(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	err := s.db.GetContext(ctx, &a, "SELECT "+appointmentColumns+" FROM appointments a WHERE a.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAppointment writes every mutable column of a
func (s *Store) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	query := `
		UPDATE appointments
		SET specialist_id = $1, status = $2, payment_status = $3, start_time = $4, end_time = $5,
			total_price = $6, notes = NULLIF($7, ''), updated_at = NOW()
		WHERE id = $8
		RETURNING updated_at`

	err := s.db.GetContext(ctx, &a.UpdatedAt, query,
		a.SpecialistID, a.Status, a.PaymentStatus, a.StartTime, a.EndTime, a.TotalPrice, a.Notes, a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrNotFound)
	}
	return err
}

// DeleteAppointment removes an appointment; line items cascade
func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM appointments WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetAppointmentRow retrieves one appointment joined with display names
func (s *Store) GetAppointmentRow(ctx context.Context, id string) (*models.AppointmentRow, error) {
	var row models.AppointmentRow
	err := s.db.GetContext(ctx, &row, appointmentRowSelect+" WHERE a.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListAppointments returns one page of appointments and the total match count
func (s *Store) ListAppointments(ctx context.Context, f models.AppointmentFilter) ([]models.AppointmentRow, int, error) {
	f.Normalize()

	where, args := appointmentFilterClause(f)

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM appointments a"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count appointments: %w", err)
	}

	query := fmt.Sprintf("%s%s ORDER BY a.start_time DESC LIMIT $%d OFFSET $%d",
		appointmentRowSelect, where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, f.Offset())

	rows := []models.AppointmentRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list appointments: %w", err)
	}
	return rows, total, nil
}

func appointmentFilterClause(f models.AppointmentFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	add("a.business_id = $%d", f.BusinessID)
	if f.Status != "" {
		add("a.status = $%d", f.Status)
	}
	if f.SpecialistID != "" {
		add("a.specialist_id = $%d", f.SpecialistID)
	}
	if f.From != nil {
		add("a.start_time >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.start_time < $%d", *f.To)
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// CreateServiceLine inserts one appointment_services row
func (s *Store) CreateServiceLine(ctx context.Context, line *models.ServiceLine) error {
	return insertServiceLine(ctx, s.db, line)
}

// CreateSupplyLine inserts one appointment_supplies row
func (s *Store) CreateSupplyLine(ctx context.Context, line *models.SupplyLine) error {
	return insertSupplyLine(ctx, s.db, line)
}

// ReplaceServiceLines deletes and reinserts the service lines of an appointment
func (s *Store) ReplaceServiceLines(ctx context.Context, appointmentID string, lines []models.ServiceLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM appointment_services WHERE appointment_id = $1", appointmentID); err != nil {
		return fmt.Errorf("failed to delete service lines: %w", err)
	}
	for i := range lines {
		lines[i].AppointmentID = appointmentID
		if err := insertServiceLine(ctx, tx, &lines[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceSupplyLines deletes and reinserts the supply lines of an appointment
func (s *Store) ReplaceSupplyLines(ctx context.Context, appointmentID string, lines []models.SupplyLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM appointment_supplies WHERE appointment_id = $1", appointmentID); err != nil {
		return fmt.Errorf("failed to delete supply lines: %w", err)
	}
	for i := range lines {
		lines[i].AppointmentID = appointmentID
		if err := insertSupplyLine(ctx, tx, &lines[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetServiceLines retrieves the service lines of an appointment
func (s *Store) GetServiceLines(ctx context.Context, appointmentID string) ([]models.ServiceLine, error) {
	lines := []models.ServiceLine{}
	err := s.db.SelectContext(ctx, &lines,
		serviceLineSelect+" WHERE l.appointment_id = $1 ORDER BY "+serviceLineOrder, appointmentID)
	return lines, err
}

// GetSupplyLines retrieves the supply lines of an appointment
func (s *Store) GetSupplyLines(ctx context.Context, appointmentID string) ([]models.SupplyLine, error) {
	lines := []models.SupplyLine{}
	err := s.db.SelectContext(ctx, &lines, supplyLineSelect+" WHERE l.appointment_id = $1 ORDER BY l.id", appointmentID)
	return lines, err
}

// GetServiceLinesByAppointmentIDs retrieves service lines for many appointments
func (s *Store) GetServiceLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.ServiceLine, error) {
	lines := []models.ServiceLine{}
	if len(ids) == 0 {
		return lines, nil
	}
	query, args, err := sqlx.In(serviceLineSelect+" WHERE l.appointment_id IN (?) ORDER BY l.appointment_id, "+serviceLineOrder, ids)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &lines, s.db.Rebind(query), args...)
	return lines, err
}

// GetSupplyLinesByAppointmentIDs retrieves supply lines for many appointments
func (s *Store) GetSupplyLinesByAppointmentIDs(ctx context.Context, ids []string) ([]models.SupplyLine, error) {
	lines := []models.SupplyLine{}
	if len(ids) == 0 {
		return lines, nil
	}
	query, args, err := sqlx.In(supplyLineSelect+" WHERE l.appointment_id IN (?) ORDER BY l.id", ids)
	if err != nil {
		return nil, err
	}
	err = s.db.SelectContext(ctx, &lines, s.db.Rebind(query), args...)
	return lines, err
}

func insertServiceLine(ctx context.Context, q sqlx.QueryerContext, line *models.ServiceLine) error {
	query := `
		INSERT INTO appointment_services (appointment_id, service_id, specialist_id, price, duration_minutes,
			start_time, end_time, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if err := sqlx.GetContext(ctx, q, &line.ID, query,
		line.AppointmentID, line.ServiceID, line.SpecialistID, line.Price, line.DurationMinutes,
		line.StartTime, line.EndTime, line.Position); err != nil {
		return fmt.Errorf("failed to insert service line %s: %w", line.ServiceID, err)
	}
	return nil
}

func insertSupplyLine(ctx context.Context, q sqlx.QueryerContext, line *models.SupplyLine) error {
	query := `
		INSERT INTO appointment_supplies (appointment_id, supply_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := sqlx.GetContext(ctx, q, &line.ID, query,
		line.AppointmentID, line.SupplyID, line.Quantity, line.UnitPrice); err != nil {
		return fmt.Errorf("failed to insert supply line %s: %w", line.SupplyID, err)
	}
	return nil
}
