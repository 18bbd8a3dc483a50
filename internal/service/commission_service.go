package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointment-service/internal/models"
	"appointment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CommissionService computes specialist payouts for completed appointments
type CommissionService struct {
	store  CommissionStore
	logger *zap.Logger
}

// NewCommissionService creates a new commission service
func NewCommissionService(store CommissionStore) *CommissionService {
	return &CommissionService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// commissionBase is the amount one specialist earns commission on.
type commissionBase struct {
	specialistID string
	amount       decimal.Decimal
}

// commissionBases groups service prices by the specialist who performed
// them. A line's own specialist overrides the appointment's; lines without
// either are ignored. With no lines the appointment total goes to the
// appointment-level specialist.
func commissionBases(appt *models.Appointment, lines []models.ServiceLine) []commissionBase {
	if len(lines) == 0 {
		if appt.SpecialistID == nil || *appt.SpecialistID == "" {
			return nil
		}
		return []commissionBase{{specialistID: *appt.SpecialistID, amount: appt.TotalPrice}}
	}

	index := make(map[string]int)
	var bases []commissionBase
	for _, line := range lines {
		sid := line.SpecialistID
		if sid == nil || *sid == "" {
			sid = appt.SpecialistID
		}
		if sid == nil || *sid == "" {
			continue
		}
		if i, ok := index[*sid]; ok {
			bases[i].amount = bases[i].amount.Add(line.Price)
			continue
		}
		index[*sid] = len(bases)
		bases = append(bases, commissionBase{specialistID: *sid, amount: line.Price})
	}
	return bases
}

// CommissionAmount applies a percentage rate to base, rounded to cents.
func CommissionAmount(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}

// Generate records one commission per specialist of the appointment and
// returns the ones created. Existing commissions are left untouched.
func (cs *CommissionService) Generate(ctx context.Context, appt *models.Appointment, lines []models.ServiceLine) ([]models.Commission, error) {
	ctx, span := util.StartSpan(ctx, "CommissionService.Generate")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SideEffectLatency.WithLabelValues("commission").Observe(time.Since(start).Seconds())
	}()

	bases := commissionBases(appt, lines)
	if len(bases) == 0 {
		cs.logger.Info("No specialist to pay commission to", zap.String("appointment_id", appt.ID))
		return nil, nil
	}

	ids := make([]string, len(bases))
	for i, b := range bases {
		ids[i] = b.specialistID
	}
	specialists, err := cs.store.GetSpecialistsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load specialists: %w", err)
	}
	rates := make(map[string]decimal.Decimal, len(specialists))
	for _, sp := range specialists {
		rates[sp.ID] = sp.CommissionRate
	}

	var created []models.Commission
	var errs []error
	for _, b := range bases {
		rate, ok := rates[b.specialistID]
		if !ok || !rate.IsPositive() {
			cs.logger.Info("Specialist has no commission rate",
				zap.String("appointment_id", appt.ID),
				zap.String("specialist_id", b.specialistID))
			continue
		}

		c := models.Commission{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			SpecialistID:  b.specialistID,
			BaseAmount:    b.amount,
			Rate:          rate,
			Amount:        CommissionAmount(b.amount, rate),
			Status:        models.CommissionPending,
		}
		ok, err := cs.store.CreateCommission(ctx, &c)
		if err != nil {
			errs = append(errs, fmt.Errorf("specialist %s: %w", b.specialistID, err))
			continue
		}
		if !ok {
			cs.logger.Info("Commission already recorded",
				zap.String("appointment_id", appt.ID),
				zap.String("specialist_id", b.specialistID))
			continue
		}

		util.CommissionsGeneratedTotal.Inc()
		created = append(created, c)
	}

	return created, errors.Join(errs...)
}
