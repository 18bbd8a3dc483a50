package service

import (
	"context"
	"testing"

	"appointment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommissionBasesGroupBySpecialist(t *testing.T) {
	appt := &models.Appointment{SpecialistID: &specialistAna}
	lines := []models.ServiceLine{
		{Price: decimal.NewFromInt(50)},
		{SpecialistID: &specialistBia, Price: decimal.NewFromInt(70)},
		{SpecialistID: &specialistAna, Price: decimal.NewFromInt(30)},
	}

	bases := commissionBases(appt, lines)

	require.Len(t, bases, 2)
	assert.Equal(t, specialistAna, bases[0].specialistID)
	assert.Equal(t, "80", bases[0].amount.String())
	assert.Equal(t, specialistBia, bases[1].specialistID)
	assert.Equal(t, "70", bases[1].amount.String())
}

func TestCommissionBasesWithoutLines(t *testing.T) {
	appt := &models.Appointment{SpecialistID: &specialistAna, TotalPrice: decimal.NewFromInt(150)}
	bases := commissionBases(appt, nil)
	require.Len(t, bases, 1)
	assert.Equal(t, "150", bases[0].amount.String())

	assert.Empty(t, commissionBases(&models.Appointment{}, nil))
	assert.Empty(t, commissionBases(&models.Appointment{}, []models.ServiceLine{{Price: decimal.NewFromInt(10)}}))
}

func TestCommissionAmount(t *testing.T) {
	assert.Equal(t, "5.00", CommissionAmount(decimal.RequireFromString("33.33"), decimal.NewFromInt(15)).StringFixed(2))
	assert.Equal(t, "40.00", CommissionAmount(decimal.NewFromInt(100), decimal.NewFromInt(40)).StringFixed(2))
}

func TestGenerateSkipsSpecialistWithoutRate(t *testing.T) {
	st := newMemStore()
	st.specialists["s1"] = models.Specialist{ID: "s1", CommissionRate: decimal.Zero}
	sid := "s1"

	created, err := NewCommissionService(st).Generate(context.Background(),
		&models.Appointment{ID: "a1", SpecialistID: &sid, TotalPrice: decimal.NewFromInt(100)}, nil)

	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, st.commissions)
}

func TestGenerateIsUniquePerSpecialist(t *testing.T) {
	st := newMemStore()
	st.specialists[specialistAna] = models.Specialist{ID: specialistAna, CommissionRate: decimal.NewFromInt(10)}
	cs := NewCommissionService(st)
	appt := &models.Appointment{ID: "a1", SpecialistID: &specialistAna, TotalPrice: decimal.NewFromInt(100)}

	first, err := cs.Generate(context.Background(), appt, nil)
	require.NoError(t, err)
	second, err := cs.Generate(context.Background(), appt, nil)
	require.NoError(t, err)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Len(t, st.commissions, 1)
	assert.Equal(t, models.CommissionPending, st.commissions[0].Status)
}
