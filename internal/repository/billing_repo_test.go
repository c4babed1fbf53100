package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"familynest/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var billingRowColumns = []string{
	"family_id", "plan_type", "plan_started_at", "plan_expires_at", "storage_limit_bytes",
	"stripe_customer_id", "stripe_subscription_id", "updated_at",
}

func TestBillingRepo_GetBySubscriptionID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := started.Add(model.AnnualPlanDuration)
	rows := sqlmock.NewRows(billingRowColumns).AddRow(
		"fam-1", "annual", started, expires, model.PlanLimits[model.PlanAnnual],
		"cus_1", "sub_1", started,
	)
	mock.ExpectQuery("SELECT (.+) FROM family_billing WHERE stripe_subscription_id = \\$1").
		WithArgs("sub_1").
		WillReturnRows(rows)

	rec, err := NewBillingRepo(db).GetBySubscriptionID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, model.PlanAnnual, rec.PlanType)
	require.NotNil(t, rec.PlanExpiresAt)
	assert.True(t, expires.Equal(*rec.PlanExpiresAt))
	assert.Equal(t, "sub_1", *rec.StripeSubscriptionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepo_GetMissingReturnsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM family_billing WHERE family_id = \\$1").
		WithArgs("fam-404").
		WillReturnRows(sqlmock.NewRows(billingRowColumns))

	rec, err := NewBillingRepo(db).GetByFamilyID(context.Background(), "fam-404")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepo_ActivatePlanDerivesQuota(t *testing.T) {
	for _, plan := range []model.PlanType{model.PlanFree, model.PlanAnnual, model.PlanLegacy} {
		t.Run(string(plan), func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec("INSERT INTO family_billing").
				WithArgs("fam-1", string(plan), sqlmock.AnyArg(), sqlmock.AnyArg(), model.PlanLimits[plan], "cus_1", "").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err = NewBillingRepo(db).ActivatePlan(context.Background(), model.PlanActivation{
				FamilyID:         "fam-1",
				Plan:             plan,
				StartedAt:        time.Now(),
				StripeCustomerID: "cus_1",
			})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBillingRepo_ActivateUnknownPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = NewBillingRepo(db).ActivatePlan(context.Background(), model.PlanActivation{FamilyID: "fam-1", Plan: "platinum"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepo_Downgrade(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE family_billing").
		WithArgs("fam-1", "free", sqlmock.AnyArg(), model.PlanLimits[model.PlanFree]).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewBillingRepo(db).Downgrade(context.Background(), "fam-1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepo_WriteErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectExec("UPDATE family_billing").WillReturnError(dbErr)

	err = NewBillingRepo(db).Downgrade(context.Background(), "fam-1", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepo_SetStripeCustomerID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO family_billing").
		WithArgs("fam-1", "free", "cus_9", sqlmock.AnyArg(), model.PlanLimits[model.PlanFree]).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewBillingRepo(db).SetStripeCustomerID(context.Background(), "fam-1", "cus_9", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepo_GetMembership(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT family_id, user_id, role, created_at FROM family_members").
		WithArgs("fam-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"family_id", "user_id", "role", "created_at"}).
			AddRow("fam-1", "user-1", "admin", time.Now()))
	mock.ExpectQuery("SELECT family_id, user_id, role, created_at FROM family_members").
		WithArgs("fam-1", "stranger").
		WillReturnRows(sqlmock.NewRows([]string{"family_id", "user_id", "role", "created_at"}))

	repo := NewMemberRepo(db)
	m, err := repo.GetMembership(context.Background(), "fam-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.RoleAdmin, m.Role)

	m, err = repo.GetMembership(context.Background(), "fam-1", "stranger")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}
