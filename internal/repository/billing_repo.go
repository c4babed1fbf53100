package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"familynest/internal/model"
)

// BillingRepository reads and writes the per-family billing record. Writers
// never accept a quota: it is always derived from the plan.
type BillingRepository interface {
	GetByFamilyID(ctx context.Context, familyID string) (*model.FamilyBilling, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.FamilyBilling, error)
	GetByCustomerID(ctx context.Context, customerID string) (*model.FamilyBilling, error)
	// ActivatePlan upserts the record for a.FamilyID into a.Plan.
	ActivatePlan(ctx context.Context, a model.PlanActivation) error
	// Downgrade moves the family to the free plan and drops its subscription reference.
	Downgrade(ctx context.Context, familyID string, at time.Time) error
	SetStripeCustomerID(ctx context.Context, familyID, customerID string, at time.Time) error
}

type billingRepo struct {
	db *sql.DB
}

func NewBillingRepo(db *sql.DB) BillingRepository {
	return &billingRepo{db: db}
}

const billingColumns = `family_id, plan_type, plan_started_at, plan_expires_at, storage_limit_bytes,
       stripe_customer_id, stripe_subscription_id, updated_at`

func (r *billingRepo) getOne(ctx context.Context, where string, arg string) (*model.FamilyBilling, error) {
	query := `SELECT ` + billingColumns + ` FROM family_billing WHERE ` + where + ` = $1`
	var (
		b    model.FamilyBilling
		plan string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&b.FamilyID,
		&plan,
		&b.PlanStartedAt,
		&b.PlanExpiresAt,
		&b.StorageLimitBytes,
		&b.StripeCustomerID,
		&b.StripeSubscriptionID,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch family billing by %s: %w", where, err)
	}
	b.PlanType = model.PlanType(plan)
	return &b, nil
}

func (r *billingRepo) GetByFamilyID(ctx context.Context, familyID string) (*model.FamilyBilling, error) {
	return r.getOne(ctx, "family_id", familyID)
}

func (r *billingRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.FamilyBilling, error) {
	return r.getOne(ctx, "stripe_subscription_id", subscriptionID)
}

func (r *billingRepo) GetByCustomerID(ctx context.Context, customerID string) (*model.FamilyBilling, error) {
	return r.getOne(ctx, "stripe_customer_id", customerID)
}

func (r *billingRepo) ActivatePlan(ctx context.Context, a model.PlanActivation) error {
	if !a.Plan.Valid() {
		return fmt.Errorf("activate plan for family %s: unknown plan %q", a.FamilyID, a.Plan)
	}
	const q = `
		INSERT INTO family_billing (family_id, plan_type, plan_started_at, plan_expires_at, storage_limit_bytes,
		                            stripe_customer_id, stripe_subscription_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $3)
		ON CONFLICT (family_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type,
			plan_started_at = EXCLUDED.plan_started_at,
			plan_expires_at = EXCLUDED.plan_expires_at,
			storage_limit_bytes = EXCLUDED.storage_limit_bytes,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, family_billing.stripe_customer_id),
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := r.db.ExecContext(ctx, q,
		a.FamilyID,
		string(a.Plan),
		a.StartedAt,
		a.ExpiresAt,
		model.StorageLimitFor(a.Plan),
		a.StripeCustomerID,
		a.StripeSubscriptionID,
	)
	if err != nil {
		return fmt.Errorf("activate %s plan for family %s: %w", a.Plan, a.FamilyID, err)
	}
	return nil
}

func (r *billingRepo) Downgrade(ctx context.Context, familyID string, at time.Time) error {
	const q = `
		UPDATE family_billing
		SET
			plan_type = $2,
			plan_started_at = $3,
			plan_expires_at = NULL,
			storage_limit_bytes = $4,
			stripe_subscription_id = NULL,
			updated_at = $3
		WHERE
			family_id = $1;
	`
	_, err := r.db.ExecContext(ctx, q, familyID, string(model.PlanFree), at, model.StorageLimitFor(model.PlanFree))
	if err != nil {
		return fmt.Errorf("downgrade family %s to free plan: %w", familyID, err)
	}
	return nil
}

func (r *billingRepo) SetStripeCustomerID(ctx context.Context, familyID, customerID string, at time.Time) error {
	const q = `
		INSERT INTO family_billing (family_id, plan_type, plan_started_at, storage_limit_bytes, stripe_customer_id, updated_at)
		VALUES ($1, $2, $4, $5, $3, $4)
		ON CONFLICT (family_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := r.db.ExecContext(ctx, q, familyID, string(model.PlanFree), customerID, at, model.StorageLimitFor(model.PlanFree))
	if err != nil {
		return fmt.Errorf("store stripe customer id for family %s: %w", familyID, err)
	}
	return nil
}
