package model

import "time"

// PlanType is the billing tier a family is on.
type PlanType string

const (
	PlanFree   PlanType = "free"
	PlanAnnual PlanType = "annual"
	PlanLegacy PlanType = "legacy"
)

const gib = int64(1) << 30

// PlanLimits is the single source of truth for storage quotas. A family's
// storage_limit_bytes must always equal the entry for its plan_type.
var PlanLimits = map[PlanType]int64{
	PlanFree:   1 * gib,
	PlanAnnual: 50 * gib,
	PlanLegacy: 100 * gib,
}

// AnnualPlanDuration is how long one paid annual invoice keeps the plan active.
const AnnualPlanDuration = 365 * 24 * time.Hour

func (p PlanType) Valid() bool {
	_, ok := PlanLimits[p]
	return ok
}

// StorageLimitFor returns the quota for a plan, falling back to the free tier
// for unknown values.
func StorageLimitFor(p PlanType) int64 {
	if limit, ok := PlanLimits[p]; ok {
		return limit
	}
	return PlanLimits[PlanFree]
}

// FamilyBilling is the per-family billing record. It is written only by the
// billing service.
type FamilyBilling struct {
	FamilyID             string     `db:"family_id" json:"family_id"`
	PlanType             PlanType   `db:"plan_type" json:"plan_type"`
	PlanStartedAt        time.Time  `db:"plan_started_at" json:"plan_started_at"`
	PlanExpiresAt        *time.Time `db:"plan_expires_at" json:"plan_expires_at,omitempty"`
	StorageLimitBytes    int64      `db:"storage_limit_bytes" json:"storage_limit_bytes"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// HasSubscription reports whether the record references a recurring subscription.
func (b *FamilyBilling) HasSubscription() bool {
	return b != nil && b.StripeSubscriptionID != nil && *b.StripeSubscriptionID != ""
}

// PlanActivation describes a transition into a plan. The quota is not part of
// it; repositories derive it from PlanLimits.
type PlanActivation struct {
	FamilyID             string
	Plan                 PlanType
	StartedAt            time.Time
	ExpiresAt            *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
}
