package repofake

import (
	"context"
	"sync"
	"time"

	"familynest/internal/model"
)

// BillingRepo is an in-memory BillingRepository. It counts writes so tests can
// assert that an operation mutated nothing.
type BillingRepo struct {
	mu      sync.Mutex
	records map[string]model.FamilyBilling
	Writes  int
	// Err, when set, is returned by every write.
	Err error
}

func NewBillingRepo(records ...model.FamilyBilling) *BillingRepo {
	r := &BillingRepo{records: map[string]model.FamilyBilling{}}
	for _, rec := range records {
		r.records[rec.FamilyID] = rec
	}
	return r
}

// Snapshot returns a copy of the stored record.
func (r *BillingRepo) Snapshot(familyID string) (model.FamilyBilling, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[familyID]
	return rec, ok
}

func (r *BillingRepo) find(match func(model.FamilyBilling) bool) *model.FamilyBilling {
	for _, rec := range r.records {
		if match(rec) {
			out := rec
			return &out
		}
	}
	return nil
}

func (r *BillingRepo) GetByFamilyID(_ context.Context, familyID string) (*model.FamilyBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[familyID]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (r *BillingRepo) GetBySubscriptionID(_ context.Context, subscriptionID string) (*model.FamilyBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(b model.FamilyBilling) bool {
		return b.StripeSubscriptionID != nil && *b.StripeSubscriptionID == subscriptionID
	}), nil
}

func (r *BillingRepo) GetByCustomerID(_ context.Context, customerID string) (*model.FamilyBilling, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(b model.FamilyBilling) bool {
		return b.StripeCustomerID != nil && *b.StripeCustomerID == customerID
	}), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *BillingRepo) ActivatePlan(_ context.Context, a model.PlanActivation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Writes++
	rec := r.records[a.FamilyID]
	rec.FamilyID = a.FamilyID
	rec.PlanType = a.Plan
	rec.PlanStartedAt = a.StartedAt
	rec.PlanExpiresAt = a.ExpiresAt
	rec.StorageLimitBytes = model.StorageLimitFor(a.Plan)
	if c := optional(a.StripeCustomerID); c != nil {
		rec.StripeCustomerID = c
	}
	rec.StripeSubscriptionID = optional(a.StripeSubscriptionID)
	rec.UpdatedAt = a.StartedAt
	r.records[a.FamilyID] = rec
	return nil
}

func (r *BillingRepo) Downgrade(_ context.Context, familyID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Writes++
	rec, ok := r.records[familyID]
	if !ok {
		return nil
	}
	rec.PlanType = model.PlanFree
	rec.PlanStartedAt = at
	rec.PlanExpiresAt = nil
	rec.StorageLimitBytes = model.StorageLimitFor(model.PlanFree)
	rec.StripeSubscriptionID = nil
	rec.UpdatedAt = at
	r.records[familyID] = rec
	return nil
}

func (r *BillingRepo) SetStripeCustomerID(_ context.Context, familyID, customerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Writes++
	rec, ok := r.records[familyID]
	if !ok {
		rec = model.FamilyBilling{
			FamilyID:          familyID,
			PlanType:          model.PlanFree,
			PlanStartedAt:     at,
			StorageLimitBytes: model.StorageLimitFor(model.PlanFree),
		}
	}
	rec.StripeCustomerID = optional(customerID)
	rec.UpdatedAt = at
	r.records[familyID] = rec
	return nil
}
