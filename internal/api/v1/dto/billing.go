package dto

import "time"

// CheckoutRequestDTO selects the paid plan to purchase.
type CheckoutRequestDTO struct {
	Plan string `json:"plan" validate:"required,oneof=annual legacy"`
}

// SessionURLResponseDTO carries a hosted Stripe page to redirect the browser to.
type SessionURLResponseDTO struct {
	URL string `json:"url"`
}

// BillingResponseDTO is the family's plan as shown in settings. Stripe
// identifiers stay server-side.
type BillingResponseDTO struct {
	FamilyID          string     `json:"family_id"`
	PlanType          string     `json:"plan_type"`
	PlanStartedAt     *time.Time `json:"plan_started_at,omitempty"`
	PlanExpiresAt     *time.Time `json:"plan_expires_at,omitempty"`
	StorageLimitBytes int64      `json:"storage_limit_bytes"`
	HasSubscription   bool       `json:"has_subscription"`
	HasBillingAccount bool       `json:"has_billing_account"`
	Role              string     `json:"role,omitempty"`
}

type WebhookAckDTO struct {
	Received bool `json:"received"`
}

type ErrorResponseDTO struct {
	Error string `json:"error"`
}
