package service

import "errors"

var (
	// ErrInvalidSignature rejects a webhook before any field is read.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent means a verified event carried an unreadable object.
	ErrMalformedEvent = errors.New("malformed webhook event")

	ErrNotMember        = errors.New("not a member of this family")
	ErrForbidden        = errors.New("insufficient family role")
	ErrInvalidPlan      = errors.New("invalid plan")
	ErrAlreadyOnPlan    = errors.New("family is already on this plan")
	ErrNoBillingAccount = errors.New("family has no billing account")
	ErrNoSubscription   = errors.New("family has no active subscription")
)
