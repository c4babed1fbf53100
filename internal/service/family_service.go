package service

import (
	"context"

	"familynest/internal/model"
	"familynest/internal/repository"

	"github.com/rs/zerolog"
)

type FamilyService struct {
	members repository.MemberRepository
	billing repository.BillingRepository
	logger  zerolog.Logger
}

func NewFamilyService(members repository.MemberRepository, billing repository.BillingRepository, logger zerolog.Logger) *FamilyService {
	return &FamilyService{
		members: members,
		billing: billing,
		logger:  logger.With().Str("service", "FamilyService").Logger(),
	}
}

// RequireRole returns the caller's membership if it grants at least min.
func (s *FamilyService) RequireRole(ctx context.Context, familyID, userID string, min model.Role) (*model.Membership, error) {
	m, err := s.members.GetMembership(ctx, familyID, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Str("user_id", userID).Msg("Failed to load membership")
		return nil, err
	}
	if m == nil {
		return nil, ErrNotMember
	}
	if !m.Role.AtLeast(min) {
		return nil, ErrForbidden
	}
	return m, nil
}

// Billing returns the family's billing record. Families that never touched
// billing have no row and are reported as free.
func (s *FamilyService) Billing(ctx context.Context, familyID string) (*model.FamilyBilling, error) {
	rec, err := s.billing.GetByFamilyID(ctx, familyID)
	if err != nil {
		s.logger.Error().Err(err).Str("family_id", familyID).Msg("Failed to load billing record")
		return nil, err
	}
	if rec == nil {
		return &model.FamilyBilling{
			FamilyID:          familyID,
			PlanType:          model.PlanFree,
			StorageLimitBytes: model.StorageLimitFor(model.PlanFree),
		}, nil
	}
	return rec, nil
}
