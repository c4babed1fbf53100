package middleware

import (
	"context"
	"errors"
	"net/http"

	"familynest/internal/model"
	"familynest/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const membershipContextKey = contextKey("membership")

// RoleChecker resolves a caller's membership in a family. service.FamilyService
// satisfies it.
type RoleChecker interface {
	RequireRole(ctx context.Context, familyID, userID string, min model.Role) (*model.Membership, error)
}

// FamilyMembership returns the membership RequireFamilyRole stored on the context.
func FamilyMembership(ctx context.Context) (*model.Membership, bool) {
	m, ok := ctx.Value(membershipContextKey).(*model.Membership)
	return m, ok && m != nil
}

// RequireFamilyRole admits callers whose role in the {familyID} path family is
// at least min. It must run after RequireUser.
func RequireFamilyRole(checker RoleChecker, min model.Role, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			familyID := r.PathValue("familyID")
			if _, err := uuid.Parse(familyID); err != nil {
				http.Error(w, "invalid family id", http.StatusBadRequest)
				return
			}
			userID, ok := UserID(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			m, err := checker.RequireRole(r.Context(), familyID, userID, min)
			switch {
			case errors.Is(err, service.ErrNotMember), errors.Is(err, service.ErrForbidden):
				logger.Debug().Str("family_id", familyID).Str("user_id", userID).Str("required_role", string(min)).Msg("Family access denied")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			case err != nil:
				logger.Error().Err(err).Str("family_id", familyID).Msg("Failed to check family role")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), membershipContextKey, m)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
