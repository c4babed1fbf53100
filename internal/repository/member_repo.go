package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"familynest/internal/model"
)

type MemberRepository interface {
	GetMembership(ctx context.Context, familyID, userID string) (*model.Membership, error)
}

type memberRepo struct {
	db *sql.DB
}

func NewMemberRepo(db *sql.DB) MemberRepository {
	return &memberRepo{db: db}
}

func (r *memberRepo) GetMembership(ctx context.Context, familyID, userID string) (*model.Membership, error) {
	query := `SELECT family_id, user_id, role, created_at FROM family_members WHERE family_id=$1 AND user_id=$2`
	var (
		m    model.Membership
		role string
	)
	row := r.db.QueryRowContext(ctx, query, familyID, userID)
	if err := row.Scan(&m.FamilyID, &m.UserID, &role, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch membership of user %s in family %s: %w", userID, familyID, err)
	}
	m.Role = model.Role(role)
	return &m, nil
}
