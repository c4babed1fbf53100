package repofake

import (
	"context"
	"errors"

	"familynest/internal/model"
)

var ErrMemberRepoDown = errors.New("member repository unavailable")

// MemberRepo is an in-memory MemberRepository keyed by family then user.
type MemberRepo struct {
	Members map[string]map[string]model.Role
	Fail    bool
}

func NewMemberRepo() *MemberRepo {
	return &MemberRepo{Members: map[string]map[string]model.Role{}}
}

func (r *MemberRepo) Add(familyID, userID string, role model.Role) *MemberRepo {
	if r.Members[familyID] == nil {
		r.Members[familyID] = map[string]model.Role{}
	}
	r.Members[familyID][userID] = role
	return r
}

func (r *MemberRepo) GetMembership(_ context.Context, familyID, userID string) (*model.Membership, error) {
	if r.Fail {
		return nil, ErrMemberRepoDown
	}
	role, ok := r.Members[familyID][userID]
	if !ok {
		return nil, nil
	}
	return &model.Membership{FamilyID: familyID, UserID: userID, Role: role}, nil
}
