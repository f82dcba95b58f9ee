package bridge

import (
	"context"

	"github.com/google/uuid"
)

// PowerLevel maps the avatar's selected group role onto a Matrix power
// level. Roles in the upper half of the group's power range count as
// owner/officer and get 100, everyone else 0.
func (s *Service) PowerLevel(ctx context.Context, groupID, avatarID uuid.UUID) (int, error) {
	powers, isMember, err := s.db.SimGroups.MemberRolePower(ctx, groupID, avatarID)
	if err != nil {
		return 0, err
	}
	if !isMember {
		return 0, nil
	}
	maxPowers, err := s.db.SimGroups.MaxRolePower(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if powers*2 >= maxPowers {
		return 100, nil
	}
	return 0, nil
}
