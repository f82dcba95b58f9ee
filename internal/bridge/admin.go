package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/ptr"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/lighthouse-bridge/matrix-opensim/internal/database"
)

// EnableBridge turns on bridging for a group. The operation is idempotent:
// an already-enabled group returns its existing room, and a room left behind
// by a previous enable (found through the deterministic alias) is adopted
// instead of creating a duplicate.
func (s *Service) EnableBridge(ctx context.Context, groupID uuid.UUID, groupName string, enabledBy uuid.UUID) (id.RoomID, error) {
	existing, err := s.db.GroupBridge.GetEnabled(ctx, groupID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		s.log.Info().
			Str("group_id", groupID.String()).
			Str("room_id", existing.RoomID.String()).
			Msg("Bridge already enabled")
		return existing.RoomID, nil
	}

	aliasLocal := GroupAliasLocalpart(groupID)
	roomID, err := s.matrix.LookupRoomByAlias(ctx, aliasLocal)
	if err != nil {
		return "", err
	}
	if roomID != "" {
		s.log.Info().
			Str("group_id", groupID.String()).
			Str("room_id", roomID.String()).
			Msg("Adopting existing room for group")
	} else {
		roomID, err = s.createGroupRoom(ctx, groupID, groupName, aliasLocal, enabledBy)
		if err != nil {
			return "", err
		}
	}

	// The re-check and upsert share a transaction so two concurrent enables
	// for the same group settle on one row.
	err = s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		raced, err := s.db.GroupBridge.GetEnabled(ctx, groupID)
		if err != nil {
			return err
		}
		if raced != nil {
			roomID = raced.RoomID
			return nil
		}
		gb := s.db.GroupBridge.New()
		gb.GroupID = groupID
		gb.Enabled = true
		gb.RoomID = roomID
		gb.EnabledBy = enabledBy
		gb.EnabledAt = time.Now().UTC()
		return gb.Upsert(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store bridge state: %w", err)
	}

	s.log.Info().
		Str("group_id", groupID.String()).
		Str("room_id", roomID.String()).
		Str("enabled_by", enabledBy.String()).
		Msg("Bridge enabled for group")
	return roomID, nil
}

func (s *Service) createGroupRoom(ctx context.Context, groupID uuid.UUID, groupName, aliasLocal string, founderID uuid.UUID) (id.RoomID, error) {
	roomID, err := s.matrix.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility:    "private",
		Preset:        "private_chat",
		RoomAliasName: aliasLocal,
		Name:          "OpenSim | " + groupName,
		Topic:         fmt.Sprintf("Bridged OpenSimulator group chat\nGroup UUID: %s", groupID),
	})
	if err != nil {
		return "", err
	}

	pl := &event.PowerLevelsEventContent{
		Users: map[id.UserID]int{
			s.matrix.BotMXID(): 100,
		},
		UsersDefault:    0,
		EventsDefault:   0,
		StateDefaultPtr: ptr.Ptr(50),
		InvitePtr:       ptr.Ptr(50),
		KickPtr:         ptr.Ptr(50),
		BanPtr:          ptr.Ptr(75),
		RedactPtr:       ptr.Ptr(50),
	}

	// The founder's puppet must exist and hold owner power from the start.
	if err = s.EnsureUser(ctx, founderID); err != nil {
		return "", fmt.Errorf("failed to register founder puppet: %w", err)
	}
	founderMXID := PuppetMXID(founderID, s.matrix.Homeserver())
	pl.Users[founderMXID] = 100
	// The join itself can be repaired by the next message or resync.
	if err = s.matrix.JoinAs(ctx, roomID, founderMXID); err != nil {
		s.log.Warn().Err(err).
			Str("founder", founderMXID.String()).
			Msg("Failed to join founder puppet to new room")
	}

	if err = s.matrix.SetPowerLevelsAs(ctx, s.matrix.BotMXID(), roomID, pl); err != nil {
		return "", err
	}
	return roomID, nil
}

// ResyncGroup replays the full puppet pipeline for every current member of
// an enabled group, forcing profile and power level refreshes. Returns the
// number of members synced; per-member failures are logged and skipped.
func (s *Service) ResyncGroup(ctx context.Context, groupID uuid.UUID) (int, error) {
	gb, err := s.db.GroupBridge.GetEnabled(ctx, groupID)
	if err != nil {
		return 0, err
	}
	if gb == nil {
		return 0, ErrNotEnabled
	}

	principals, err := s.db.SimGroups.MemberPrincipalIDs(ctx, groupID)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, principal := range principals {
		avatarID, err := ParsePrincipalID(principal)
		if err != nil {
			s.log.Warn().Err(err).
				Str("group_id", groupID.String()).
				Msg("Skipping member with malformed principal ID")
			continue
		}
		name, err := s.db.SimGroups.AccountName(ctx, avatarID)
		if err != nil {
			s.log.Warn().Err(err).
				Str("avatar_id", avatarID.String()).
				Msg("Failed to look up member account name")
		}
		if name == "" {
			name = avatarID.String()
		}
		if _, err = s.syncPuppet(ctx, gb, avatarID, name, true); err != nil {
			s.log.Err(err).
				Str("avatar_id", avatarID.String()).
				Str("group_id", groupID.String()).
				Msg("Failed to resync group member")
			continue
		}
		synced++
	}

	s.log.Info().
		Str("group_id", groupID.String()).
		Int("members", len(principals)).
		Int("synced", synced).
		Msg("Group resync finished")
	return synced, nil
}

// ListBridges returns every enabled bridge, oldest first.
func (s *Service) ListBridges(ctx context.Context) ([]*database.GroupBridge, error) {
	return s.db.GroupBridge.GetAllEnabled(ctx)
}
