package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"maunium.net/go/mautrix/id"

	"github.com/lighthouse-bridge/matrix-opensim/internal/database"
)

// Display names on the homeserver are capped at 64 code points.
const displayNameMaxLen = 64

// EnsureUser registers the puppet user for the avatar. Safe to call for
// puppets that already exist.
func (s *Service) EnsureUser(ctx context.Context, avatarID uuid.UUID) error {
	return s.matrix.RegisterPuppet(ctx, PuppetLocalpart(avatarID))
}

// EnsureDisplayName sets the puppet's display name. Empty or whitespace-only
// names are ignored. Without force, the current profile is checked first and
// an equal name is left alone.
func (s *Service) EnsureDisplayName(ctx context.Context, puppetMXID id.UserID, desired string, force bool) error {
	desired = strings.TrimSpace(desired)
	if desired == "" {
		return nil
	}
	if runes := []rune(desired); len(runes) > displayNameMaxLen {
		desired = string(runes[:displayNameMaxLen])
	}

	if !force {
		profile, err := s.matrix.GetProfileAs(ctx, puppetMXID)
		if err == nil && profile.DisplayName == desired {
			return nil
		}
	}
	return s.matrix.SetDisplayNameAs(ctx, puppetMXID, desired)
}

// EnsureAvatar copies the avatar's profile picture from the grid onto the
// puppet. Everything in this path is best-effort: a missing picture is never
// worth failing a message relay over.
func (s *Service) EnsureAvatar(ctx context.Context, puppetMXID id.UserID, avatarID uuid.UUID, force bool) {
	if s.cfg.Avatar.BaseURL == "" {
		return
	}

	if !force {
		profile, err := s.matrix.GetProfileAs(ctx, puppetMXID)
		if err == nil && !profile.AvatarURL.IsEmpty() {
			return
		}
	}

	data, err := s.fetchAvatarImage(ctx, avatarID)
	if err != nil {
		s.log.Debug().Err(err).
			Str("avatar_id", avatarID.String()).
			Msg("Failed to fetch profile picture")
		return
	}

	contentType := "image/png"
	if mime := mimetype.Detect(data); strings.HasPrefix(mime.String(), "image/") {
		contentType = mime.String()
	}
	mxc, err := s.matrix.UploadMediaAs(ctx, puppetMXID, data, contentType)
	if err != nil {
		s.log.Warn().Err(err).
			Str("puppet", puppetMXID.String()).
			Msg("Failed to upload profile picture")
		return
	}
	if err = s.matrix.SetAvatarURLAs(ctx, puppetMXID, mxc); err != nil {
		s.log.Warn().Err(err).
			Str("puppet", puppetMXID.String()).
			Msg("Failed to set puppet avatar")
	}
}

func (s *Service) fetchAvatarImage(ctx context.Context, avatarID uuid.UUID) ([]byte, error) {
	url := strings.ReplaceAll(s.cfg.Avatar.BaseURL, "{uuid}", avatarID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.avatarHTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from picture endpoint", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// EnsureJoined invites the puppet as the bot, then joins as the puppet.
// Repeat invites and joins are not errors.
func (s *Service) EnsureJoined(ctx context.Context, roomID id.RoomID, puppetMXID id.UserID) error {
	if err := s.matrix.Invite(ctx, roomID, puppetMXID); err != nil {
		// Already invited or already in the room; join decides.
		s.log.Debug().Err(err).
			Str("puppet", puppetMXID.String()).
			Msg("Puppet invite not accepted")
	}
	return s.matrix.JoinAs(ctx, roomID, puppetMXID)
}

// SyncPowerLevel mirrors the avatar's group role onto the puppet's power
// level. Only the bot has the authority to mutate power levels, so the state
// event is always sent as the bot.
func (s *Service) SyncPowerLevel(ctx context.Context, roomID id.RoomID, puppetMXID id.UserID, groupID, avatarID uuid.UUID, force bool) error {
	desired, err := s.PowerLevel(ctx, groupID, avatarID)
	if err != nil {
		return err
	}

	pl, err := s.matrix.GetPowerLevels(ctx, roomID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("room_id", roomID.String()).
			Msg("Failed to read room power levels, skipping sync")
		return nil
	}
	if !force && pl.GetUserLevel(puppetMXID) == desired {
		return nil
	}
	pl.SetUserLevel(puppetMXID, desired)
	return s.matrix.SetPowerLevelsAs(ctx, s.matrix.BotMXID(), roomID, pl)
}

// syncPuppet runs the full per-avatar pipeline against a bridged room:
// register, name, picture, membership, power level. Registration and
// membership failures abort; profile steps are best-effort.
func (s *Service) syncPuppet(ctx context.Context, gb *database.GroupBridge, avatarID uuid.UUID, displayName string, force bool) (id.UserID, error) {
	if err := s.EnsureUser(ctx, avatarID); err != nil {
		return "", err
	}
	puppetMXID := PuppetMXID(avatarID, s.matrix.Homeserver())

	if err := s.EnsureDisplayName(ctx, puppetMXID, displayName, force); err != nil {
		s.log.Warn().Err(err).
			Str("puppet", puppetMXID.String()).
			Msg("Failed to sync puppet display name")
	}
	s.EnsureAvatar(ctx, puppetMXID, avatarID, force)

	if err := s.EnsureJoined(ctx, gb.RoomID, puppetMXID); err != nil {
		return "", err
	}
	if err := s.SyncPowerLevel(ctx, gb.RoomID, puppetMXID, gb.GroupID, avatarID, force); err != nil {
		s.log.Warn().Err(err).
			Str("puppet", puppetMXID.String()).
			Msg("Failed to sync puppet power level")
	}
	return puppetMXID, nil
}
