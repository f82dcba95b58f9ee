package bridge

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"maunium.net/go/mautrix/id"
)

// PuppetLocalpartPrefix is shared by every puppet user the bridge owns.
// The appservice registration must reserve the matching namespace.
const PuppetLocalpartPrefix = "os_"

func hexNoDash(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}

// PuppetLocalpart derives the deterministic puppet localpart for an avatar:
// "os_" followed by the 32-char undashed UUID.
func PuppetLocalpart(avatarID uuid.UUID) string {
	return PuppetLocalpartPrefix + hexNoDash(avatarID)
}

func PuppetMXID(avatarID uuid.UUID, homeserver string) id.UserID {
	return id.NewUserID(PuppetLocalpart(avatarID), homeserver)
}

// GroupAliasLocalpart derives the room alias localpart for a group:
// "os_" followed by the first 8 hex chars of the undashed UUID.
func GroupAliasLocalpart(groupID uuid.UUID) string {
	return PuppetLocalpartPrefix + hexNoDash(groupID)[:8]
}

// ParsePrincipalID parses an avatar UUID from the simulator's PrincipalID
// column. Hypergrid visitors are stored as "<uuid>;<home grid url>"; the
// suffix is stripped and the UUID part kept.
func ParsePrincipalID(principal string) (uuid.UUID, error) {
	uuidPart, _, _ := strings.Cut(principal, ";")
	parsed, err := uuid.Parse(uuidPart)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid principal ID %q: %w", principal, err)
	}
	return parsed, nil
}
