package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"

	"maunium.net/go/mautrix/id"
)

const (
	getEnabledBridgeQuery = `
		SELECT group_uuid, enabled, room_id, enabled_by, enabled_at
		FROM group_bridge_state WHERE group_uuid=$1 AND enabled=true
	`
	getBridgeByRoomQuery = `
		SELECT group_uuid, enabled, room_id, enabled_by, enabled_at
		FROM group_bridge_state WHERE room_id=$1 AND enabled=true
	`
	getAllEnabledBridgesQuery = `
		SELECT group_uuid, enabled, room_id, enabled_by, enabled_at
		FROM group_bridge_state WHERE enabled=true ORDER BY enabled_at
	`
	upsertBridgeQuery = `
		INSERT INTO group_bridge_state (group_uuid, enabled, room_id, enabled_by, enabled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_uuid) DO UPDATE
			SET enabled=excluded.enabled,
			    room_id=excluded.room_id,
			    enabled_by=excluded.enabled_by,
			    enabled_at=excluded.enabled_at
	`
)

type GroupBridgeQuery struct {
	*dbutil.QueryHelper[*GroupBridge]
}

// GroupBridge is one row of the bridge's own mapping table: which OpenSim
// group is bridged into which Matrix room, and who enabled it.
type GroupBridge struct {
	qh *dbutil.QueryHelper[*GroupBridge]

	GroupID   uuid.UUID
	Enabled   bool
	RoomID    id.RoomID
	EnabledBy uuid.UUID
	EnabledAt time.Time
}

func newGroupBridge(qh *dbutil.QueryHelper[*GroupBridge]) *GroupBridge {
	return &GroupBridge{qh: qh}
}

func (gbq *GroupBridgeQuery) GetEnabled(ctx context.Context, groupID uuid.UUID) (*GroupBridge, error) {
	return gbq.QueryOne(ctx, getEnabledBridgeQuery, groupID.String())
}

func (gbq *GroupBridgeQuery) GetByRoomID(ctx context.Context, roomID id.RoomID) (*GroupBridge, error) {
	return gbq.QueryOne(ctx, getBridgeByRoomQuery, roomID)
}

func (gbq *GroupBridgeQuery) GetAllEnabled(ctx context.Context) ([]*GroupBridge, error) {
	return gbq.QueryMany(ctx, getAllEnabledBridgesQuery)
}

func (gb *GroupBridge) Scan(row dbutil.Scannable) (*GroupBridge, error) {
	var groupID string
	var roomID, enabledBy sql.NullString
	var enabledAt sql.NullTime
	err := row.Scan(&groupID, &gb.Enabled, &roomID, &enabledBy, &enabledAt)
	if err != nil {
		return nil, err
	}
	gb.GroupID, err = uuid.Parse(groupID)
	if err != nil {
		return nil, err
	}
	if enabledBy.Valid {
		gb.EnabledBy, err = uuid.Parse(enabledBy.String)
		if err != nil {
			return nil, err
		}
	}
	gb.RoomID = id.RoomID(roomID.String)
	gb.EnabledAt = enabledAt.Time
	return gb, nil
}

func (gb *GroupBridge) sqlVariables() []any {
	return []any{gb.GroupID.String(), gb.Enabled, gb.RoomID, gb.EnabledBy.String(), gb.EnabledAt}
}

func (gb *GroupBridge) Upsert(ctx context.Context) error {
	return gb.qh.Exec(ctx, upsertBridgeQuery, gb.sqlVariables()...)
}
