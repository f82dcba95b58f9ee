package database

import (
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/lighthouse-bridge/matrix-opensim/internal/database/upgrades"
)

type Database struct {
	*dbutil.Database

	GroupBridge *GroupBridgeQuery
	SimGroups   *SimGroupQuery
}

func New(db *dbutil.Database) *Database {
	db.UpgradeTable = upgrades.Table
	return &Database{
		Database: db,

		GroupBridge: &GroupBridgeQuery{dbutil.MakeQueryHelper(db, newGroupBridge)},
		SimGroups:   &SimGroupQuery{db: db},
	}
}
