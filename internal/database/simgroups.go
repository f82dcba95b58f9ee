package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.mau.fi/util/dbutil"
)

const (
	memberRolePowerQuery = `
		SELECT r.Powers
		FROM os_groups_membership m
		JOIN os_groups_roles r
		  ON r.GroupID = m.GroupID AND r.RoleID = m.SelectedRoleID
		WHERE m.GroupID = $1 AND m.PrincipalID = $2
		LIMIT 1
	`
	maxRolePowerQuery = `
		SELECT MAX(r.Powers)
		FROM os_groups_membership m
		JOIN os_groups_roles r
		  ON r.GroupID = m.GroupID AND r.RoleID = m.SelectedRoleID
		WHERE m.GroupID = $1
	`
	memberPrincipalsQuery = `
		SELECT PrincipalID FROM os_groups_membership WHERE GroupID = $1
	`
	accountNameQuery = `
		SELECT FirstName, LastName FROM UserAccounts WHERE PrincipalID = $1
	`
)

// SimGroupQuery reads the simulator-owned group, role and account tables.
// The bridge never writes to any of them.
type SimGroupQuery struct {
	db *dbutil.Database
}

// MemberRolePower returns the power bitfield of the role the member has
// selected in the given group. The second return value is false when the
// avatar is not a member.
func (sgq *SimGroupQuery) MemberRolePower(ctx context.Context, groupID, avatarID uuid.UUID) (int64, bool, error) {
	var powers int64
	err := sgq.db.QueryRow(ctx, memberRolePowerQuery, groupID.String(), avatarID.String()).Scan(&powers)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("failed to query member role power: %w", err)
	}
	return powers, true, nil
}

// MaxRolePower returns the highest selected-role power bitfield across the
// group's members, or 1 when the group has no members with roles.
func (sgq *SimGroupQuery) MaxRolePower(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var max sql.NullInt64
	err := sgq.db.QueryRow(ctx, maxRolePowerQuery, groupID.String()).Scan(&max)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (!max.Valid || max.Int64 == 0)) {
		return 1, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to query max role power: %w", err)
	}
	return max.Int64, nil
}

// MemberPrincipalIDs returns the raw PrincipalID column for every member of
// the group. Hypergrid visitors carry a ";<url>" suffix which the caller is
// expected to strip.
func (sgq *SimGroupQuery) MemberPrincipalIDs(ctx context.Context, groupID uuid.UUID) ([]string, error) {
	rows, err := sgq.db.Query(ctx, memberPrincipalsQuery, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	return dbutil.NewRowIter(rows, func(row dbutil.Scannable) (principal string, err error) {
		err = row.Scan(&principal)
		return
	}).AsList()
}

// AccountName returns the avatar's grid name ("First Last"), or empty when
// the account is unknown to this grid.
func (sgq *SimGroupQuery) AccountName(ctx context.Context, avatarID uuid.UUID) (string, error) {
	var first, last string
	err := sgq.db.QueryRow(ctx, accountNameQuery, avatarID.String()).Scan(&first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to query user account: %w", err)
	}
	return strings.TrimSpace(first + " " + last), nil
}
