package user

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/answercache/internal/platform/dbctx"
	"github.com/yungbote/answercache/internal/platform/logger"
)

// PreferenceRow is the flattened profile -> active organization -> membership
// join. OrganizationID is nil when the active organization is unset or gone.
type PreferenceRow struct {
	UserID               uuid.UUID      `gorm:"column:user_id"`
	ActiveOrganizationID *uuid.UUID     `gorm:"column:active_organization_id"`
	UserLocale           string         `gorm:"column:user_locale"`
	UserTimezone         string         `gorm:"column:user_timezone"`
	OrganizationID       *uuid.UUID     `gorm:"column:organization_id"`
	OrganizationName     string         `gorm:"column:organization_name"`
	Settings             datatypes.JSON `gorm:"column:settings"`
	MemberRole           string         `gorm:"column:member_role"`
	IsMember             int            `gorm:"column:is_member"`
}

type PreferencesRepo interface {
	// Resolve returns (nil, nil) when the user has no profile.
	Resolve(dbc dbctx.Context, userID uuid.UUID) (*PreferenceRow, error)
}

type preferencesRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPreferencesRepo(db *gorm.DB, log *logger.Logger) PreferencesRepo {
	return &preferencesRepo{db: db, log: log.With("repo", "PreferencesRepo")}
}

// settings is COALESCEd because a NULL jsonb column does not scan into datatypes.JSON.
const resolvePreferencesSQL = `
SELECT
	p.user_id AS user_id,
	p.active_organization_id AS active_organization_id,
	p.locale AS user_locale,
	p.timezone AS user_timezone,
	o.id AS organization_id,
	COALESCE(o.name, '') AS organization_name,
	COALESCE(o.settings, '{}') AS settings,
	COALESCE(m.role, '') AS member_role,
	CASE WHEN m.user_id IS NULL THEN 0 ELSE 1 END AS is_member
FROM user_profiles p
LEFT JOIN organizations o
	ON o.id = p.active_organization_id AND o.deleted_at IS NULL
LEFT JOIN organization_members m
	ON m.organization_id = p.active_organization_id AND m.user_id = p.user_id
WHERE p.user_id = ?
LIMIT 1`

func (r *preferencesRepo) Resolve(dbc dbctx.Context, userID uuid.UUID) (*PreferenceRow, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user_id")
	}
	var rows []PreferenceRow
	if err := dbc.DB(r.db).Raw(resolvePreferencesSQL, userID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
