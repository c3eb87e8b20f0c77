package user

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/answercache/internal/domain"
	"github.com/yungbote/answercache/internal/platform/dbctx"
	"github.com/yungbote/answercache/internal/platform/logger"
)

type OrganizationRepo interface {
	Create(dbc dbctx.Context, rows []*types.Organization) ([]*types.Organization, error)
	AddMembers(dbc dbctx.Context, rows []*types.OrganizationMember) ([]*types.OrganizationMember, error)
	IsMember(dbc dbctx.Context, orgID, userID uuid.UUID) (bool, error)
}

type organizationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrganizationRepo(db *gorm.DB, log *logger.Logger) OrganizationRepo {
	return &organizationRepo{db: db, log: log.With("repo", "OrganizationRepo")}
}

func (r *organizationRepo) Create(dbc dbctx.Context, rows []*types.Organization) ([]*types.Organization, error) {
	if len(rows) == 0 {
		return []*types.Organization{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *organizationRepo) AddMembers(dbc dbctx.Context, rows []*types.OrganizationMember) ([]*types.OrganizationMember, error) {
	if len(rows) == 0 {
		return []*types.OrganizationMember{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *organizationRepo) IsMember(dbc dbctx.Context, orgID, userID uuid.UUID) (bool, error) {
	if orgID == uuid.Nil || userID == uuid.Nil {
		return false, nil
	}
	var n int64
	if err := dbc.DB(r.db).
		Model(&types.OrganizationMember{}).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
