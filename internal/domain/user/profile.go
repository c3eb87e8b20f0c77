package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Profile struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex;index:idx_user_profiles_user_active_org,priority:1" json:"user_id"`
	ActiveOrganizationID *uuid.UUID `gorm:"type:uuid;column:active_organization_id;index:idx_user_profiles_user_active_org,priority:2" json:"active_organization_id,omitempty"`

	// Empty means "inherit from the organization".
	Locale   string `gorm:"column:locale;not null;default:''" json:"locale"`
	Timezone string `gorm:"column:timezone;not null;default:''" json:"timezone"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Profile) TableName() string { return "user_profiles" }

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
