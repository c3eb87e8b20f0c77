package user

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Organization struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string         `gorm:"column:name;not null" json:"name"`
	Settings datatypes.JSON `gorm:"type:jsonb;column:settings" json:"settings,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Organization) TableName() string { return "organizations" }

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrganizationSettings is the subset of organization settings that shapes answers.
type OrganizationSettings struct {
	UnitSystem   string `json:"unit_system,omitempty"`
	Locale       string `json:"locale,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	DateFormat   string `json:"date_format,omitempty"`
	NumberFormat string `json:"number_format,omitempty"`
	Currency     string `json:"currency,omitempty"`
}

// DecodeSettings tolerates empty or null settings.
func DecodeSettings(raw []byte) (OrganizationSettings, error) {
	var s OrganizationSettings
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	err := json.Unmarshal(raw, &s)
	return s, err
}

func EncodeSettings(s OrganizationSettings) datatypes.JSON {
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}

const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"
)

type OrganizationMember struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_organization_members_org_user,priority:1" json:"organization_id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_organization_members_org_user,priority:2;index" json:"user_id"`
	Role           string    `gorm:"column:role;not null;default:'member'" json:"role"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (OrganizationMember) TableName() string { return "organization_members" }

func (m *OrganizationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
