package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/answercache/internal/domain"
)

func SeedOrganization(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, settings types.OrganizationSettings) *types.Organization {
	tb.Helper()
	org := &types.Organization{
		ID:       uuid.New(),
		Name:     name,
		Settings: types.EncodeSettings(settings),
	}
	if err := tx.WithContext(ctx).Create(org).Error; err != nil {
		tb.Fatalf("seed organization: %v", err)
	}
	return org
}

func SeedMember(tb testing.TB, ctx context.Context, tx *gorm.DB, orgID, userID uuid.UUID) *types.OrganizationMember {
	tb.Helper()
	m := &types.OrganizationMember{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           "member",
	}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed member: %v", err)
	}
	return m
}

// SeedProfile creates a profile; activeOrg may be nil.
func SeedProfile(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, activeOrg *uuid.UUID, locale, timezone string) *types.Profile {
	tb.Helper()
	p := &types.Profile{
		UserID:               userID,
		ActiveOrganizationID: activeOrg,
		Locale:               locale,
		Timezone:             timezone,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed profile: %v", err)
	}
	return p
}

func SeedConversation(tb testing.TB, ctx context.Context, tx *gorm.DB, userID uuid.UUID, orgID *uuid.UUID) *types.Conversation {
	tb.Helper()
	c := &types.Conversation{
		UserID:         userID,
		OrganizationID: orgID,
		Type:           "chat",
		Status:         types.ConversationStatusActive,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed conversation: %v", err)
	}
	return c
}

// SeedMessages inserts contents one second apart, oldest first, alternating user/assistant.
func SeedMessages(tb testing.TB, ctx context.Context, tx *gorm.DB, conversationID uuid.UUID, start time.Time, contents ...string) []*types.Message {
	tb.Helper()
	out := make([]*types.Message, 0, len(contents))
	for i, content := range contents {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out = append(out, &types.Message{
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			CreatedAt:      start.Add(time.Duration(i) * time.Second).UTC(),
		})
	}
	if len(out) == 0 {
		return out
	}
	if err := tx.WithContext(ctx).Create(&out).Error; err != nil {
		tb.Fatalf("seed messages: %v", err)
	}
	return out
}

// SeedUserInOrg creates org + membership + profile with that org active.
func SeedUserInOrg(tb testing.TB, ctx context.Context, tx *gorm.DB, settings types.OrganizationSettings) (uuid.UUID, *types.Organization) {
	tb.Helper()
	userID := uuid.New()
	org := SeedOrganization(tb, ctx, tx, "Acme", settings)
	SeedMember(tb, ctx, tx, org.ID, userID)
	SeedProfile(tb, ctx, tx, userID, &org.ID, "", "")
	return userID, org
}
