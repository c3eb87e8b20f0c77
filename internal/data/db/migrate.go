package db

import (
	"fmt"

	types "github.com/yungbote/answercache/internal/domain"
	"gorm.io/gorm"
)

// AutoMigrateAll creates the read models. Production schemas are owned by the
// writer service; this exists for development and tests.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return err
	}
	return EnsureReadIndexes(db)
}

// EnsureReadIndexes re-asserts the composite indexes the read paths depend on,
// for schemas that were created without the gorm tags.
func EnsureReadIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{
			name: "idx_messages_conversation_created",
			sql:  `CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);`,
		},
		{
			name: "idx_user_profiles_user_active_org",
			sql:  `CREATE INDEX IF NOT EXISTS idx_user_profiles_user_active_org ON user_profiles (user_id, active_organization_id);`,
		},
	}
	for _, s := range stmts {
		if err := db.Exec(s.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	return nil
}
