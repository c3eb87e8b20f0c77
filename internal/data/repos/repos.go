package repos

import (
	"github.com/yungbote/answercache/internal/data/repos/chat"
	"github.com/yungbote/answercache/internal/data/repos/user"
	"github.com/yungbote/answercache/internal/platform/logger"
	"gorm.io/gorm"
)

type ConversationRepo = chat.ConversationRepo
type MessageRepo = chat.MessageRepo

type ProfileRepo = user.ProfileRepo
type OrganizationRepo = user.OrganizationRepo
type PreferencesRepo = user.PreferencesRepo

type Repos struct {
	Conversation ConversationRepo
	Message      MessageRepo
	Profile      ProfileRepo
	Organization OrganizationRepo
	Preferences  PreferencesRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Conversation: chat.NewConversationRepo(db, log),
		Message:      chat.NewMessageRepo(db, log),
		Profile:      user.NewProfileRepo(db, log),
		Organization: user.NewOrganizationRepo(db, log),
		Preferences:  user.NewPreferencesRepo(db, log),
	}
}
