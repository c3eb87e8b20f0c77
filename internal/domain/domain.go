// Package domain re-exports the read models so callers can import a single
// package for persistence types.
package domain

import (
	"github.com/yungbote/answercache/internal/domain/chat"
	"github.com/yungbote/answercache/internal/domain/user"
)

type (
	Conversation = chat.Conversation
	Message      = chat.Message

	Profile              = user.Profile
	Organization         = user.Organization
	OrganizationSettings = user.OrganizationSettings
	OrganizationMember   = user.OrganizationMember
)

const (
	ConversationStatusActive   = chat.ConversationStatusActive
	ConversationStatusArchived = chat.ConversationStatusArchived
	ConversationStatusDeleted  = chat.ConversationStatusDeleted

	RoleUser      = chat.RoleUser
	RoleAssistant = chat.RoleAssistant
	RoleSystem    = chat.RoleSystem

	MemberRoleOwner  = user.MemberRoleOwner
	MemberRoleMember = user.MemberRoleMember
)

var (
	DecodeSettings = user.DecodeSettings
	EncodeSettings = user.EncodeSettings
)

// Models lists every table this service reads, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Organization{},
		&OrganizationMember{},
		&Profile{},
		&Conversation{},
		&Message{},
	}
}
