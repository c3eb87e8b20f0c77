package chat

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/answercache/internal/domain"
	"github.com/yungbote/answercache/internal/platform/dbctx"
	"github.com/yungbote/answercache/internal/platform/logger"
)

type ConversationRepo interface {
	Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error)
	// GetVisible returns the conversation if userID owns it or belongs to its
	// organization. Missing, deleted and invisible rows all return (nil, nil).
	GetVisible(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error)
	Exists(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type conversationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConversationRepo(db *gorm.DB, log *logger.Logger) ConversationRepo {
	return &conversationRepo{db: db, log: log.With("repo", "ConversationRepo")}
}

func (r *conversationRepo) Create(dbc dbctx.Context, rows []*types.Conversation) ([]*types.Conversation, error) {
	if len(rows) == 0 {
		return []*types.Conversation{}, nil
	}
	if err := dbc.DB(r.db).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *conversationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var row types.Conversation
	err := dbc.DB(r.db).
		Model(&types.Conversation{}).
		Where("id = ? AND status <> ?", id, types.ConversationStatusDeleted).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *conversationRepo) GetVisible(dbc dbctx.Context, userID, id uuid.UUID) (*types.Conversation, error) {
	if id == uuid.Nil || userID == uuid.Nil {
		return nil, fmt.Errorf("missing id")
	}
	var row types.Conversation
	err := dbc.DB(r.db).
		Model(&types.Conversation{}).
		Where("conversations.id = ? AND conversations.status <> ?", id, types.ConversationStatusDeleted).
		Where(
			"(conversations.user_id = ? OR EXISTS (SELECT 1 FROM organization_members m WHERE m.organization_id = conversations.organization_id AND m.user_id = ?))",
			userID, userID,
		).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *conversationRepo) Exists(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	var n int64
	if err := dbc.DB(r.db).
		Model(&types.Conversation{}).
		Where("id = ? AND status <> ?", id, types.ConversationStatusDeleted).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
