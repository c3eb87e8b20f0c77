package contextstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/yungbote/answercache/internal/data/repos"
	types "github.com/yungbote/answercache/internal/domain"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/platform/dbctx"
	"github.com/yungbote/answercache/internal/platform/logger"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200

	defaultMaxTries        = 3
	defaultInitialInterval = 50 * time.Millisecond
)

// Store is the read-only view of conversations and preferences the completion
// path needs. Implementations never write and never cache.
type Store interface {
	FetchConversation(ctx context.Context, userID, conversationID uuid.UUID) (*types.Conversation, error)
	FetchHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error)
	FetchPreferences(ctx context.Context, userID uuid.UUID) (*PreferenceSnapshot, error)
}

type Options struct {
	HistoryLimit    int
	MaxTries        uint
	InitialInterval time.Duration
	Now             func() time.Time
}

type store struct {
	conversations repos.ConversationRepo
	messages      repos.MessageRepo
	preferences   repos.PreferencesRepo
	log           *logger.Logger

	historyLimit    int
	maxTries        uint
	initialInterval time.Duration
	now             func() time.Time
}

func New(log *logger.Logger, conversations repos.ConversationRepo, messages repos.MessageRepo, preferences repos.PreferencesRepo, opts Options) Store {
	s := &store{
		conversations:   conversations,
		messages:        messages,
		preferences:     preferences,
		log:             log.With("service", "ContextStore"),
		historyLimit:    opts.HistoryLimit,
		maxTries:        opts.MaxTries,
		initialInterval: opts.InitialInterval,
		now:             opts.Now,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	if s.historyLimit > MaxHistoryLimit {
		s.historyLimit = MaxHistoryLimit
	}
	if s.maxTries == 0 {
		s.maxTries = defaultMaxTries
	}
	if s.initialInterval <= 0 {
		s.initialInterval = defaultInitialInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *store) FetchConversation(ctx context.Context, userID, conversationID uuid.UUID) (*types.Conversation, error) {
	if userID == uuid.Nil || conversationID == uuid.Nil {
		return nil, fmt.Errorf("fetch conversation: %w", errs.ErrInvalidArgument)
	}
	return retry(ctx, s, "fetch_conversation", func() (*types.Conversation, error) {
		row, err := s.conversations.GetVisible(dbctx.Context{Ctx: ctx}, userID, conversationID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, backoff.Permanent(fmt.Errorf("conversation %s: %w", conversationID, errs.ErrNotFound))
		}
		return row, nil
	})
}

func (s *store) FetchHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error) {
	if conversationID == uuid.Nil {
		return nil, fmt.Errorf("fetch history: %w", errs.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return retry(ctx, s, "fetch_history", func() ([]*types.Message, error) {
		dbc := dbctx.Context{Ctx: ctx}
		ok, err := s.conversations.Exists(dbc, conversationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, backoff.Permanent(fmt.Errorf("conversation %s: %w", conversationID, errs.ErrNotFound))
		}
		msgs, err := s.messages.ListRecent(dbc, conversationID, limit)
		if err != nil {
			return nil, err
		}
		if msgs == nil {
			msgs = []*types.Message{}
		}
		return msgs, nil
	})
}

func (s *store) FetchPreferences(ctx context.Context, userID uuid.UUID) (*PreferenceSnapshot, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("fetch preferences: %w", errs.ErrInvalidArgument)
	}
	return retry(ctx, s, "fetch_preferences", func() (*PreferenceSnapshot, error) {
		row, err := s.preferences.Resolve(dbctx.Context{Ctx: ctx}, userID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, backoff.Permanent(fmt.Errorf("user profile: %w", errs.ErrNotFound))
		}
		if row.ActiveOrganizationID == nil || row.OrganizationID == nil || row.IsMember == 0 {
			return nil, backoff.Permanent(errs.ErrNoActiveOrganization)
		}
		settings, err := types.DecodeSettings(row.Settings)
		if err != nil {
			// Unreadable settings are a data problem, not a transient one.
			s.log.Warn("organization settings undecodable; using empty settings",
				"organization_id", row.OrganizationID.String(), "error", err)
			settings = types.OrganizationSettings{}
		}
		return &PreferenceSnapshot{
			UserID:           row.UserID,
			OrganizationID:   *row.OrganizationID,
			OrganizationName: row.OrganizationName,
			Locale:           firstNonEmpty(strings.TrimSpace(row.UserLocale), strings.TrimSpace(settings.Locale)),
			Timezone:         firstNonEmpty(strings.TrimSpace(row.UserTimezone), strings.TrimSpace(settings.Timezone)),
			UnitSystem:       strings.TrimSpace(settings.UnitSystem),
			DateFormat:       strings.TrimSpace(settings.DateFormat),
			NumberFormat:     strings.TrimSpace(settings.NumberFormat),
			Currency:         strings.TrimSpace(settings.Currency),
			FetchedAt:        s.now().UTC(),
		}, nil
	})
}

// retry runs op with exponential backoff. Context errors and the not-found
// family are permanent.
func retry[T any](ctx context.Context, s *store, op string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialInterval

	attempt := 0
	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("context store read failed; retrying",
				"op", op, "attempt", attempt, "next_in", next.String(), "error", err)
		}),
	)
	if err != nil {
		var zero T
		if errs.UserVisible(err) || ctx.Err() != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
