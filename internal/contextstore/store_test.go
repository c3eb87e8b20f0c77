package contextstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/answercache/internal/data/repos/chat"
	"github.com/yungbote/answercache/internal/data/repos/testutil"
	userrepo "github.com/yungbote/answercache/internal/data/repos/user"
	types "github.com/yungbote/answercache/internal/domain"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/platform/dbctx"
)

func newTestStore(t *testing.T) (Store, context.Context, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	s := New(log,
		chatrepo.NewConversationRepo(db, log),
		chatrepo.NewMessageRepo(db, log),
		userrepo.NewPreferencesRepo(db, log),
		Options{InitialInterval: time.Millisecond},
	)
	return s, context.Background(), db
}

func TestFetchHistory(t *testing.T) {
	s, ctx, db := newTestStore(t)

	conv := testutil.SeedConversation(t, ctx, db, uuid.New(), nil)
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	contents := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		contents = append(contents, string(rune('a'+i)))
	}
	testutil.SeedMessages(t, ctx, db, conv.ID, start, contents...)

	got, err := s.FetchHistory(ctx, conv.ID, 0)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("default limit: want=%d got=%d", DefaultHistoryLimit, len(got))
	}
	if got[0].Content != "f" || got[len(got)-1].Content != "y" {
		t.Fatalf("window: want=f..y got=%s..%s", got[0].Content, got[len(got)-1].Content)
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("history not ascending at %d", i)
		}
	}

	two, err := s.FetchHistory(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("FetchHistory(2): %v", err)
	}
	if len(two) != 2 || two[1].Content != "y" {
		t.Fatalf("limit 2: got=%v", two)
	}

	empty := testutil.SeedConversation(t, ctx, db, uuid.New(), nil)
	none, err := s.FetchHistory(ctx, empty.ID, 5)
	if err != nil {
		t.Fatalf("FetchHistory empty: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("empty conversation: want empty slice got=%v", none)
	}

	if _, err := s.FetchHistory(ctx, uuid.New(), 5); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing conversation: want=%v got=%v", errs.ErrNotFound, err)
	}
}

func TestFetchPreferences(t *testing.T) {
	s, ctx, db := newTestStore(t)

	org := testutil.SeedOrganization(t, ctx, db, "Acme", types.OrganizationSettings{
		UnitSystem:   "metric",
		Locale:       "de-DE",
		Timezone:     "Europe/Berlin",
		DateFormat:   "DD.MM.YYYY",
		NumberFormat: "1.234,5",
		Currency:     "EUR",
	})
	userID := uuid.New()
	testutil.SeedMember(t, ctx, db, org.ID, userID)
	testutil.SeedProfile(t, ctx, db, userID, &org.ID, "en-GB", "")

	snap, err := s.FetchPreferences(ctx, userID)
	if err != nil {
		t.Fatalf("FetchPreferences: %v", err)
	}
	if snap.OrganizationID != org.ID || snap.OrganizationName != "Acme" {
		t.Fatalf("org: got=%+v", snap)
	}
	if snap.Locale != "en-GB" {
		t.Fatalf("user locale should override org: want=en-GB got=%s", snap.Locale)
	}
	if snap.Timezone != "Europe/Berlin" {
		t.Fatalf("timezone should inherit org: want=Europe/Berlin got=%s", snap.Timezone)
	}
	if snap.UnitSystem != "metric" || snap.Currency != "EUR" || snap.DateFormat != "DD.MM.YYYY" {
		t.Fatalf("settings: got=%+v", snap)
	}
	if snap.FetchedAt.IsZero() {
		t.Fatalf("fetched_at should be set")
	}
}

func TestFetchPreferencesErrors(t *testing.T) {
	s, ctx, db := newTestStore(t)

	if _, err := s.FetchPreferences(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("no profile: want=%v got=%v", errs.ErrNotFound, err)
	}

	noOrg := uuid.New()
	testutil.SeedProfile(t, ctx, db, noOrg, nil, "", "")
	if _, err := s.FetchPreferences(ctx, noOrg); !errors.Is(err, errs.ErrNoActiveOrganization) {
		t.Fatalf("no active org: want=%v got=%v", errs.ErrNoActiveOrganization, err)
	}

	org := testutil.SeedOrganization(t, ctx, db, "Acme", types.OrganizationSettings{})
	outsider := uuid.New()
	testutil.SeedProfile(t, ctx, db, outsider, &org.ID, "", "")
	if _, err := s.FetchPreferences(ctx, outsider); !errors.Is(err, errs.ErrNoActiveOrganization) {
		t.Fatalf("not a member: want=%v got=%v", errs.ErrNoActiveOrganization, err)
	}

	gone := uuid.New()
	missingOrg := uuid.New()
	testutil.SeedProfile(t, ctx, db, gone, &missingOrg, "", "")
	if _, err := s.FetchPreferences(ctx, gone); !errors.Is(err, errs.ErrNoActiveOrganization) {
		t.Fatalf("org gone: want=%v got=%v", errs.ErrNoActiveOrganization, err)
	}
}

func TestFetchConversationVisibility(t *testing.T) {
	s, ctx, db := newTestStore(t)

	owner := uuid.New()
	conv := testutil.SeedConversation(t, ctx, db, owner, nil)

	got, err := s.FetchConversation(ctx, owner, conv.ID)
	if err != nil || got.ID != conv.ID {
		t.Fatalf("owner: want=%s got=%v err=%v", conv.ID, got, err)
	}
	if _, err := s.FetchConversation(ctx, uuid.New(), conv.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("stranger: want=%v got=%v", errs.ErrNotFound, err)
	}
	if _, err := s.FetchConversation(ctx, uuid.Nil, conv.ID); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("nil user: want=%v got=%v", errs.ErrInvalidArgument, err)
	}
}

type flakyConversations struct {
	failures int
	calls    int
	row      *types.Conversation
}

var errTransient = errors.New("connection reset")

func (f *flakyConversations) Create(dbctx.Context, []*types.Conversation) ([]*types.Conversation, error) {
	return nil, nil
}
func (f *flakyConversations) GetByID(dbctx.Context, uuid.UUID) (*types.Conversation, error) {
	return f.row, nil
}
func (f *flakyConversations) GetVisible(dbctx.Context, uuid.UUID, uuid.UUID) (*types.Conversation, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errTransient
	}
	return f.row, nil
}
func (f *flakyConversations) Exists(dbctx.Context, uuid.UUID) (bool, error) {
	return f.row != nil, nil
}

func TestFetchConversationRetriesTransient(t *testing.T) {
	log := testutil.Logger(t)
	row := &types.Conversation{ID: uuid.New(), UserID: uuid.New()}
	fake := &flakyConversations{failures: 2, row: row}
	s := New(log, fake, nil, nil, Options{InitialInterval: time.Millisecond})

	got, err := s.FetchConversation(context.Background(), row.UserID, row.ID)
	if err != nil {
		t.Fatalf("FetchConversation: %v", err)
	}
	if got.ID != row.ID {
		t.Fatalf("id: want=%s got=%s", row.ID, got.ID)
	}
	if fake.calls != 3 {
		t.Fatalf("calls: want=3 got=%d", fake.calls)
	}
}

func TestFetchConversationGivesUpAfterMaxTries(t *testing.T) {
	log := testutil.Logger(t)
	fake := &flakyConversations{failures: 10, row: &types.Conversation{ID: uuid.New()}}
	s := New(log, fake, nil, nil, Options{InitialInterval: time.Millisecond})

	_, err := s.FetchConversation(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, errTransient) {
		t.Fatalf("want transient error got=%v", err)
	}
	if fake.calls != defaultMaxTries {
		t.Fatalf("calls: want=%d got=%d", defaultMaxTries, fake.calls)
	}
}

func TestFetchConversationNotFoundIsPermanent(t *testing.T) {
	log := testutil.Logger(t)
	fake := &flakyConversations{}
	s := New(log, fake, nil, nil, Options{InitialInterval: time.Millisecond})

	_, err := s.FetchConversation(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want=%v got=%v", errs.ErrNotFound, err)
	}
	if fake.calls != 1 {
		t.Fatalf("not found must not retry: calls=%d", fake.calls)
	}
}
