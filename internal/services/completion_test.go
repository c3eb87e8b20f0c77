package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/answercache/internal/answercache"
	"github.com/yungbote/answercache/internal/contextstore"
	chatrepo "github.com/yungbote/answercache/internal/data/repos/chat"
	"github.com/yungbote/answercache/internal/data/repos/testutil"
	userrepo "github.com/yungbote/answercache/internal/data/repos/user"
	types "github.com/yungbote/answercache/internal/domain"
	"github.com/yungbote/answercache/internal/inflight"
	"github.com/yungbote/answercache/internal/kv/memstore"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/provider"
)

type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	delay     time.Duration
	gate      chan struct{}
	started   chan struct{}
	lastReq   provider.Request
}

func (p *fakeProvider) Complete(ctx context.Context, req provider.Request) (provider.Answer, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	fail := n <= p.failFirst
	p.lastReq = req
	p.mu.Unlock()

	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return provider.Answer{}, ctx.Err()
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return provider.Answer{}, ctx.Err()
		}
	}
	if fail {
		return provider.Answer{}, errors.New("upstream returned 500")
	}
	q := req.Messages[len(req.Messages)-1].Content
	return provider.Answer{Content: fmt.Sprintf("answer #%d to %q", n, q), Model: "fake-1"}, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type countingStore struct {
	contextstore.Store
	history     atomic.Int32
	preferences atomic.Int32
}

func (s *countingStore) FetchHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]*types.Message, error) {
	s.history.Add(1)
	return s.Store.FetchHistory(ctx, conversationID, limit)
}

func (s *countingStore) FetchPreferences(ctx context.Context, userID uuid.UUID) (*contextstore.PreferenceSnapshot, error) {
	s.preferences.Add(1)
	return s.Store.FetchPreferences(ctx, userID)
}

type harness struct {
	svc   CompletionService
	db    *gorm.DB
	kv    *memstore.Store
	clock *memstore.ManualClock
	cache *answercache.Cache
	coord *inflight.Coordinator
	prov  *fakeProvider
	store *countingStore

	userID uuid.UUID
	convID uuid.UUID
}

type harnessConfig struct {
	completion  CompletionOptions
	waitTimeout time.Duration
}

func newHarness(t *testing.T, prov *fakeProvider, mutate ...func(*harnessConfig)) *harness {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	userID, org := testutil.SeedUserInOrg(t, ctx, db, types.OrganizationSettings{
		UnitSystem: "metric",
		Locale:     "en-GB",
		Timezone:   "Europe/London",
		Currency:   "GBP",
	})
	conv := testutil.SeedConversation(t, ctx, db, userID, &org.ID)
	testutil.SeedMessages(t, ctx, db, conv.ID, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		"how far is the moon?", "about 384,400 km")

	cfg := harnessConfig{
		completion: CompletionOptions{
			Model:            "fake-1",
			HistoryLimit:     20,
			RequestBudget:    5 * time.Second,
			ComputeTimeout:   5 * time.Second,
			MaxClaimAttempts: 3,
			CacheEnabled:     true,
		},
		waitTimeout: 5 * time.Second,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	clock := memstore.NewManualClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	kv := memstore.New(memstore.WithClock(clock.Now))
	t.Cleanup(func() { _ = kv.Close() })

	cache := answercache.New(kv, log, answercache.Options{KeyPrefix: "test:", TTL: time.Hour, Now: clock.Now})
	coord := inflight.New(kv, log, inflight.Options{
		KeyPrefix:     "test:",
		Lease:         30 * time.Second,
		WaitTimeout:   cfg.waitTimeout,
		PollInterval:  5 * time.Millisecond,
		RenewInterval: 5 * time.Millisecond,
	})
	store := &countingStore{Store: contextstore.New(log,
		chatrepo.NewConversationRepo(db, log),
		chatrepo.NewMessageRepo(db, log),
		userrepo.NewPreferencesRepo(db, log),
		contextstore.Options{InitialInterval: time.Millisecond},
	)}
	cfg.completion.Now = clock.Now

	return &harness{
		svc:    NewCompletionService(log, store, cache, coord, prov, cfg.completion),
		db:     db,
		kv:     kv,
		clock:  clock,
		cache:  cache,
		coord:  coord,
		prov:   prov,
		store:  store,
		userID: userID,
		convID: conv.ID,
	}
}

func (h *harness) req(query string) CompletionRequest {
	return CompletionRequest{UserID: h.userID, ConversationID: h.convID, Query: query}
}

func TestCompleteComputesThenServesFromCache(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	first, err := h.svc.Complete(ctx, h.req("And the sun?"))
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if first.Cached {
		t.Fatalf("first call: want cached=false")
	}
	if !first.Fingerprint.Valid() {
		t.Fatalf("fingerprint not valid: %q", first.Fingerprint)
	}

	second, err := h.svc.Complete(ctx, h.req("  and THE sun? "))
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if !second.Cached {
		t.Fatalf("second call: want cached=true")
	}
	if second.Answer != first.Answer {
		t.Fatalf("answer: want=%+v got=%+v", first.Answer, second.Answer)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatalf("fingerprint: want=%s got=%s", first.Fingerprint, second.Fingerprint)
	}
	if !second.ComputedAt.Equal(first.ComputedAt) {
		t.Fatalf("computed_at: want=%v got=%v", first.ComputedAt, second.ComputedAt)
	}
	if got := h.prov.Calls(); got != 1 {
		t.Fatalf("provider calls: want=1 got=%d", got)
	}
	if got := h.store.history.Load(); got != 1 {
		t.Fatalf("history fetches: want=1 got=%d", got)
	}
	if got := h.store.preferences.Load(); got != 2 {
		t.Fatalf("preference fetches: want=2 got=%d", got)
	}
}

func TestCompletePromptCarriesHistoryAndPreferences(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	if _, err := h.svc.Complete(context.Background(), h.req("And the sun?")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	h.prov.mu.Lock()
	req := h.prov.lastReq
	h.prov.mu.Unlock()

	if req.Model != "fake-1" {
		t.Fatalf("model: want=fake-1 got=%s", req.Model)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("messages: want=4 got=%d", len(req.Messages))
	}
	sys := req.Messages[0]
	if sys.Role != types.RoleSystem || !strings.Contains(sys.Content, "Europe/London") || !strings.Contains(sys.Content, "GBP") {
		t.Fatalf("system message: got=%+v", sys)
	}
	if req.Messages[1].Content != "how far is the moon?" || req.Messages[2].Role != types.RoleAssistant {
		t.Fatalf("history order: got=%+v", req.Messages[1:3])
	}
	if last := req.Messages[3]; last.Role != types.RoleUser || last.Content != "And the sun?" {
		t.Fatalf("query message: got=%+v", last)
	}
}

func TestCompleteConcurrentCallersShareOneComputation(t *testing.T) {
	h := newHarness(t, &fakeProvider{delay: 100 * time.Millisecond})
	ctx := context.Background()

	const n = 10
	results := make([]*CompletionResult, n)
	errsOut := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errsOut[i] = h.svc.Complete(ctx, h.req("what is the speed of light?"))
		}(i)
	}
	wg.Wait()

	computed := 0
	for i := 0; i < n; i++ {
		if errsOut[i] != nil {
			t.Fatalf("caller %d: %v", i, errsOut[i])
		}
		if results[i].Answer.Content != results[0].Answer.Content {
			t.Fatalf("caller %d: want=%q got=%q", i, results[0].Answer.Content, results[i].Answer.Content)
		}
		if !results[i].Cached {
			computed++
		}
	}
	if got := h.prov.Calls(); got != 1 {
		t.Fatalf("provider calls: want=1 got=%d", got)
	}
	if computed != 1 {
		t.Fatalf("uncached results: want=1 got=%d", computed)
	}
}

func TestCompleteRecomputesAfterTTL(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	if _, err := h.svc.Complete(ctx, h.req("q")); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	h.clock.Advance(59 * time.Minute)
	res, err := h.svc.Complete(ctx, h.req("q"))
	if err != nil || !res.Cached {
		t.Fatalf("before expiry: want cached got=%+v err=%v", res, err)
	}
	h.clock.Advance(2 * time.Minute)
	res, err = h.svc.Complete(ctx, h.req("q"))
	if err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if res.Cached {
		t.Fatalf("after expiry: want cached=false")
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}
}

func TestCompleteTakesOverExpiredTicket(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	// Learn the fingerprint, drop the entry, then hold the ticket the way a
	// crashed claimant would.
	first, err := h.svc.Complete(ctx, h.req("crash me"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := h.cache.Delete(ctx, first.Fingerprint); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.coord.Claim(ctx, first.Fingerprint); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	done := make(chan error, 1)
	var res *CompletionResult
	go func() {
		var err error
		res, err = h.svc.Complete(ctx, h.req("crash me"))
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("returned while ticket held: %v", err)
	default:
	}
	h.clock.Advance(31 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("waiter never took over the expired ticket")
	}
	if res.Cached {
		t.Fatalf("want recomputed answer")
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}
}

func TestCompleteRenewsTicketWhileComputing(t *testing.T) {
	prov := &fakeProvider{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	h := newHarness(t, prov)
	ctx := context.Background()

	type outcome struct {
		res *CompletionResult
		err error
	}
	run := func(out chan<- outcome) {
		res, err := h.svc.Complete(ctx, h.req("long answer"))
		out <- outcome{res, err}
	}

	claimant := make(chan outcome, 1)
	go run(claimant)
	select {
	case <-prov.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("provider never called")
	}

	// Outlive the 30s lease in steps the renewer can keep up with.
	for i := 0; i < 4; i++ {
		h.clock.Advance(15 * time.Second)
		time.Sleep(30 * time.Millisecond)
	}

	waiter := make(chan outcome, 1)
	go run(waiter)
	time.Sleep(50 * time.Millisecond)
	select {
	case o := <-waiter:
		t.Fatalf("second caller returned while claimant was computing: %+v", o)
	default:
	}
	close(prov.gate)

	var first, second outcome
	for _, dst := range []struct {
		ch  chan outcome
		out *outcome
	}{{claimant, &first}, {waiter, &second}} {
		select {
		case *dst.out = <-dst.ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("caller never returned")
		}
		if dst.out.err != nil {
			t.Fatalf("Complete: %v", dst.out.err)
		}
	}
	if got := prov.Calls(); got != 1 {
		t.Fatalf("provider calls: want=1 got=%d", got)
	}
	if first.res.Cached || !second.res.Cached {
		t.Fatalf("cached flags: want=false,true got=%v,%v", first.res.Cached, second.res.Cached)
	}
	if first.res.Answer != second.res.Answer {
		t.Fatalf("answers differ: %q vs %q", first.res.Answer, second.res.Answer)
	}
}

func TestCompleteFailureIsNotCached(t *testing.T) {
	h := newHarness(t, &fakeProvider{failFirst: 1})
	ctx := context.Background()

	_, err := h.svc.Complete(ctx, h.req("flaky"))
	if !errors.Is(err, errs.ErrComputationFailed) {
		t.Fatalf("first call: want=%v got=%v", errs.ErrComputationFailed, err)
	}

	res, err := h.svc.Complete(ctx, h.req("flaky"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res.Cached {
		t.Fatalf("failure must not be cached")
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}
	// The failed claimant released its ticket, so a fresh claim succeeds.
	ticket, err := h.coord.Claim(ctx, res.Fingerprint)
	if err != nil {
		t.Fatalf("Claim after release: %v", err)
	}
	_ = ticket.Release(ctx, inflight.OutcomeOK)
}

func TestCompleteContextErrors(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	lonely := uuid.New()
	testutil.SeedProfile(t, ctx, h.db, lonely, nil, "", "")
	conv := testutil.SeedConversation(t, ctx, h.db, lonely, nil)
	_, err := h.svc.Complete(ctx, CompletionRequest{UserID: lonely, ConversationID: conv.ID, Query: "hi"})
	if !errors.Is(err, errs.ErrNoActiveOrganization) {
		t.Fatalf("no org: want=%v got=%v", errs.ErrNoActiveOrganization, err)
	}

	_, err = h.svc.Complete(ctx, CompletionRequest{UserID: h.userID, ConversationID: uuid.New(), Query: "hi"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing conversation: want=%v got=%v", errs.ErrNotFound, err)
	}

	_, err = h.svc.Complete(ctx, CompletionRequest{UserID: uuid.New(), ConversationID: h.convID, Query: "hi"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("stranger: want=%v got=%v", errs.ErrNotFound, err)
	}

	if got := h.prov.Calls(); got != 0 {
		t.Fatalf("provider calls: want=0 got=%d", got)
	}
}

func TestCompleteInvalidArguments(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	cases := map[string]CompletionRequest{
		"blank query": {UserID: h.userID, ConversationID: h.convID, Query: " \t\n"},
		"nil user":    {ConversationID: h.convID, Query: "hi"},
		"nil conv":    {UserID: h.userID, Query: "hi"},
	}
	for name, req := range cases {
		if _, err := h.svc.Complete(ctx, req); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("%s: want=%v got=%v", name, errs.ErrInvalidArgument, err)
		}
	}
	if got := h.store.preferences.Load(); got != 0 {
		t.Fatalf("preference fetches: want=0 got=%d", got)
	}
}

func TestCompleteDegradesWhenCacheDown(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()
	h.kv.SetDown(true)

	for i := 0; i < 2; i++ {
		res, err := h.svc.Complete(ctx, h.req("still there?"))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Cached || res.Answer.Content == "" {
			t.Fatalf("call %d: want fresh answer got=%+v", i, res)
		}
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}

	h.kv.SetDown(false)
	res, err := h.svc.Complete(ctx, h.req("still there?"))
	if err != nil || res.Cached {
		t.Fatalf("after recovery: want computed got=%+v err=%v", res, err)
	}
}

func TestCompleteCallerCancelStillFillsCache(t *testing.T) {
	prov := &fakeProvider{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	h := newHarness(t, prov)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Complete(ctx, h.req("slow one"))
		done <- err
	}()

	select {
	case <-prov.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("provider never called")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want=%v got=%v", context.Canceled, err)
	}
	close(prov.gate)

	deadline := time.Now().Add(3 * time.Second)
	for {
		res, err := h.svc.Complete(context.Background(), h.req("slow one"))
		if err != nil {
			t.Fatalf("follow-up: %v", err)
		}
		if res.Cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("abandoned computation never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := prov.Calls(); got != 1 {
		t.Fatalf("provider calls: want=1 got=%d", got)
	}
}

func TestCompleteBudgetTimeout(t *testing.T) {
	prov := &fakeProvider{gate: make(chan struct{})}
	t.Cleanup(func() { close(prov.gate) })
	h := newHarness(t, prov, func(c *harnessConfig) {
		c.completion.RequestBudget = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := h.svc.Complete(context.Background(), h.req("never answered"))
	if !errors.Is(err, errs.ErrTimeout) {
		t.Fatalf("want=%v got=%v", errs.ErrTimeout, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("budget not enforced: took %v", elapsed)
	}
}

func TestCompleteClaimAttemptsExhausted(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, func(c *harnessConfig) {
		c.completion.MaxClaimAttempts = 1
		c.waitTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	first, err := h.svc.Complete(ctx, h.req("contested"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := h.cache.Delete(ctx, first.Fingerprint); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.coord.Claim(ctx, first.Fingerprint); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}

	_, err = h.svc.Complete(ctx, h.req("contested"))
	if !errors.Is(err, errs.ErrTimeout) || !errors.Is(err, errs.ErrClaimConflict) {
		t.Fatalf("want timeout+conflict got=%v", err)
	}
	if got := h.prov.Calls(); got != 1 {
		t.Fatalf("provider calls: want=1 got=%d", got)
	}
}

func TestCompleteCacheDisabled(t *testing.T) {
	h := newHarness(t, &fakeProvider{}, func(c *harnessConfig) {
		c.completion.CacheEnabled = false
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := h.svc.Complete(ctx, h.req("no cache"))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Cached {
			t.Fatalf("call %d: want cached=false", i)
		}
		if ok, _ := h.cache.Exists(ctx, res.Fingerprint); ok {
			t.Fatalf("call %d: cache written while disabled", i)
		}
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}
}

func TestCompletePreferenceChangeMissesCache(t *testing.T) {
	h := newHarness(t, &fakeProvider{})
	ctx := context.Background()

	first, err := h.svc.Complete(ctx, h.req("what time is it?"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := h.db.Model(&types.Profile{}).Where("user_id = ?", h.userID).Update("timezone", "Asia/Tokyo").Error; err != nil {
		t.Fatalf("update profile: %v", err)
	}
	second, err := h.svc.Complete(ctx, h.req("what time is it?"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Cached {
		t.Fatalf("preference change: want cache miss")
	}
	if second.Fingerprint == first.Fingerprint {
		t.Fatalf("fingerprint did not change with timezone")
	}
	if got := h.prov.Calls(); got != 2 {
		t.Fatalf("provider calls: want=2 got=%d", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	prefs := &contextstore.PreferenceSnapshot{OrganizationName: "Acme", Locale: "de-DE", UnitSystem: "metric"}
	history := []*types.Message{
		{Role: types.RoleUser, Content: "one"},
		{Role: types.RoleAssistant, Content: " "},
		{Role: types.RoleAssistant, Content: "two"},
	}
	got := BuildPrompt(prefs, history, "  three ")
	if len(got) != 4 {
		t.Fatalf("len: want=4 got=%d", len(got))
	}
	if !strings.Contains(got[0].Content, "Acme") || !strings.Contains(got[0].Content, "locale: de-DE") {
		t.Fatalf("system: got=%q", got[0].Content)
	}
	if strings.Contains(got[0].Content, "currency") {
		t.Fatalf("empty preference rendered: %q", got[0].Content)
	}
	if got[1].Content != "one" || got[2].Content != "two" || got[3].Content != "three" {
		t.Fatalf("order: got=%+v", got)
	}

	bare := BuildPrompt(nil, nil, "q")
	if len(bare) != 2 || bare[0].Role != types.RoleSystem {
		t.Fatalf("nil prefs: got=%+v", bare)
	}
}
