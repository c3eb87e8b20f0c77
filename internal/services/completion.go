package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/answercache/internal/answercache"
	"github.com/yungbote/answercache/internal/contextstore"
	"github.com/yungbote/answercache/internal/fingerprint"
	"github.com/yungbote/answercache/internal/inflight"
	"github.com/yungbote/answercache/internal/observability"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/platform/logger"
	"github.com/yungbote/answercache/internal/provider"
)

type CompletionRequest struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	Query          string
}

type CompletionResult struct {
	Answer      answercache.Answer
	Cached      bool
	Fingerprint fingerprint.Fingerprint
	ComputedAt  time.Time
	Latency     time.Duration
}

type CompletionService interface {
	// Complete answers query within the conversation, reusing a cached answer
	// when the fingerprint matches and computing at most once per fingerprint
	// across all replicas otherwise.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

type AnswerCache interface {
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*answercache.CachedAnswer, bool, error)
	Put(ctx context.Context, fp fingerprint.Fingerprint, answer answercache.Answer, ttl time.Duration) (*answercache.CachedAnswer, error)
}

type Coordinator interface {
	Claim(ctx context.Context, fp fingerprint.Fingerprint) (*inflight.Ticket, error)
	Wait(ctx context.Context, fp fingerprint.Fingerprint) error
}

type CompletionOptions struct {
	Model            string
	HistoryLimit     int
	RequestBudget    time.Duration
	ComputeTimeout   time.Duration
	MaxClaimAttempts int
	CacheEnabled     bool
	Now              func() time.Time
}

type completionService struct {
	log      *logger.Logger
	store    contextstore.Store
	cache    AnswerCache
	coord    Coordinator
	provider provider.Provider

	model            string
	historyLimit     int
	budget           time.Duration
	computeTimeout   time.Duration
	maxClaimAttempts int
	cacheEnabled     bool
	now              func() time.Time
}

func NewCompletionService(
	baseLog *logger.Logger,
	store contextstore.Store,
	cache AnswerCache,
	coord Coordinator,
	prov provider.Provider,
	opts CompletionOptions,
) CompletionService {
	s := &completionService{
		log:              baseLog.With("service", "CompletionService"),
		store:            store,
		cache:            cache,
		coord:            coord,
		provider:         prov,
		model:            opts.Model,
		historyLimit:     opts.HistoryLimit,
		budget:           opts.RequestBudget,
		computeTimeout:   opts.ComputeTimeout,
		maxClaimAttempts: opts.MaxClaimAttempts,
		cacheEnabled:     opts.CacheEnabled,
		now:              opts.Now,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = contextstore.DefaultHistoryLimit
	}
	if s.budget <= 0 {
		s.budget = 60 * time.Second
	}
	if s.computeTimeout <= 0 {
		s.computeTimeout = s.budget
	}
	if s.maxClaimAttempts <= 0 {
		s.maxClaimAttempts = 3
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *completionService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "CompletionService.Complete",
		trace.WithAttributes(attribute.String("conversation_id", req.ConversationID.String())))
	defer span.End()

	if req.UserID == uuid.Nil || req.ConversationID == uuid.Nil {
		return nil, s.fail(span, fmt.Errorf("user_id and conversation_id required: %w", errs.ErrInvalidArgument))
	}
	if fingerprint.NormalizeQuery(req.Query) == "" {
		return nil, s.fail(span, fmt.Errorf("empty query: %w", errs.ErrInvalidArgument))
	}

	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	res, err := s.complete(budgetCtx, span, req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			// The caller went away; any claimant computation keeps running.
			err = ctx.Err()
		case budgetCtx.Err() != nil && !errors.Is(err, errs.ErrTimeout):
			err = fmt.Errorf("request budget %s exceeded: %w", s.budget, errs.ErrTimeout)
		}
		return nil, s.fail(span, err)
	}
	res.Latency = time.Since(start)
	span.SetAttributes(
		attribute.Bool("cached", res.Cached),
		attribute.String("fingerprint", string(res.Fingerprint)),
	)
	return res, nil
}

func (s *completionService) complete(ctx context.Context, span trace.Span, req CompletionRequest) (*CompletionResult, error) {
	var prefs *contextstore.PreferenceSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.store.FetchConversation(gctx, req.UserID, req.ConversationID)
		return err
	})
	g.Go(func() error {
		p, err := s.store.FetchPreferences(gctx, req.UserID)
		prefs = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	transition(span, "context_fetched")

	fp := fingerprint.Compute(fingerprint.Input{
		ConversationID: req.ConversationID,
		Query:          req.Query,
		Preferences:    fingerprintPrefs(prefs),
	})
	span.SetAttributes(attribute.String("fingerprint", string(fp)))
	transition(span, "key_derived")
	log := s.log.With("fingerprint", string(fp), "conversation_id", req.ConversationID.String())

	if !s.cacheEnabled {
		return s.computeInline(ctx, span, req, prefs, fp, false)
	}

	for attempt := 0; ; attempt++ {
		if hit := s.lookup(ctx, log, fp); hit != nil {
			transition(span, "cache_hit")
			return &CompletionResult{
				Answer:      hit.Answer,
				Cached:      true,
				Fingerprint: fp,
				ComputedAt:  hit.ComputedAt,
			}, nil
		}
		transition(span, "cache_miss")
		if attempt >= s.maxClaimAttempts {
			return nil, fmt.Errorf("no answer after %d claim attempts: %w", attempt, errors.Join(errs.ErrTimeout, errs.ErrClaimConflict))
		}

		transition(span, "claim_attempted")
		ticket, err := s.coord.Claim(ctx, fp)
		switch {
		case err == nil:
			transition(span, "claimed")
			return s.computeAsClaimant(ctx, span, log, ticket, req, prefs, fp)

		case errors.Is(err, errs.ErrClaimConflict):
			transition(span, "waiting")
			werr := s.coord.Wait(ctx, fp)
			switch {
			case werr == nil:
			case errors.Is(werr, inflight.ErrWaitTimeout):
				log.Warn("in-flight wait timed out; retrying claim", "attempt", attempt+1)
			case errors.Is(werr, errs.ErrCacheUnavailable):
				log.Warn("cache unavailable while waiting; computing without coordination", "error", werr)
				return s.computeInline(ctx, span, req, prefs, fp, true)
			default:
				return nil, werr
			}

		case errors.Is(err, errs.ErrCacheUnavailable):
			log.Warn("cache unavailable for claim; computing without coordination", "error", err)
			return s.computeInline(ctx, span, req, prefs, fp, true)

		default:
			return nil, err
		}
	}
}

// lookup treats an unreachable cache as a miss.
func (s *completionService) lookup(ctx context.Context, log *logger.Logger, fp fingerprint.Fingerprint) *answercache.CachedAnswer {
	hit, ok, err := s.cache.Get(ctx, fp)
	if err != nil {
		log.Warn("cache read failed; treating as miss", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return hit
}

type computeOutcome struct {
	res *CompletionResult
	err error
}

// computeAsClaimant runs the computation detached from the caller so that an
// abandoned request still fills the cache, then releases the ticket. The ticket
// is renewed while the computation runs; if it is lost anyway the answer goes
// back to the caller but is not written over the new holder's.
func (s *completionService) computeAsClaimant(
	ctx context.Context,
	span trace.Span,
	log *logger.Logger,
	ticket *inflight.Ticket,
	req CompletionRequest,
	prefs *contextstore.PreferenceSnapshot,
	fp fingerprint.Fingerprint,
) (*CompletionResult, error) {
	detached := context.WithoutCancel(ctx)
	done := make(chan computeOutcome, 1)

	go func() {
		var out computeOutcome
		stopRenew := ticket.KeepAlive(detached)
		// Release before reporting so a caller that retries sees the ticket gone.
		defer func() {
			stopRenew()
			if r := recover(); r != nil {
				log.Error("claimant computation panicked", "panic", r)
				out = computeOutcome{err: fmt.Errorf("%w: panic: %v", errs.ErrComputationFailed, r)}
			}
			outcome := inflight.OutcomeOK
			if out.err != nil {
				outcome = inflight.OutcomeFailed
			}
			if err := ticket.Release(detached, outcome); err != nil {
				log.Warn("ticket release failed; it will expire with its lease", "error", err)
			}
			done <- out
		}()

		computeCtx, cancel := context.WithTimeout(detached, s.computeTimeout)
		defer cancel()
		out.res, out.err = s.compute(computeCtx, req, prefs, fp, func(ctx context.Context) bool {
			if err := ticket.Extend(ctx); errors.Is(err, inflight.ErrTicketLost) {
				log.Warn("ticket lost before cache write; skipping write")
				return false
			}
			return true
		})
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		transition(span, "cache_written")
		return out.res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *completionService) computeInline(
	ctx context.Context,
	span trace.Span,
	req CompletionRequest,
	prefs *contextstore.PreferenceSnapshot,
	fp fingerprint.Fingerprint,
	write bool,
) (*CompletionResult, error) {
	transition(span, "computing_uncoordinated")
	computeCtx, cancel := context.WithTimeout(ctx, s.computeTimeout)
	defer cancel()
	var canWrite writeGate
	if write {
		canWrite = func(context.Context) bool { return true }
	}
	return s.compute(computeCtx, req, prefs, fp, canWrite)
}

// writeGate decides, once the answer is ready, whether it may be cached. A nil
// gate never writes.
type writeGate func(ctx context.Context) bool

// compute fetches history, calls the provider and, when canWrite allows it,
// stores the answer. Failures are never cached.
func (s *completionService) compute(
	ctx context.Context,
	req CompletionRequest,
	prefs *contextstore.PreferenceSnapshot,
	fp fingerprint.Fingerprint,
	canWrite writeGate,
) (*CompletionResult, error) {
	history, err := s.store.FetchHistory(ctx, req.ConversationID, s.historyLimit)
	if err != nil {
		return nil, err
	}

	ans, err := s.provider.Complete(ctx, provider.Request{
		Model:    s.model,
		Messages: BuildPrompt(prefs, history, req.Query),
	})
	if err != nil {
		s.log.Warn("provider call failed", "fingerprint", string(fp), "error", err)
		return nil, fmt.Errorf("%w: %w", errs.ErrComputationFailed, err)
	}
	if strings.TrimSpace(ans.Content) == "" {
		return nil, fmt.Errorf("%w: empty answer", errs.ErrComputationFailed)
	}
	answer := answercache.Answer{Content: ans.Content, Model: ans.Model}
	if answer.Model == "" {
		answer.Model = s.model
	}

	res := &CompletionResult{
		Answer:      answer,
		Fingerprint: fp,
		ComputedAt:  s.now().UTC(),
	}
	if canWrite == nil || !canWrite(ctx) {
		return res, nil
	}
	entry, err := s.cache.Put(ctx, fp, answer, 0)
	if err != nil {
		s.log.Warn("cache write failed; answer returned uncached", "fingerprint", string(fp), "error", err)
		return res, nil
	}
	res.ComputedAt = entry.ComputedAt
	return res, nil
}

func (s *completionService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if !errs.UserVisible(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Error("completion failed", "error", err)
	}
	return err
}

func transition(span trace.Span, state string) {
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", state)))
}

func fingerprintPrefs(p *contextstore.PreferenceSnapshot) fingerprint.Preferences {
	if p == nil {
		return fingerprint.Preferences{}
	}
	return fingerprint.Preferences{
		OrganizationID: p.OrganizationID,
		Locale:         p.Locale,
		Timezone:       p.Timezone,
		UnitSystem:     p.UnitSystem,
		DateFormat:     p.DateFormat,
		NumberFormat:   p.NumberFormat,
		Currency:       p.Currency,
	}
}
