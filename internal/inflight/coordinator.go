// Package inflight makes sure at most one worker computes the answer for a
// fingerprint at a time. The claimant holds a leased ticket in the KV store;
// everyone else waits for the ticket to disappear and then re-reads the cache.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yungbote/answercache/internal/fingerprint"
	"github.com/yungbote/answercache/internal/kv"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/platform/logger"
)

const (
	DefaultLease        = 60 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrWaitTimeout means the ticket was still held when the wait budget ran out.
	ErrWaitTimeout = errors.New("inflight: wait timeout")
	// ErrTicketLost means the ticket expired or was taken over before it was renewed.
	ErrTicketLost = errors.New("inflight: ticket lost")
)

type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

type Options struct {
	KeyPrefix    string
	Lease        time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// RenewInterval is how often KeepAlive extends a held ticket. Defaults to Lease/3.
	RenewInterval time.Duration
}

type Coordinator struct {
	store        kv.Store
	log          *logger.Logger
	prefix       string
	lease        time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	renewEvery   time.Duration
}

func New(store kv.Store, log *logger.Logger, opts Options) *Coordinator {
	c := &Coordinator{
		store:        store,
		log:          log.With("service", "InflightCoordinator"),
		prefix:       opts.KeyPrefix,
		lease:        opts.Lease,
		waitTimeout:  opts.WaitTimeout,
		pollInterval: opts.PollInterval,
		renewEvery:   opts.RenewInterval,
	}
	if c.lease <= 0 {
		c.lease = DefaultLease
	}
	if c.waitTimeout <= 0 {
		c.waitTimeout = c.lease
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.renewEvery <= 0 || c.renewEvery >= c.lease {
		c.renewEvery = c.lease / 3
	}
	return c
}

func (c *Coordinator) Lease() time.Duration { return c.lease }

func (c *Coordinator) ticketKey(fp fingerprint.Fingerprint) string {
	return c.prefix + "inflight:" + string(fp)
}

func (c *Coordinator) doneChannel(fp fingerprint.Fingerprint) string {
	return c.prefix + "inflight:done:" + string(fp)
}

// Claim atomically creates the ticket for fp. It fails with ErrClaimConflict
// when another worker holds it and ErrCacheUnavailable when the store is down.
func (c *Coordinator) Claim(ctx context.Context, fp fingerprint.Fingerprint) (*Ticket, error) {
	lease, err := c.store.Claim(ctx, c.ticketKey(fp), c.lease)
	switch {
	case err == nil:
		return &Ticket{coord: c, fp: fp, lease: lease}, nil
	case errors.Is(err, kv.ErrTaken):
		return nil, errs.ErrClaimConflict
	default:
		return nil, fmt.Errorf("claim %s: %w: %w", fp, errs.ErrCacheUnavailable, err)
	}
}

// Ticket is a held claim. Release it exactly once the outcome is known; an
// unreleased ticket expires with its lease.
type Ticket struct {
	coord *Coordinator
	fp    fingerprint.Fingerprint
	lease kv.Lease

	mu       sync.Mutex
	released bool
	lost     atomic.Bool
}

func (t *Ticket) Fingerprint() fingerprint.Fingerprint { return t.fp }

// Release deletes the ticket if it is still ours and announces the outcome.
// Calling it again is a no-op.
func (t *Ticket) Release(ctx context.Context, outcome Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	c := t.coord
	if err := t.lease.Release(ctx); err != nil {
		return fmt.Errorf("release %s: %w: %w", t.fp, errs.ErrCacheUnavailable, err)
	}
	t.released = true

	// Waiters also poll, so a lost notification only costs latency.
	if err := c.store.Publish(ctx, c.doneChannel(t.fp), string(outcome)); err != nil {
		c.log.Warn("release notification not published", "fingerprint", string(t.fp), "error", err)
	}
	return nil
}

// Extend renews the ticket for another full lease. It returns ErrTicketLost once
// the ticket is released, expired or held by someone else.
func (t *Ticket) Extend(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released || t.lost.Load() {
		return ErrTicketLost
	}
	err := t.lease.Extend(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrLost):
		t.lost.Store(true)
		return ErrTicketLost
	default:
		return fmt.Errorf("extend %s: %w: %w", t.fp, errs.ErrCacheUnavailable, err)
	}
}

// Lost reports whether a renewal found the ticket gone.
func (t *Ticket) Lost() bool { return t.lost.Load() }

// KeepAlive renews the ticket every RenewInterval until stop is called or the
// ticket is lost. A renewal that fails because the store is unreachable is
// retried on the next tick. stop blocks until the renewer has exited.
func (t *Ticket) KeepAlive(ctx context.Context) (stop func()) {
	c := t.coord
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.renewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := t.Extend(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrTicketLost):
				if ctx.Err() == nil {
					c.log.Warn("in-flight ticket lost while computing", "fingerprint", string(t.fp))
				}
				return
			default:
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("in-flight ticket renewal failed; retrying", "fingerprint", string(t.fp), "error", err)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Wait blocks until no ticket exists for fp. It returns nil once the ticket is
// gone (released or expired), ErrWaitTimeout when the wait budget runs out, or
// ctx.Err() when the caller gives up first.
func (c *Coordinator) Wait(ctx context.Context, fp fingerprint.Fingerprint) error {
	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	var msgs <-chan string
	sub, err := c.store.Subscribe(waitCtx, c.doneChannel(fp))
	if err != nil {
		c.log.Debug("release subscription unavailable; polling only", "fingerprint", string(fp), "error", err)
	} else {
		defer sub.Close()
		msgs = sub.Messages()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	key := c.ticketKey(fp)
	for {
		held, err := c.store.Exists(waitCtx, key)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if waitCtx.Err() != nil {
				return ErrWaitTimeout
			}
			return fmt.Errorf("wait %s: %w: %w", fp, errs.ErrCacheUnavailable, err)
		}
		if !held {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return ErrWaitTimeout
		case _, ok := <-msgs:
			if !ok {
				msgs = nil
			}
		case <-ticker.C:
		}
	}
}
