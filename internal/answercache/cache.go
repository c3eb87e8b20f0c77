// Package answercache stores computed answers by fingerprint with a TTL.
package answercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yungbote/answercache/internal/fingerprint"
	"github.com/yungbote/answercache/internal/kv"
	errs "github.com/yungbote/answercache/internal/pkg/errors"
	"github.com/yungbote/answercache/internal/platform/logger"
)

const (
	DefaultTTL       = time.Hour
	DefaultOpTimeout = 500 * time.Millisecond
)

type Answer struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

type CachedAnswer struct {
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Answer      Answer                  `json:"answer"`
	ComputedAt  time.Time               `json:"computed_at"`
	TTL         time.Duration           `json:"ttl"`
	// SchemaVersion of the key derivation that produced this entry.
	SchemaVersion string `json:"schema_version"`
}

type Options struct {
	KeyPrefix string
	TTL       time.Duration
	OpTimeout time.Duration
	Now       func() time.Time
}

type Cache struct {
	store     kv.Store
	log       *logger.Logger
	prefix    string
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

func New(store kv.Store, log *logger.Logger, opts Options) *Cache {
	c := &Cache{
		store:     store,
		log:       log.With("service", "AnswerCache"),
		prefix:    opts.KeyPrefix,
		ttl:       opts.TTL,
		opTimeout: opts.OpTimeout,
		now:       opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.opTimeout <= 0 {
		c.opTimeout = DefaultOpTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Key(fp fingerprint.Fingerprint) string {
	return c.prefix + "answer:" + string(fp)
}

// Get returns (nil, false, nil) on a miss. Only an unreachable store is an error.
func (c *Cache) Get(ctx context.Context, fp fingerprint.Fingerprint) (*CachedAnswer, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	raw, err := c.store.Get(ctx, c.Key(fp))
	if errors.Is(err, kv.ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("answer cache get: %w: %w", errs.ErrCacheUnavailable, err)
	}
	var out CachedAnswer
	if err := json.Unmarshal(raw, &out); err != nil || out.Fingerprint != fp {
		c.log.Warn("discarding undecodable cache entry", "fingerprint", string(fp), "error", err)
		return nil, false, nil
	}
	if out.SchemaVersion != fingerprint.SchemaVersion {
		c.log.Debug("ignoring cache entry from another schema version",
			"fingerprint", string(fp), "schema_version", out.SchemaVersion)
		return nil, false, nil
	}
	return &out, true, nil
}

// Put upserts the answer and resets its expiry. ttl <= 0 uses the configured TTL.
func (c *Cache) Put(ctx context.Context, fp fingerprint.Fingerprint, answer Answer, ttl time.Duration) (*CachedAnswer, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	entry := &CachedAnswer{
		Fingerprint:   fp,
		Answer:        answer,
		ComputedAt:    c.now().UTC(),
		TTL:           ttl,
		SchemaVersion: fingerprint.SchemaVersion,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.store.SetEx(ctx, c.Key(fp), raw, ttl); err != nil {
		return nil, fmt.Errorf("answer cache put: %w: %w", errs.ErrCacheUnavailable, err)
	}
	return entry, nil
}

func (c *Cache) Delete(ctx context.Context, fp fingerprint.Fingerprint) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.store.Del(ctx, c.Key(fp)); err != nil {
		return fmt.Errorf("answer cache delete: %w: %w", errs.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	ok, err := c.store.Exists(ctx, c.Key(fp))
	if err != nil {
		return false, fmt.Errorf("answer cache exists: %w: %w", errs.ErrCacheUnavailable, err)
	}
	return ok, nil
}

// TTLRemaining is informational; a miss reports (0, false, nil).
func (c *Cache) TTLRemaining(ctx context.Context, fp fingerprint.Fingerprint) (time.Duration, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	d, err := c.store.TTL(ctx, c.Key(fp))
	if errors.Is(err, kv.ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("answer cache ttl: %w: %w", errs.ErrCacheUnavailable, err)
	}
	return d, true, nil
}
