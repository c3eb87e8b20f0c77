// Package redis implements kv.Store on go-redis. The same Store serves a single
// node and a cluster; claims go through redsync so the lease semantics match the
// rest of the fleet.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/answercache/internal/config"
	"github.com/yungbote/answercache/internal/kv"
	"github.com/yungbote/answercache/internal/platform/logger"
)

const defaultOpTimeout = 500 * time.Millisecond

type Options struct {
	// OpTimeout bounds every call that does not already carry a shorter deadline.
	OpTimeout time.Duration
}

type Store struct {
	log       *logger.Logger
	rdb       goredis.UniversalClient
	rs        *redsync.Redsync
	opTimeout time.Duration
}

// New builds a Store for cfg.Mode "single" or "cluster".
func New(cfg config.RedisConfig, opts Options, log *logger.Logger) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "single":
		return NewSingleNode(cfg, opts, log)
	case "cluster":
		return NewCluster(cfg, opts, log)
	default:
		return nil, fmt.Errorf("unsupported redis mode %q", cfg.Mode)
	}
}

func NewSingleNode(cfg config.RedisConfig, opts Options, log *logger.Logger) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("missing redis address")
	}
	if len(cfg.Addrs) > 1 {
		log.Warn("single-node redis given several addresses; using the first", "addrs", strings.Join(cfg.Addrs, ","))
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addrs[0],
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout.Duration,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	})
	return newStore(rdb, opts, log.With("mode", "single"))
}

func NewCluster(cfg config.RedisConfig, opts Options, log *logger.Logger) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("missing redis cluster addresses")
	}
	if cfg.DB != 0 {
		log.Warn("ignoring non-zero redis db in cluster mode", "db", cfg.DB)
	}
	rdb := goredis.NewClusterClient(&goredis.ClusterOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout.Duration,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
	})
	return newStore(rdb, opts, log.With("mode", "cluster"))
}

// NewFromClient wraps an existing client. The caller keeps ownership of its
// configuration; Close still closes it.
func NewFromClient(rdb goredis.UniversalClient, opts Options, log *logger.Logger) (*Store, error) {
	return newStore(rdb, opts, log)
}

func newStore(rdb goredis.UniversalClient, opts Options, log *logger.Logger) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &Store{
		log:       log.With("service", "RedisStore"),
		rdb:       rdb,
		rs:        redsync.New(rsgoredis.NewPool(rdb)),
		opTimeout: opts.OpTimeout,
	}, nil
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrMiss
	}
	if err != nil {
		return nil, kv.Unavailable("get", err)
	}
	return b, nil
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return kv.Unavailable("setex", err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return kv.Unavailable("del", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, kv.Unavailable("exists", err)
	}
	return n > 0, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, kv.Unavailable("ttl", err)
	}
	// PTTL replies -2 for a missing key and -1 for a key without expiry.
	switch {
	case d == -2:
		return 0, kv.ErrMiss
	case d < 0:
		return 0, nil
	}
	return d, nil
}

// Claim takes a single-try redsync mutex on key. The lease token is the mutex value.
func (s *Store) Claim(ctx context.Context, key string, lease time.Duration) (kv.Lease, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	token := uuid.NewString()
	m := s.rs.NewMutex(key,
		redsync.WithExpiry(lease),
		redsync.WithTries(1),
		redsync.WithGenValueFunc(func() (string, error) { return token, nil }),
	)
	if err := m.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, kv.ErrTaken
		}
		return nil, kv.Unavailable("claim", err)
	}
	return &redisLease{store: s, mutex: m, key: key, token: m.Value()}, nil
}

type redisLease struct {
	store *Store
	mutex *redsync.Mutex
	key   string
	token string
}

func (l *redisLease) Key() string   { return l.key }
func (l *redisLease) Token() string { return l.token }

func (l *redisLease) Release(ctx context.Context) error {
	s := l.store
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ok, err := l.mutex.UnlockContext(ctx)
	if err == nil && ok {
		return nil
	}
	// Unlock reports expired and foreign-held keys as errors; only a key that
	// still carries our token means the release did not happen.
	cur, gerr := s.rdb.Get(ctx, l.key).Result()
	switch {
	case errors.Is(gerr, goredis.Nil):
		return nil
	case gerr != nil:
		if err == nil {
			err = gerr
		}
		return kv.Unavailable("release", err)
	case cur != l.token:
		return nil
	}
	if err == nil {
		err = errors.New("unlock not acknowledged")
	}
	return kv.Unavailable("release", err)
}

// Extend pushes the mutex expiry out by the full lease. A key that is gone or
// carries another token is reported as kv.ErrLost.
func (l *redisLease) Extend(ctx context.Context) error {
	s := l.store
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ok, err := l.mutex.ExtendContext(ctx)
	if err == nil && ok {
		return nil
	}
	cur, gerr := s.rdb.Get(ctx, l.key).Result()
	switch {
	case errors.Is(gerr, goredis.Nil):
		return kv.ErrLost
	case gerr != nil:
		if err == nil {
			err = gerr
		}
		return kv.Unavailable("extend", err)
	case cur != l.token:
		return kv.ErrLost
	}
	if err == nil {
		err = errors.New("extend not acknowledged")
	}
	return kv.Unavailable("extend", err)
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return kv.Unavailable("publish", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return kv.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

var _ kv.Store = (*Store)(nil)
