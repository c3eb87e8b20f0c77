// Package memstore is an in-process kv.Store. It backs single-replica
// development mode and tests that need a controllable clock.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/answercache/internal/kv"
)

type entry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	data   map[string]entry
	subs   map[string]map[*subscription]struct{}
	closed bool

	// down simulates a backend outage; every call fails with kv.ErrUnavailable.
	down bool
}

type Option func(*Store)

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:  time.Now,
		data: make(map[string]entry),
		subs: make(map[string]map[*subscription]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetDown toggles simulated unavailability.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return kv.Unavailable(op, err)
	}
	if s.closed {
		return kv.Unavailable(op, errClosed)
	}
	if s.down {
		return kv.Unavailable(op, errDown)
	}
	return nil
}

// lookup must be called with mu held; it drops the entry if expired.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "get"); err != nil {
		return nil, err
	}
	e, ok := s.lookup(key)
	if !ok {
		return nil, kv.ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "setex"); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	e := entry{value: v}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "del"); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "exists"); err != nil {
		return false, err
	}
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ttl"); err != nil {
		return 0, err
	}
	e, ok := s.lookup(key)
	if !ok {
		return 0, kv.ErrMiss
	}
	if e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(s.now()), nil
}

func (s *Store) Claim(ctx context.Context, key string, lease time.Duration) (kv.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "claim"); err != nil {
		return nil, err
	}
	if _, ok := s.lookup(key); ok {
		return nil, kv.ErrTaken
	}
	token := uuid.NewString()
	e := entry{value: []byte(token)}
	if lease > 0 {
		e.expireAt = s.now().Add(lease)
	}
	s.data[key] = e
	return &memLease{store: s, key: key, token: token, lease: lease}, nil
}

type memLease struct {
	store *Store
	key   string
	token string
	lease time.Duration
}

func (l *memLease) Key() string   { return l.key }
func (l *memLease) Token() string { return l.token }

func (l *memLease) Release(ctx context.Context) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "release"); err != nil {
		return err
	}
	if e, ok := s.lookup(l.key); ok && string(e.value) == l.token {
		delete(s.data, l.key)
	}
	return nil
}

func (l *memLease) Extend(ctx context.Context) error {
	s := l.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "extend"); err != nil {
		return err
	}
	e, ok := s.lookup(l.key)
	if !ok || string(e.value) != l.token {
		return kv.ErrLost
	}
	if l.lease > 0 {
		e.expireAt = s.now().Add(l.lease)
	}
	s.data[l.key] = e
	return nil
}

func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "publish"); err != nil {
		return err
	}
	for sub := range s.subs[channel] {
		// Pub/sub is fire-and-forget; a full subscriber buffer drops the message.
		select {
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (kv.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "subscribe"); err != nil {
		return nil, err
	}
	sub := &subscription{store: s, channel: channel, ch: make(chan string, 16)}
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[*subscription]struct{})
	}
	s.subs[channel][sub] = struct{}{}
	return sub, nil
}

type subscription struct {
	store   *Store
	channel string
	ch      chan string
	once    sync.Once
}

func (sub *subscription) Messages() <-chan string { return sub.ch }

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		s := sub.store
		s.mu.Lock()
		delete(s.subs[sub.channel], sub)
		if len(s.subs[sub.channel]) == 0 {
			delete(s.subs, sub.channel)
		}
		s.mu.Unlock()
		close(sub.ch)
	})
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx, "ping")
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]map[*subscription]struct{})
	s.mu.Unlock()
	for _, set := range subs {
		for sub := range set {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	return nil
}

var (
	errClosed = errors.New("store closed")
	errDown   = errors.New("backend down")
)

var _ kv.Store = (*Store)(nil)
