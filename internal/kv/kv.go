// Package kv is the small key-value capability set the response cache and the
// in-flight coordinator are written against. Any backend that offers atomic
// conditional writes with expiry, token-checked deletes and pub/sub fits.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss means the key is absent or expired.
	ErrMiss = errors.New("kv: miss")
	// ErrTaken means a conditional claim lost to an existing holder.
	ErrTaken = errors.New("kv: taken")
	// ErrUnavailable means the backend could not answer (outage or op timeout).
	ErrUnavailable = errors.New("kv: unavailable")
	// ErrLost means the lease expired or the key now belongs to someone else.
	ErrLost = errors.New("kv: lease lost")
)

// Lease is a held claim on a key.
type Lease interface {
	Key() string
	Token() string
	// Release deletes the key only if it still carries this lease's token.
	// Releasing an expired or already released lease is not an error.
	Release(ctx context.Context) error
	// Extend resets the expiry to the full lease duration if the key still
	// carries this lease's token, and returns ErrLost otherwise.
	Extend(ctx context.Context) error
}

// Subscription delivers payloads published on one channel.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetEx upserts value and resets the expiry.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns ErrMiss for an absent key and 0 for a key without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Claim sets key if absent, with the given lease, as one atomic step.
	Claim(ctx context.Context, key string, lease time.Duration) (Lease, error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps err so errors.Is(err, ErrUnavailable) holds while keeping the cause.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return "kv " + e.op + ": unavailable: " + e.err.Error() }

func (e *opError) Unwrap() []error { return []error{ErrUnavailable, e.err} }
