// Package kv abstracts the shared store every replica coordinates
// through: plain keys, hashes, sets, lists, pub/sub and a fenced
// lease-based mutex. Sessions, streams, channels and matches all live
// behind this interface, so no replica holds authoritative state of
// its own.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound marks a missing key or hash field.
	ErrNotFound = errors.New("kv: not found")

	// ErrLockTimeout is returned when a lease could not be acquired
	// within its retry budget. Never fatal: handlers surface it to the
	// user as a notification and move on.
	ErrLockTimeout = errors.New("kv: lock timeout")
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live pub/sub subscription. Close releases the
// underlying connection and closes the Messages channel.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Lease is a held mutex. Release is idempotent; releasing a lease
// whose TTL already expired is a no-op, not an error, because the
// fencing token no longer matches.
type Lease interface {
	// Name returns the lease key this lease guards.
	Name() string

	// Release gives the lease up.
	Release(ctx context.Context) error
}

// KV is the shared store contract. String values are used for
// everything except queue chunks, which are raw bytes (the store is
// binary safe).
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	RPush(ctx context.Context, key string, values ...[]byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) Subscription

	// AcquireLease takes the named mutex for at most ttl. Acquisition
	// retries with jittered backoff a bounded number of times and
	// fails with ErrLockTimeout when the budget runs out.
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (Lease, error)

	Close() error
}

// Lease tuning shared by every implementation. The retry budget keeps
// a stuck holder from stalling callers for more than about a second,
// and the TTL bounds the damage of a crashed holder.
const (
	// DefaultLeaseTTL is how long a lease lives without release.
	DefaultLeaseTTL = 10 * time.Second

	// leaseRetries bounds acquisition attempts.
	leaseRetries = 20

	// leaseRetryDelay is the base delay between attempts; jitter is
	// applied on top.
	leaseRetryDelay = 50 * time.Millisecond
)
