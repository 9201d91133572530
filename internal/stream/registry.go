package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/metrics"
)

// ErrStreamNotFound is returned when joining a stream nobody added.
// Streams never appear implicitly; the owner of the entity creates
// them.
var ErrStreamNotFound = errors.New("stream: not found")

// Sessions is the slice of the session registry the fan-out needs.
type Sessions interface {
	Enqueue(ctx context.Context, tokenID string, data []byte) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	Privileges(ctx context.Context, tokenID string) (int32, error)
}

// Registry owns stream membership and fan-out.
type Registry struct {
	store    kv.KV
	sessions Sessions
	sink     metrics.Sink
}

// New builds a Registry.
func New(store kv.KV, sessions Sessions, sink metrics.Sink) *Registry {
	return &Registry{store: store, sessions: sessions, sink: sink}
}

// Add registers the stream. Adding an existing stream is a no-op.
func (r *Registry) Add(ctx context.Context, name string) error {
	if err := r.store.SAdd(ctx, streamsSetKey, name); err != nil {
		return fmt.Errorf("adding stream %s: %w", name, err)
	}
	return nil
}

// Remove drops the stream and every membership record pointing at it.
func (r *Registry) Remove(ctx context.Context, name string) error {
	lease, err := r.store.AcquireLease(ctx, lockKey(name), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking stream %s: %w", name, err)
	}
	defer lease.Release(context.Background())

	members, err := r.store.SMembers(ctx, membersKey(name))
	if err != nil {
		return fmt.Errorf("reading stream %s: %w", name, err)
	}
	for _, tokenID := range members {
		if err := r.store.SRem(ctx, tokenStreamsKey(tokenID), name); err != nil {
			slog.Warn("dropping stream from token index failed",
				"stream", name, "token_id", tokenID, "error", err)
		}
	}
	if err := r.store.Del(ctx, membersKey(name)); err != nil {
		return fmt.Errorf("deleting stream %s members: %w", name, err)
	}
	if err := r.store.SRem(ctx, streamsSetKey, name); err != nil {
		return fmt.Errorf("unregistering stream %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the stream is registered.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	return r.store.SIsMember(ctx, streamsSetKey, name)
}

// All lists every registered stream.
func (r *Registry) All(ctx context.Context) ([]string, error) {
	return r.store.SMembers(ctx, streamsSetKey)
}

// Join adds the token to the stream. The stream must exist.
func (r *Registry) Join(ctx context.Context, name, tokenID string) error {
	lease, err := r.store.AcquireLease(ctx, lockKey(name), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking stream %s: %w", name, err)
	}
	defer lease.Release(context.Background())

	exists, err := r.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking stream %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}

	if err := r.store.SAdd(ctx, membersKey(name), tokenID); err != nil {
		return fmt.Errorf("joining stream %s: %w", name, err)
	}
	if err := r.store.SAdd(ctx, tokenStreamsKey(tokenID), name); err != nil {
		return fmt.Errorf("indexing stream %s: %w", name, err)
	}
	return nil
}

// Leave removes the token from the stream. Leaving a stream the token
// never joined is a no-op.
func (r *Registry) Leave(ctx context.Context, name, tokenID string) error {
	lease, err := r.store.AcquireLease(ctx, lockKey(name), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking stream %s: %w", name, err)
	}
	defer lease.Release(context.Background())

	if err := r.store.SRem(ctx, membersKey(name), tokenID); err != nil {
		return fmt.Errorf("leaving stream %s: %w", name, err)
	}
	if err := r.store.SRem(ctx, tokenStreamsKey(tokenID), name); err != nil {
		return fmt.Errorf("unindexing stream %s: %w", name, err)
	}
	return nil
}

// LeaveAll removes the token from every stream it joined. Called on
// logout before the session is destroyed.
func (r *Registry) LeaveAll(ctx context.Context, tokenID string) error {
	names, err := r.store.SMembers(ctx, tokenStreamsKey(tokenID))
	if err != nil {
		return fmt.Errorf("reading token streams: %w", err)
	}
	for _, name := range names {
		if err := r.Leave(ctx, name, tokenID); err != nil {
			slog.Warn("leaving stream on teardown failed",
				"stream", name, "token_id", tokenID, "error", err)
		}
	}
	if err := r.store.Del(ctx, tokenStreamsKey(tokenID)); err != nil {
		return fmt.Errorf("deleting token stream index: %w", err)
	}
	return nil
}

// Members lists the token ids in the stream.
func (r *Registry) Members(ctx context.Context, name string) ([]string, error) {
	return r.store.SMembers(ctx, membersKey(name))
}

// ClientCount returns the stream's member count.
func (r *Registry) ClientCount(ctx context.Context, name string) (int64, error) {
	return r.store.SCard(ctx, membersKey(name))
}

// Broadcast queues the bytes for every member except the listed token
// ids. Members whose session vanished without a clean logout are
// pruned as they are found.
func (r *Registry) Broadcast(ctx context.Context, name string, data []byte, except ...string) error {
	return r.fanOut(ctx, name, data, except, 0)
}

// BroadcastLimited queues the bytes only for members holding all of
// the given privilege bits.
func (r *Registry) BroadcastLimited(ctx context.Context, name string, data []byte, privileges int32) error {
	return r.fanOut(ctx, name, data, nil, privileges)
}

func (r *Registry) fanOut(ctx context.Context, name string, data []byte, except []string, privileges int32) error {
	members, err := r.Members(ctx, name)
	if err != nil {
		return fmt.Errorf("reading stream %s: %w", name, err)
	}

	skip := make(map[string]struct{}, len(except))
	for _, tokenID := range except {
		skip[tokenID] = struct{}{}
	}

	delivered := 0
	for _, tokenID := range members {
		if _, ok := skip[tokenID]; ok {
			continue
		}
		if privileges != 0 {
			p, err := r.sessions.Privileges(ctx, tokenID)
			if err != nil {
				r.pruneIfGone(ctx, name, tokenID)
				continue
			}
			if p&privileges != privileges {
				continue
			}
		}
		if err := r.sessions.Enqueue(ctx, tokenID, data); err != nil {
			r.pruneIfGone(ctx, name, tokenID)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		r.sink.AddBroadcastBytes(name, delivered*len(data))
	}
	return nil
}

// pruneIfGone drops a stream member whose session no longer exists.
func (r *Registry) pruneIfGone(ctx context.Context, name, tokenID string) {
	exists, err := r.sessions.Exists(ctx, tokenID)
	if err != nil || exists {
		return
	}
	if err := r.store.SRem(ctx, membersKey(name), tokenID); err != nil {
		slog.Warn("pruning dead stream member failed",
			"stream", name, "token_id", tokenID, "error", err)
		return
	}
	if err := r.store.SRem(ctx, tokenStreamsKey(tokenID), name); err != nil {
		slog.Warn("pruning dead stream index failed",
			"stream", name, "token_id", tokenID, "error", err)
	}
	slog.Info("pruned dead stream member", "stream", name, "token_id", tokenID)
}
