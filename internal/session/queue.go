package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/kv"
)

// Enqueue appends packet bytes to the session's outbound queue. The
// replica holding the socket drains the queue on its write tick, so
// any replica can address any session. Bytes for the bot, service
// accounts and IRC bridge sessions are discarded since nothing will
// ever read them.
func (r *Registry) Enqueue(ctx context.Context, tokenID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	irc, err := r.store.HGet(ctx, tokenKey(tokenID), "irc")
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	uid, err := r.store.HGet(ctx, tokenKey(tokenID), "user_id")
	if err != nil {
		return fmt.Errorf("reading session: %w", err)
	}
	userID, err := strconv.ParseInt(uid, 10, 32)
	if err != nil {
		return fmt.Errorf("parsing session user id: %w", err)
	}
	if irc == "1" || userID < constants.MinHumanUserID {
		return nil
	}

	lease, err := r.store.AcquireLease(ctx, BufferLock(tokenID), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking queue: %w", err)
	}
	defer lease.Release(context.Background())

	size, err := r.queueSizeLocked(ctx, tokenID)
	if err != nil {
		return err
	}
	if size+int64(len(data)) > constants.MaxQueueBytes {
		slog.Warn("outbound queue full, dropping packet",
			"token_id", tokenID, "queued_bytes", size, "packet_bytes", len(data))
		r.sink.IncQueueDrops()
		return nil
	}

	if err := r.store.RPush(ctx, queueKey(tokenID), data); err != nil {
		return fmt.Errorf("queueing packet: %w", err)
	}
	err = r.store.Set(ctx, queueSizeKey(tokenID), strconv.FormatInt(size+int64(len(data)), 10))
	if err != nil {
		return fmt.Errorf("updating queue size: %w", err)
	}
	return nil
}

// Drain removes and returns everything queued for the session, in
// enqueue order. The chunks are handed to the socket writer as a
// vectored write.
func (r *Registry) Drain(ctx context.Context, tokenID string) ([][]byte, error) {
	lease, err := r.store.AcquireLease(ctx, BufferLock(tokenID), kv.DefaultLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("locking queue: %w", err)
	}
	defer lease.Release(context.Background())

	chunks, err := r.store.LRange(ctx, queueKey(tokenID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := r.store.Del(ctx, queueKey(tokenID), queueSizeKey(tokenID)); err != nil {
		return nil, fmt.Errorf("clearing queue: %w", err)
	}
	r.sink.AddPacketsOut(len(chunks))
	return chunks, nil
}

// ResetQueue discards everything queued for the session.
func (r *Registry) ResetQueue(ctx context.Context, tokenID string) error {
	lease, err := r.store.AcquireLease(ctx, BufferLock(tokenID), kv.DefaultLeaseTTL)
	if err != nil {
		return fmt.Errorf("locking queue: %w", err)
	}
	defer lease.Release(context.Background())

	if err := r.store.Del(ctx, queueKey(tokenID), queueSizeKey(tokenID)); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	return nil
}

// QueueSize returns the queued byte count for the session.
func (r *Registry) QueueSize(ctx context.Context, tokenID string) (int64, error) {
	lease, err := r.store.AcquireLease(ctx, BufferLock(tokenID), kv.DefaultLeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("locking queue: %w", err)
	}
	defer lease.Release(context.Background())
	return r.queueSizeLocked(ctx, tokenID)
}

func (r *Registry) queueSizeLocked(ctx context.Context, tokenID string) (int64, error) {
	raw, err := r.store.Get(ctx, queueSizeKey(tokenID))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading queue size: %w", err)
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing queue size: %w", err)
	}
	return size, nil
}
