package kv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is a process-local store with the same semantics as the
// production client, used by tests. Leases are real mutexes per name,
// so concurrency tests exercise the same exclusion the cluster sees.
type Memory struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][][]byte
	sems    map[string]chan struct{}
	subs    map[string][]*memorySubscription
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][][]byte),
		sems:    make(map[string]chan struct{}),
		subs:    make(map[string][]*memorySubscription),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.strings[key]
	if !ok {
		return "", fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.lists, key)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.strings[key]; ok {
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("incr %s: not an integer", key)
		}
	}
	n++
	m.strings[key] = fmt.Sprintf("%d", n)
	return n, nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.hashes[key][field]
	if !ok {
		return "", fmt.Errorf("hget %s %s: %w", key, field, ErrNotFound)
	}
	return v, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	if len(m.hashes[key]) == 0 {
		delete(m.hashes, key)
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.sets[key], member)
	}
	if len(m.sets[key]) == 0 {
		delete(m.sets, key)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		c := make([]byte, len(v))
		copy(c, v)
		m.lists[key] = append(m.lists[key], c)
	}
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi, ok := normRange(int64(len(m.lists[key])), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo+1)
	for _, v := range m.lists[key][lo : hi+1] {
		c := make([]byte, len(v))
		copy(c, v)
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo, hi, ok := normRange(int64(len(m.lists[key])), start, stop)
	if !ok {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = m.lists[key][lo : hi+1]
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

// normRange resolves negative indices the way the list commands do:
// -1 is the last element, out-of-range bounds clamp.
func normRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs[channel] {
		c := make([]byte, len(payload))
		copy(c, payload)
		select {
		case sub.out <- Message{Channel: channel, Payload: c}:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channels ...string) Subscription {
	sub := &memorySubscription{
		store:    m,
		channels: channels,
		out:      make(chan Message, 256),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range channels {
		m.subs[ch] = append(m.subs[ch], sub)
	}
	return sub
}

// AcquireLease blocks until the named mutex is free, the context ends
// or the wait budget runs out. TTLs are not enforced here; a test that
// leaks a lease fails loudly on the next acquisition instead.
func (m *Memory) AcquireLease(ctx context.Context, name string, _ time.Duration) (Lease, error) {
	m.mu.Lock()
	sem, ok := m.sems[name]
	if !ok {
		sem = make(chan struct{}, 1)
		m.sems[name] = sem
	}
	m.mu.Unlock()

	timeout := time.NewTimer(time.Duration(leaseRetries) * leaseRetryDelay)
	defer timeout.Stop()
	select {
	case sem <- struct{}{}:
		return &memoryLease{name: name, sem: sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}
}

func (m *Memory) Close() error { return nil }

type memoryLease struct {
	name string
	sem  chan struct{}
	once sync.Once
}

func (l *memoryLease) Name() string { return l.name }

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() { <-l.sem })
	return nil
}

type memorySubscription struct {
	store    *Memory
	channels []string
	out      chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		for _, ch := range s.channels {
			subs := s.store.subs[ch]
			for i, sub := range subs {
				if sub == s {
					s.store.subs[ch] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		s.store.mu.Unlock()
		close(s.out)
	})
	return nil
}
