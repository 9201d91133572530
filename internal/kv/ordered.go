package kv

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Lease names sort by domain first so that every caller holding more
// than one lease takes them in the same global order: match state,
// then token state, then stream state. Within a domain the name itself
// breaks ties.
func domainRank(name string) int {
	switch {
	case strings.HasPrefix(name, "bancho:matches"):
		return 0
	case strings.HasPrefix(name, "bancho:tokens"):
		return 1
	case strings.HasPrefix(name, "bancho:streams"):
		return 2
	default:
		return 3
	}
}

// AcquireOrdered takes every named lease in canonical order. On any
// failure it releases what it already holds and returns the error, so
// a partial acquisition never leaks. Duplicate names are collapsed.
func AcquireOrdered(ctx context.Context, store KV, ttl time.Duration, names ...string) ([]Lease, error) {
	seen := make(map[string]struct{}, len(names))
	sorted := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		sorted = append(sorted, name)
	}
	sort.Slice(sorted, func(i, j int) bool {
		ri, rj := domainRank(sorted[i]), domainRank(sorted[j])
		if ri != rj {
			return ri < rj
		}
		return sorted[i] < sorted[j]
	})

	held := make([]Lease, 0, len(sorted))
	for _, name := range sorted {
		lease, err := store.AcquireLease(ctx, name, ttl)
		if err != nil {
			ReleaseAll(context.Background(), held)
			return nil, err
		}
		held = append(held, lease)
	}
	return held, nil
}

// ReleaseAll releases in reverse acquisition order. Errors are
// swallowed: an expired lease is already free and anything else is
// covered by the TTL.
func ReleaseAll(ctx context.Context, leases []Lease) {
	for i := len(leases) - 1; i >= 0; i-- {
		_ = leases[i].Release(ctx)
	}
}
