package match

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shirokane/gobancho/internal/constants"
)

const (
	matchesSetKey = "bancho:matches"
	lastIDKey     = "bancho:matches:last_id"
)

func matchKey(id int32) string { return "bancho:matches:" + itoa32(id) }

func slotKey(id int32, seat int) string {
	return matchKey(id) + ":slots:" + strconv.Itoa(seat)
}

func lockKey(id int32) string { return matchKey(id) + ":lock" }

// nextID allocates a fresh match id. Ids are never reused.
func (e *Engine) nextID(ctx context.Context) (int32, error) {
	id, err := e.store.Incr(ctx, lastIDKey)
	if err != nil {
		return 0, fmt.Errorf("allocating match id: %w", err)
	}
	return int32(id), nil
}

// load reads the match and its seating. A disposed match loads as
// (nil, nil, nil) so callers can treat it as a silent no-op.
func (e *Engine) load(ctx context.Context, matchID int32) (*Match, *Slots, error) {
	fields, err := e.store.HGetAll(ctx, matchKey(matchID))
	if err != nil {
		return nil, nil, fmt.Errorf("loading match: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}
	m, err := matchFromFields(matchID, fields)
	if err != nil {
		return nil, nil, err
	}

	var slots Slots
	for i := 0; i < constants.MatchSlots; i++ {
		sf, err := e.store.HGetAll(ctx, slotKey(matchID, i))
		if err != nil {
			return nil, nil, fmt.Errorf("loading slot %d: %w", i, err)
		}
		s, err := slotFromFields(sf)
		if err != nil {
			return nil, nil, fmt.Errorf("match %d slot %d: %w", matchID, i, err)
		}
		slots[i] = *s
	}
	return m, &slots, nil
}

func (e *Engine) saveMatch(ctx context.Context, m *Match) error {
	m.UpdatedAt = e.clk.Now().Unix()
	if err := e.store.HSet(ctx, matchKey(m.ID), m.fields()); err != nil {
		return fmt.Errorf("saving match: %w", err)
	}
	return nil
}

func (e *Engine) saveSlot(ctx context.Context, matchID int32, seat int, s *Slot) error {
	if err := e.store.HSet(ctx, slotKey(matchID, seat), s.fields()); err != nil {
		return fmt.Errorf("saving slot %d: %w", seat, err)
	}
	return nil
}

func (e *Engine) saveSlots(ctx context.Context, matchID int32, slots *Slots) error {
	for i := range slots {
		if err := e.saveSlot(ctx, matchID, i, &slots[i]); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns every live match id in ascending order.
func (e *Engine) IDs(ctx context.Context) ([]int32, error) {
	members, err := e.store.SMembers(ctx, matchesSetKey)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	ids := make([]int32, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("match id %q: %w", member, err)
		}
		ids = append(ids, int32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Snapshot reads a match without taking its lease, for read-only
// callers like the lobby listing. Returns (nil, nil, nil) when the
// match is gone.
func (e *Engine) Snapshot(ctx context.Context, matchID int32) (*Match, *Slots, error) {
	return e.load(ctx, matchID)
}

func (e *Engine) deleteKeys(ctx context.Context, matchID int32) error {
	keys := make([]string, 0, constants.MatchSlots+1)
	keys = append(keys, matchKey(matchID))
	for i := 0; i < constants.MatchSlots; i++ {
		keys = append(keys, slotKey(matchID, i))
	}
	if err := e.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("deleting match keys: %w", err)
	}
	if err := e.store.SRem(ctx, matchesSetKey, itoa32(matchID)); err != nil {
		return fmt.Errorf("unregistering match: %w", err)
	}
	return nil
}
