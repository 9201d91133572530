// Package match runs the multiplayer match state machine. Matches and
// their sixteen slots live in the shared store, one hash each, and
// every public operation runs under the match's lease so replicas
// serialize their mutations.
package match

import (
	"fmt"
	"strconv"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
)

// Match is one multiplayer room's settings and progress flags. Slots
// are stored separately, one hash per seat.
type Match struct {
	ID          int32
	Name        string
	Password    string
	BeatmapID   int32
	BeatmapName string
	BeatmapMD5  string
	HostUserID  int32
	GameMode    byte
	Mods        int32
	ScoringType byte
	TeamType    byte
	ModMode     byte
	InProgress  bool
	Tourney     bool
	Seed        uint32
	CreatedAt   int64
	UpdatedAt   int64
}

// Slot is one seat in a match.
type Slot struct {
	Status   byte
	Team     byte
	UserID   int32
	TokenID  string
	Mods     int32
	Loaded   bool
	Skipped  bool
	Complete bool
	Failed   bool
}

// Slots is the full seating of a match.
type Slots [constants.MatchSlots]Slot

func (m *Match) fields() map[string]string {
	return map[string]string{
		"match_name":         m.Name,
		"match_password":     m.Password,
		"beatmap_id":         itoa32(m.BeatmapID),
		"beatmap_name":       m.BeatmapName,
		"beatmap_md5":        m.BeatmapMD5,
		"host_user_id":       itoa32(m.HostUserID),
		"game_mode":          strconv.Itoa(int(m.GameMode)),
		"mods":               itoa32(m.Mods),
		"match_scoring_type": strconv.Itoa(int(m.ScoringType)),
		"match_team_type":    strconv.Itoa(int(m.TeamType)),
		"match_mod_mode":     strconv.Itoa(int(m.ModMode)),
		"is_in_progress":     btoa(m.InProgress),
		"is_tourney":         btoa(m.Tourney),
		"seed":               strconv.FormatUint(uint64(m.Seed), 10),
		"created_at":         strconv.FormatInt(m.CreatedAt, 10),
		"updated_at":         strconv.FormatInt(m.UpdatedAt, 10),
	}
}

func matchFromFields(id int32, m map[string]string) (*Match, error) {
	p := &fieldParser{m: m}
	out := &Match{
		ID:          id,
		Name:        p.str("match_name"),
		Password:    p.str("match_password"),
		BeatmapID:   p.i32("beatmap_id"),
		BeatmapName: p.str("beatmap_name"),
		BeatmapMD5:  p.str("beatmap_md5"),
		HostUserID:  p.i32("host_user_id"),
		GameMode:    p.u8("game_mode"),
		Mods:        p.i32("mods"),
		ScoringType: p.u8("match_scoring_type"),
		TeamType:    p.u8("match_team_type"),
		ModMode:     p.u8("match_mod_mode"),
		InProgress:  p.boolean("is_in_progress"),
		Tourney:     p.boolean("is_tourney"),
		Seed:        p.u32("seed"),
		CreatedAt:   p.i64("created_at"),
		UpdatedAt:   p.i64("updated_at"),
	}
	if p.err != nil {
		return nil, fmt.Errorf("match %d: %w", id, p.err)
	}
	return out, nil
}

func (s *Slot) fields() map[string]string {
	return map[string]string{
		"status":   strconv.Itoa(int(s.Status)),
		"team":     strconv.Itoa(int(s.Team)),
		"user_id":  itoa32(s.UserID),
		"token_id": s.TokenID,
		"mods":     itoa32(s.Mods),
		"loaded":   btoa(s.Loaded),
		"skipped":  btoa(s.Skipped),
		"complete": btoa(s.Complete),
		"failed":   btoa(s.Failed),
	}
}

func slotFromFields(m map[string]string) (*Slot, error) {
	p := &fieldParser{m: m}
	s := &Slot{
		Status:   p.u8("status"),
		Team:     p.u8("team"),
		UserID:   p.i32("user_id"),
		TokenID:  p.str("token_id"),
		Mods:     p.i32("mods"),
		Loaded:   p.boolean("loaded"),
		Skipped:  p.boolean("skipped"),
		Complete: p.boolean("complete"),
		Failed:   p.boolean("failed"),
	}
	if p.err != nil {
		return nil, p.err
	}
	// A fresh hash reads as status 0; seats start out free.
	if s.Status == 0 {
		s.Status = constants.SlotFree
	}
	return s, nil
}

// clear resets the seat to an empty, unlocked state.
func (s *Slot) clear() {
	*s = Slot{Status: constants.SlotFree}
}

// occupied reports whether a user sits in the seat.
func (s *Slot) occupied() bool { return s.Status&constants.SlotOccupied != 0 }

// data flattens the match and its slots into the wire form shared by
// every match packet.
func data(m *Match, slots *Slots) serverpackets.MatchData {
	d := serverpackets.MatchData{
		MatchID:     uint16(m.ID),
		InProgress:  m.InProgress,
		Mods:        m.Mods,
		Name:        m.Name,
		Password:    m.Password,
		BeatmapName: m.BeatmapName,
		BeatmapID:   m.BeatmapID,
		BeatmapMD5:  m.BeatmapMD5,
		HostUserID:  m.HostUserID,
		GameMode:    m.GameMode,
		ScoringType: m.ScoringType,
		TeamType:    m.TeamType,
		Seed:        m.Seed,
	}
	if m.ModMode == constants.ModModeFreeMod {
		d.FreeMod = 1
	}
	for i := range slots {
		d.SlotStatuses[i] = slots[i].Status
		d.SlotTeams[i] = slots[i].Team
		d.SlotUserIDs[i] = slots[i].UserID
		d.SlotMods[i] = slots[i].Mods
	}
	return d
}

type fieldParser struct {
	m   map[string]string
	err error
}

func (p *fieldParser) str(key string) string { return p.m[key] }

func (p *fieldParser) i64(key string) int64 {
	v, ok := p.m[key]
	if !ok || v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
		return 0
	}
	return n
}

func (p *fieldParser) i32(key string) int32 {
	v, ok := p.m[key]
	if !ok || v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
		return 0
	}
	return int32(n)
}

func (p *fieldParser) u8(key string) byte {
	v, ok := p.m[key]
	if !ok || v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
		return 0
	}
	return byte(n)
}

func (p *fieldParser) u32(key string) uint32 {
	v, ok := p.m[key]
	if !ok || v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
		return 0
	}
	return uint32(n)
}

func (p *fieldParser) boolean(key string) bool { return p.m[key] == "1" }

func itoa32(v int32) string { return strconv.FormatInt(int64(v), 10) }

func btoa(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
