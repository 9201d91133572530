package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/serverpackets"
)

// Token is a snapshot of one session's scalar state. The authoritative
// copy is the KV hash; a Token never mutates itself, mutation goes
// through Registry methods so every replica sees it.
type Token struct {
	ID                string
	UserID            int32
	Username          string
	SafeUsername      string
	Privileges        int32
	Whitelist         byte
	IP                string
	IRC               bool
	Tournament        bool
	UTCOffset         int32
	LoginTime         int64
	PingTime          int64
	SilenceEndTime    int64
	ProtocolVersion   int32
	MatchID           int32 // -1 when not in a match
	SpectatingTokenID string
	SpectatingUserID  int32
	Latitude          float32
	Longitude         float32
	Country           byte
	ActionID          byte
	ActionText        string
	ActionMD5         string
	ActionMods        int32
	GameMode          byte
	Relax             bool
	Autopilot         bool
	BeatmapID         int32
	RankedScore       int64
	Accuracy          float32 // fraction, 0..1
	Playcount         int32
	TotalScore        int64
	GameRank          int32
	PP                int32
	SpamRate          int32
	AwayMessage       string
	BlockNonFriendsDM bool
}

// Staff reports whether the token may moderate chat.
func (t *Token) Staff() bool {
	return constants.IsStaff(t.Privileges)
}

// Restricted reports whether the token is hidden from public presence.
func (t *Token) Restricted() bool {
	return constants.IsRestricted(t.Privileges)
}

// IsSilenced reports whether the silence window is still open.
func (t *Token) IsSilenced(now time.Time) bool {
	return t.SilenceEndTime > now.Unix()
}

// SilenceSecondsLeft returns the remaining silence window, clamped at
// zero.
func (t *Token) SilenceSecondsLeft(now time.Time) int32 {
	left := t.SilenceEndTime - now.Unix()
	if left < 0 {
		return 0
	}
	return int32(left)
}

// InMatch reports whether the token occupies a match slot.
func (t *Token) InMatch() bool { return t.MatchID >= 0 }

// Panel converts the cached state into a user panel payload.
func (t *Token) Panel() serverpackets.PanelInfo {
	return serverpackets.PanelInfo{
		UserID:    t.UserID,
		Username:  t.Username,
		UTCOffset: t.UTCOffset,
		Country:   t.Country,
		RankFlags: constants.RankFlags(t.Privileges),
		Longitude: t.Longitude,
		Latitude:  t.Latitude,
		GameRank:  uint32(t.GameRank),
	}
}

// Stats converts the cached state into a user stats payload.
func (t *Token) Stats() serverpackets.StatsInfo {
	return serverpackets.StatsInfo{
		UserID:      t.UserID,
		ActionID:    t.ActionID,
		ActionText:  t.ActionText,
		ActionMD5:   t.ActionMD5,
		ActionMods:  t.ActionMods,
		GameMode:    t.GameMode,
		BeatmapID:   t.BeatmapID,
		RankedScore: uint64(t.RankedScore),
		Accuracy:    t.Accuracy,
		Playcount:   uint32(t.Playcount),
		TotalScore:  uint64(t.TotalScore),
		GameRank:    uint32(t.GameRank),
		PP:          t.PP,
	}
}

// specialMode folds the relax and autopilot flags into the stats table
// discriminator.
func (t *Token) specialMode() int16 {
	switch {
	case t.Relax:
		return 1
	case t.Autopilot:
		return 2
	default:
		return 0
	}
}

func (t *Token) fields() map[string]string {
	return map[string]string{
		"user_id":              itoa32(t.UserID),
		"username":             t.Username,
		"safe_username":        t.SafeUsername,
		"privileges":           itoa32(t.Privileges),
		"whitelist":            strconv.Itoa(int(t.Whitelist)),
		"ip":                   t.IP,
		"irc":                  btoa(t.IRC),
		"tournament":           btoa(t.Tournament),
		"utc_offset":           itoa32(t.UTCOffset),
		"login_time":           strconv.FormatInt(t.LoginTime, 10),
		"ping_time":            strconv.FormatInt(t.PingTime, 10),
		"silence_end_time":     strconv.FormatInt(t.SilenceEndTime, 10),
		"protocol_version":     itoa32(t.ProtocolVersion),
		"match_id":             itoa32(t.MatchID),
		"spectating_token_id":  t.SpectatingTokenID,
		"spectating_user_id":   itoa32(t.SpectatingUserID),
		"latitude":             ftoa(t.Latitude),
		"longitude":            ftoa(t.Longitude),
		"country":              strconv.Itoa(int(t.Country)),
		"action_id":            strconv.Itoa(int(t.ActionID)),
		"action_text":          t.ActionText,
		"action_md5":           t.ActionMD5,
		"action_mods":          itoa32(t.ActionMods),
		"game_mode":            strconv.Itoa(int(t.GameMode)),
		"relax":                btoa(t.Relax),
		"autopilot":            btoa(t.Autopilot),
		"beatmap_id":           itoa32(t.BeatmapID),
		"ranked_score":         strconv.FormatInt(t.RankedScore, 10),
		"accuracy":             ftoa(t.Accuracy),
		"playcount":            itoa32(t.Playcount),
		"total_score":          strconv.FormatInt(t.TotalScore, 10),
		"game_rank":            itoa32(t.GameRank),
		"pp":                   itoa32(t.PP),
		"spam_rate":            itoa32(t.SpamRate),
		"away_message":         t.AwayMessage,
		"block_non_friends_dm": btoa(t.BlockNonFriendsDM),
	}
}

// tokenFromFields rebuilds a snapshot from the stored hash. Absent
// fields read as zero values; a field that fails to parse is an error.
func tokenFromFields(tokenID string, m map[string]string) (*Token, error) {
	p := &fieldParser{m: m}
	t := &Token{
		ID:                tokenID,
		UserID:            p.i32("user_id"),
		Username:          p.str("username"),
		SafeUsername:      p.str("safe_username"),
		Privileges:        p.i32("privileges"),
		Whitelist:         p.u8("whitelist"),
		IP:                p.str("ip"),
		IRC:               p.boolean("irc"),
		Tournament:        p.boolean("tournament"),
		UTCOffset:         p.i32("utc_offset"),
		LoginTime:         p.i64("login_time"),
		PingTime:          p.i64("ping_time"),
		SilenceEndTime:    p.i64("silence_end_time"),
		ProtocolVersion:   p.i32("protocol_version"),
		MatchID:           p.i32("match_id"),
		SpectatingTokenID: p.str("spectating_token_id"),
		SpectatingUserID:  p.i32("spectating_user_id"),
		Latitude:          p.f32("latitude"),
		Longitude:         p.f32("longitude"),
		Country:           p.u8("country"),
		ActionID:          p.u8("action_id"),
		ActionText:        p.str("action_text"),
		ActionMD5:         p.str("action_md5"),
		ActionMods:        p.i32("action_mods"),
		GameMode:          p.u8("game_mode"),
		Relax:             p.boolean("relax"),
		Autopilot:         p.boolean("autopilot"),
		BeatmapID:         p.i32("beatmap_id"),
		RankedScore:       p.i64("ranked_score"),
		Accuracy:          p.f32("accuracy"),
		Playcount:         p.i32("playcount"),
		TotalScore:        p.i64("total_score"),
		GameRank:          p.i32("game_rank"),
		PP:                p.i32("pp"),
		SpamRate:          p.i32("spam_rate"),
		AwayMessage:       p.str("away_message"),
		BlockNonFriendsDM: p.boolean("block_non_friends_dm"),
	}
	if p.err != nil {
		return nil, fmt.Errorf("session %s: %w", tokenID, p.err)
	}
	return t, nil
}

// fieldParser collects the first conversion error instead of failing
// on every field lookup.
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

func (p *fieldParser) f32(key string) float32 {
	v, ok := p.m[key]
	if !ok || v == "" || p.err != nil {
		return 0
	}
	n, err := strconv.ParseFloat(v, 32)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
		return 0
	}
	return float32(n)
}

func (p *fieldParser) boolean(key string) bool {
	return p.m[key] == "1"
}

func itoa32(n int32) string { return strconv.FormatInt(int64(n), 10) }

func ftoa(f float32) string { return strconv.FormatFloat(float64(f), 'g', -1, 32) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
