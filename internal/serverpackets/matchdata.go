// Package serverpackets builds every server → client packet. Builders
// are pure: domain state in, framed bytes out. Visibility rules
// (restricted users, bot exemptions) live with the callers.
package serverpackets

import (
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/packet"
)

// MatchData is the wire representation of a multiplayer match. Every
// match packet that embeds match state (new, update, start, join
// success) serializes this exact layout.
//
// Layout:
//   - matchID      uint16
//   - inProgress   byte
//   - matchType    byte    always 0
//   - mods         uint32
//   - name         string
//   - password     string  "redacted" when censored and non-empty
//   - beatmapName  string
//   - beatmapID    int32
//   - beatmapMD5   string
//   - slot status  byte ×16
//   - slot team    byte ×16
//   - slot userID  int32   only for occupied slots
//   - hostUserID   int32
//   - gameMode     byte
//   - scoringType  byte
//   - teamType     byte
//   - freeMod      byte
//   - slot mods    uint32 ×16   only when freeMod is set
//   - seed         uint32
type MatchData struct {
	MatchID     uint16
	InProgress  bool
	Mods        int32
	Name        string
	Password    string
	BeatmapName string
	BeatmapID   int32
	BeatmapMD5  string

	SlotStatuses [constants.MatchSlots]byte
	SlotTeams    [constants.MatchSlots]byte
	SlotUserIDs  [constants.MatchSlots]int32
	SlotMods     [constants.MatchSlots]int32

	HostUserID  int32
	GameMode    byte
	ScoringType byte
	TeamType    byte
	FreeMod     byte
	Seed        uint32
}

func writeMatch(w *packet.Writer, m MatchData, censored bool) {
	w.WriteUint16(m.MatchID)
	if m.InProgress {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	w.WriteByte(0)
	w.WriteUint32(uint32(m.Mods))
	w.WriteString(m.Name)

	password := m.Password
	if censored && password != "" {
		password = "redacted"
	}
	w.WriteString(password)

	w.WriteString(m.BeatmapName)
	w.WriteInt32(m.BeatmapID)
	w.WriteString(m.BeatmapMD5)

	for i := 0; i < constants.MatchSlots; i++ {
		w.WriteByte(m.SlotStatuses[i])
	}
	for i := 0; i < constants.MatchSlots; i++ {
		w.WriteByte(m.SlotTeams[i])
	}
	for i := 0; i < constants.MatchSlots; i++ {
		if m.SlotStatuses[i]&constants.SlotOccupied != 0 {
			w.WriteInt32(m.SlotUserIDs[i])
		}
	}

	w.WriteInt32(m.HostUserID)
	w.WriteByte(m.GameMode)
	w.WriteByte(m.ScoringType)
	w.WriteByte(m.TeamType)
	w.WriteByte(m.FreeMod)
	if m.FreeMod != 0 {
		for i := 0; i < constants.MatchSlots; i++ {
			w.WriteUint32(uint32(m.SlotMods[i]))
		}
	}
	w.WriteUint32(m.Seed)
}
