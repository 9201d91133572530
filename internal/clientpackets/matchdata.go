// Package clientpackets parses every client → server packet into a
// typed struct, in the shape Parse<Name>(data) (*Name, error).
package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/packet"
)

// MatchData is the match struct as the client sends it (createMatch,
// changeSettings, changePassword). The client leaves server-owned
// fields (slot user ids) zeroed; only the occupied-slot rule decides
// which ids are present on the wire.
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

func parseMatch(r *packet.Reader) (*MatchData, error) {
	var (
		m   MatchData
		err error
	)

	if m.MatchID, err = r.ReadUint16(); err != nil {
		return nil, fmt.Errorf("reading matchID: %w", err)
	}
	inProgress, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading inProgress: %w", err)
	}
	m.InProgress = inProgress != 0
	if _, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("reading matchType: %w", err)
	}
	mods, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("reading mods: %w", err)
	}
	m.Mods = int32(mods)
	if m.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading name: %w", err)
	}
	if m.Password, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if m.BeatmapName, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading beatmapName: %w", err)
	}
	if m.BeatmapID, err = r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading beatmapID: %w", err)
	}
	if m.BeatmapMD5, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading beatmapMD5: %w", err)
	}

	for i := 0; i < constants.MatchSlots; i++ {
		if m.SlotStatuses[i], err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("reading slot %d status: %w", i, err)
		}
	}
	for i := 0; i < constants.MatchSlots; i++ {
		if m.SlotTeams[i], err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("reading slot %d team: %w", i, err)
		}
	}
	for i := 0; i < constants.MatchSlots; i++ {
		if m.SlotStatuses[i]&constants.SlotOccupied == 0 {
			continue
		}
		if m.SlotUserIDs[i], err = r.ReadInt32(); err != nil {
			return nil, fmt.Errorf("reading slot %d userID: %w", i, err)
		}
	}

	if m.HostUserID, err = r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading hostUserID: %w", err)
	}
	if m.GameMode, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("reading gameMode: %w", err)
	}
	if m.ScoringType, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("reading scoringType: %w", err)
	}
	if m.TeamType, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("reading teamType: %w", err)
	}
	if m.FreeMod, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("reading freeMod: %w", err)
	}
	if m.FreeMod != 0 {
		for i := 0; i < constants.MatchSlots; i++ {
			mods, err := r.ReadUint32()
			if err != nil {
				return nil, fmt.Errorf("reading slot %d mods: %w", i, err)
			}
			m.SlotMods[i] = int32(mods)
		}
	}
	if m.Seed, err = r.ReadUint32(); err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}

	return &m, nil
}

// ParseCreateMatch parses the createMatch packet.
func ParseCreateMatch(data []byte) (*MatchData, error) {
	return parseMatch(packet.NewReader(data))
}

// ParseChangeMatchSettings parses the changeSettings packet.
func ParseChangeMatchSettings(data []byte) (*MatchData, error) {
	return parseMatch(packet.NewReader(data))
}

// ParseChangeMatchPassword parses the changePassword packet; only the
// password field is meaningful.
func ParseChangeMatchPassword(data []byte) (*MatchData, error) {
	return parseMatch(packet.NewReader(data))
}
