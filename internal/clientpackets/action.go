package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/packet"
)

// ChangeAction is the client's status update: what it is doing, on
// which beatmap, with which mods.
type ChangeAction struct {
	ActionID   byte
	ActionText string
	ActionMD5  string
	ActionMods int32
	GameMode   byte
	BeatmapID  int32
}

// ParseChangeAction parses a changeAction packet.
func ParseChangeAction(data []byte) (*ChangeAction, error) {
	r := packet.NewReader(data)

	actionID, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading actionID: %w", err)
	}
	actionText, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading actionText: %w", err)
	}
	actionMD5, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading actionMD5: %w", err)
	}
	mods, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("reading actionMods: %w", err)
	}
	gameMode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading gameMode: %w", err)
	}
	beatmapID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading beatmapID: %w", err)
	}

	return &ChangeAction{
		ActionID:   actionID,
		ActionText: actionText,
		ActionMD5:  actionMD5,
		ActionMods: int32(mods),
		GameMode:   gameMode,
		BeatmapID:  beatmapID,
	}, nil
}
