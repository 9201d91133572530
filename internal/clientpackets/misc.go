package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/packet"
)

// FriendChange carries a friend add or remove target.
type FriendChange struct {
	UserID int32
}

// ParseFriendChange parses friendAdd and friendRemove packets.
func ParseFriendChange(data []byte) (*FriendChange, error) {
	r := packet.NewReader(data)
	userID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading userID: %w", err)
	}
	return &FriendChange{UserID: userID}, nil
}

// SetAwayMessage carries the new away message; empty clears it.
type SetAwayMessage struct {
	Message string
}

// ParseSetAwayMessage parses a setAwayMessage packet.
func ParseSetAwayMessage(data []byte) (*SetAwayMessage, error) {
	r := packet.NewReader(data)

	// The away packet reuses the message layout: sender, text, target,
	// sender id. Only the text matters.
	if _, err := r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading sender: %w", err)
	}
	message, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return &SetAwayMessage{Message: message}, nil
}

// UserIDList is the id list shared by userStatsRequest and
// userPanelRequest.
type UserIDList struct {
	UserIDs []int32
}

// ParseUserIDList parses an int-list payload.
func ParseUserIDList(data []byte) (*UserIDList, error) {
	r := packet.NewReader(data)
	ids, err := r.ReadIntList()
	if err != nil {
		return nil, fmt.Errorf("reading id list: %w", err)
	}
	return &UserIDList{UserIDs: ids}, nil
}

// ToggleBlockNonFriendDMs carries the new DM privacy flag.
type ToggleBlockNonFriendDMs struct {
	Value int32
}

// ParseToggleBlockNonFriendDMs parses the toggle packet.
func ParseToggleBlockNonFriendDMs(data []byte) (*ToggleBlockNonFriendDMs, error) {
	r := packet.NewReader(data)
	value, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading value: %w", err)
	}
	return &ToggleBlockNonFriendDMs{Value: value}, nil
}

// ChangeProtocolVersion upgrades the session's protocol revision.
// Sent by patched clients only.
type ChangeProtocolVersion struct {
	Version int32
}

// ParseChangeProtocolVersion parses the upgrade packet.
func ParseChangeProtocolVersion(data []byte) (*ChangeProtocolVersion, error) {
	r := packet.NewReader(data)
	version, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	return &ChangeProtocolVersion{Version: version}, nil
}
