package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/packet"
)

// JoinMatch asks to join a match, optionally with its password.
type JoinMatch struct {
	MatchID  int32
	Password string
}

// ParseJoinMatch parses a joinMatch packet.
func ParseJoinMatch(data []byte) (*JoinMatch, error) {
	r := packet.NewReader(data)
	matchID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading matchID: %w", err)
	}
	password, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return &JoinMatch{MatchID: matchID, Password: password}, nil
}

// ChangeSlot asks to move into the given slot.
type ChangeSlot struct {
	SlotID int32
}

// ParseChangeSlot parses a matchChangeSlot packet.
func ParseChangeSlot(data []byte) (*ChangeSlot, error) {
	r := packet.NewReader(data)
	slotID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading slotID: %w", err)
	}
	return &ChangeSlot{SlotID: slotID}, nil
}

// LockSlot asks the host to toggle a slot's lock.
type LockSlot struct {
	SlotID int32
}

// ParseLockSlot parses a matchLock packet.
func ParseLockSlot(data []byte) (*LockSlot, error) {
	r := packet.NewReader(data)
	slotID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading slotID: %w", err)
	}
	return &LockSlot{SlotID: slotID}, nil
}

// ChangeMods carries the sender's new mod selection.
type ChangeMods struct {
	Mods int32
}

// ParseChangeMods parses a matchChangeMods packet.
func ParseChangeMods(data []byte) (*ChangeMods, error) {
	r := packet.NewReader(data)
	mods, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("reading mods: %w", err)
	}
	return &ChangeMods{Mods: int32(mods)}, nil
}

// TransferHost names the slot receiving host rights.
type TransferHost struct {
	SlotID int32
}

// ParseTransferHost parses a matchTransferHost packet.
func ParseTransferHost(data []byte) (*TransferHost, error) {
	r := packet.NewReader(data)
	slotID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading slotID: %w", err)
	}
	return &TransferHost{SlotID: slotID}, nil
}

// Invite names the user to send an osump:// invite to.
type Invite struct {
	UserID int32
}

// ParseInvite parses an invite packet.
func ParseInvite(data []byte) (*Invite, error) {
	r := packet.NewReader(data)
	userID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading userID: %w", err)
	}
	return &Invite{UserID: userID}, nil
}

// TournamentMatchInfoRequest asks for a lobby snapshot of one match.
type TournamentMatchInfoRequest struct {
	MatchID int32
}

// ParseTournamentMatchInfoRequest parses the request.
func ParseTournamentMatchInfoRequest(data []byte) (*TournamentMatchInfoRequest, error) {
	r := packet.NewReader(data)
	matchID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading matchID: %w", err)
	}
	return &TournamentMatchInfoRequest{MatchID: matchID}, nil
}

// TournamentMatchChannel joins or leaves a match channel without
// occupying a slot. Tournament clients only.
type TournamentMatchChannel struct {
	MatchID int32
}

// ParseTournamentMatchChannel parses tournamentJoinMatchChannel and
// tournamentLeaveMatchChannel packets.
func ParseTournamentMatchChannel(data []byte) (*TournamentMatchChannel, error) {
	r := packet.NewReader(data)
	matchID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading matchID: %w", err)
	}
	return &TournamentMatchChannel{MatchID: matchID}, nil
}

// ScoreFrame returns the raw score frame payload for rebroadcast.
func ScoreFrame(data []byte) []byte {
	return data
}
