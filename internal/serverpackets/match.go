package serverpackets

import (
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// NewMatch advertises a fresh match to the lobby. The password is
// always censored here.
func NewMatch(m MatchData) []byte {
	w := packet.Get()
	defer w.Put()
	writeMatch(w, m, true)
	return w.Frame(packetid.ServerNewMatch)
}

// UpdateMatch pushes the current match state. Lobby listeners get the
// censored form, players inside the match get the real password.
func UpdateMatch(m MatchData, censored bool) []byte {
	w := packet.Get()
	defer w.Put()
	writeMatch(w, m, censored)
	return w.Frame(packetid.ServerUpdateMatch)
}

// MatchStart moves every playing client into gameplay.
func MatchStart(m MatchData) []byte {
	w := packet.Get()
	defer w.Put()
	writeMatch(w, m, false)
	return w.Frame(packetid.ServerMatchStart)
}

// MatchJoinSuccess confirms a join and hands over full match state.
func MatchJoinSuccess(m MatchData) []byte {
	w := packet.Get()
	defer w.Put()
	writeMatch(w, m, false)
	return w.Frame(packetid.ServerMatchJoinSuccess)
}

// MatchJoinFail bounces a join attempt.
func MatchJoinFail() []byte {
	return packet.Empty(packetid.ServerMatchJoinFail)
}

// DisposeMatch removes a match from the lobby listing.
func DisposeMatch(matchID uint32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(matchID)
	return w.Frame(packetid.ServerDisposeMatch)
}

// MatchTransferHost makes the receiving client the new host.
func MatchTransferHost() []byte {
	return packet.Empty(packetid.ServerMatchTransferHost)
}

// MatchAllPlayersLoaded releases the gameplay barrier.
func MatchAllPlayersLoaded() []byte {
	return packet.Empty(packetid.ServerMatchAllPlayersLoaded)
}

// MatchPlayerSkipped reports one player's skip vote.
func MatchPlayerSkipped(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerMatchPlayerSkipped)
}

// MatchSkip skips the intro once every player has voted.
func MatchSkip() []byte {
	return packet.Empty(packetid.ServerMatchSkip)
}

// MatchPlayerFailed reports a failed player by slot.
func MatchPlayerFailed(slotID uint32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(slotID)
	return w.Frame(packetid.ServerMatchPlayerFailed)
}

// MatchComplete ends gameplay for everyone in the match.
func MatchComplete() []byte {
	return packet.Empty(packetid.ServerMatchComplete)
}

// MatchAbort cancels gameplay mid-run.
func MatchAbort() []byte {
	return packet.Empty(packetid.ServerMatchAbort)
}

// MatchScoreUpdate rebroadcasts a score frame with the sender's slot
// id patched in at offset 4.
func MatchScoreUpdate(slotID byte, frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	if len(out) > 4 {
		out[4] = slotID
	}

	w := packet.Get()
	defer w.Put()
	w.WriteBytes(out)
	return w.Frame(packetid.ServerMatchScoreUpdate)
}

// MatchChangePassword pushes the new match password to members.
func MatchChangePassword(password string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(password)
	return w.Frame(packetid.ServerMatchChangePassword)
}

// MatchInvite is a private message carrying an osump:// join link.
func MatchInvite(from, message, to string, fromID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(from)
	w.WriteString(message)
	w.WriteString(to)
	w.WriteInt32(fromID)
	return w.Frame(packetid.ServerMatchInvite)
}
