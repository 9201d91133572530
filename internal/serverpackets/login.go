package serverpackets

import (
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// UserID tells the client who it is. Negative values are login errors
// understood by the client (-1 wrong credentials, -2 outdated client,
// -5 server error, -6 supporter required, -8 verification required).
func UserID(id int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(id)
	return w.Frame(packetid.ServerUserID)
}

// LoginFailed rejects the credentials.
func LoginFailed() []byte {
	return UserID(-1)
}

// LoginError reports a server-side failure during login.
func LoginError() []byte {
	return UserID(-5)
}

// ForceUpdate rejects an outdated client build.
func ForceUpdate() []byte {
	return UserID(-2)
}

// LoginBanned rejects a banned account with an explanation.
func LoginBanned() []byte {
	return append(UserID(-1), Notification(
		"You are banned. "+
			"The earliest we accept appeals is 2 months after your "+
			"most recent offense, and we really only care for the truth.",
	)...)
}

// LoginLocked rejects a locked account with an explanation.
func LoginLocked() []byte {
	return append(UserID(-1), Notification(
		"Your account is locked. You can't log in, but your "+
			"profile and scores are still visible from the website. "+
			"The earliest we accept appeals is 2 months after your "+
			"most recent offense, and we really only care for the truth.",
	)...)
}

// SilenceEnd tells the client how many seconds of silence remain.
func SilenceEnd(seconds uint32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(seconds)
	return w.Frame(packetid.ServerSilenceEnd)
}

// ProtocolVersion announces the bancho protocol revision.
func ProtocolVersion(version uint32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(version)
	return w.Frame(packetid.ServerProtocolVersion)
}

// MainMenuIcon sets the client's main menu banner.
func MainMenuIcon(icon string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(icon)
	return w.Frame(packetid.ServerMainMenuIcon)
}

// SupporterGMT carries the client-side permission flags. Bit 0 is
// always set for a logged-in player.
func SupporterGMT(supporter, gmt, tournamentStaff bool) []byte {
	flags := uint32(1)
	if supporter {
		flags |= uint32(constants.RankSupporter)
	}
	if gmt {
		flags |= uint32(constants.RankBAT)
	}
	if tournamentStaff {
		flags |= uint32(constants.RankTournamentStaff)
	}

	w := packet.Get()
	defer w.Put()
	w.WriteUint32(flags)
	return w.Frame(packetid.ServerSupporterGMT)
}

// FriendsList sends the user ids on the client's friend list.
func FriendsList(ids []int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteIntList(ids)
	return w.Frame(packetid.ServerFriendsList)
}
