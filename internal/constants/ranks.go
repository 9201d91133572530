package constants

// Client-side rank flags. These color the username in game and are a
// pure display concern derived from the privilege bits at send time.
const (
	RankNormal          byte = 0
	RankBAT             byte = 2
	RankSupporter       byte = 4
	RankMod             byte = 6
	RankPeppy           byte = 8
	RankAdmin           byte = 16
	RankTournamentStaff byte = 32
)

// RankFlags derives the panel rank byte from the privilege bits.
func RankFlags(privileges int32) byte {
	switch {
	case privileges&AdminManagePrivileges != 0:
		return RankPeppy
	case privileges&AdminChatMod != 0:
		return RankMod
	case privileges&UserDonor != 0:
		return RankSupporter
	default:
		return RankNormal
	}
}
