package serverpackets

import (
	"github.com/shirokane/gobancho/internal/constants"
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// PanelInfo is everything a user panel packet carries.
type PanelInfo struct {
	UserID    int32
	Username  string
	UTCOffset int32
	Country   byte
	RankFlags byte
	Longitude float32
	Latitude  float32
	GameRank  uint32
}

// UserPanel builds the presence panel shown in the client's user list.
// The timezone byte is offset by 24 so negative offsets survive the
// unsigned encoding.
func UserPanel(p PanelInfo) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(p.UserID)
	w.WriteString(p.Username)
	w.WriteByte(byte(24 + p.UTCOffset))
	w.WriteByte(p.Country)
	w.WriteByte(p.RankFlags)
	w.WriteFloat32(p.Longitude)
	w.WriteFloat32(p.Latitude)
	w.WriteUint32(p.GameRank)
	return w.Frame(packetid.ServerUserPanel)
}

// StatsInfo is everything a user stats packet carries.
type StatsInfo struct {
	UserID      int32
	ActionID    byte
	ActionText  string
	ActionMD5   string
	ActionMods  int32
	GameMode    byte
	BeatmapID   int32
	RankedScore uint64
	Accuracy    float32
	Playcount   uint32
	TotalScore  uint64
	GameRank    uint32
	PP          int32
}

// UserStats builds the status/stat panel. The client stores pp in a
// u16, so values at or past 0x8000 travel in the ranked score field
// with pp zeroed; ranks are computed server side so nothing is lost.
func UserStats(s StatsInfo) []byte {
	rankedScore := s.RankedScore
	pp := s.PP
	if pp >= 0x8000 {
		rankedScore = uint64(pp)
		pp = 0
	}

	w := packet.Get()
	defer w.Put()
	w.WriteUint32(uint32(s.UserID))
	w.WriteByte(s.ActionID)
	w.WriteString(s.ActionText)
	w.WriteString(s.ActionMD5)
	w.WriteInt32(s.ActionMods)
	w.WriteByte(s.GameMode)
	w.WriteInt32(s.BeatmapID)
	w.WriteUint64(rankedScore)
	w.WriteFloat32(s.Accuracy)
	w.WriteUint32(s.Playcount)
	w.WriteUint64(s.TotalScore)
	w.WriteUint32(s.GameRank)
	w.WriteUint16(uint16(pp))
	return w.Frame(packetid.ServerUserStats)
}

// BotPanel is the fixed presence of the chat bot.
func BotPanel(username string) []byte {
	return UserPanel(PanelInfo{
		UserID:    constants.ChatBotUserID,
		Username:  username,
		UTCOffset: 0,
		Country:   0,
		RankFlags: constants.RankAdmin,
	})
}

// BotStats is the fixed stat block of the chat bot.
func BotStats() []byte {
	return UserStats(StatsInfo{UserID: constants.ChatBotUserID})
}

// UserLogout tells clients a user went offline.
func UserLogout(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	w.WriteByte(0)
	return w.Frame(packetid.ServerUserLogout)
}

// UserSilenced announces a silence on the main stream.
func UserSilenced(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(uint32(userID))
	return w.Frame(packetid.ServerUserSilenced)
}

// UserPresenceSingle asks the client to fetch one user's presence.
func UserPresenceSingle(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerUserPresenceSingle)
}

// UserPresenceBundle lists every visible online user id.
func UserPresenceBundle(userIDs []int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteIntList(userIDs)
	return w.Frame(packetid.ServerUserPresenceBundle)
}
