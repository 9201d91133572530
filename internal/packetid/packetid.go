// Package packetid holds the bancho packet id table. Ids are shared
// between client and server directions and must match the osu! client
// of the announced protocol version exactly.
package packetid

// Client → server.
const (
	ClientChangeAction                uint16 = 0
	ClientSendPublicMessage           uint16 = 1
	ClientLogout                      uint16 = 2
	ClientRequestStatusUpdate         uint16 = 3
	ClientPing                        uint16 = 4
	ClientStartSpectating             uint16 = 16
	ClientStopSpectating              uint16 = 17
	ClientSpectateFrames              uint16 = 18
	ClientCantSpectate                uint16 = 21
	ClientSendPrivateMessage          uint16 = 25
	ClientPartLobby                   uint16 = 29
	ClientJoinLobby                   uint16 = 30
	ClientCreateMatch                 uint16 = 31
	ClientJoinMatch                   uint16 = 32
	ClientPartMatch                   uint16 = 33
	ClientMatchChangeSlot             uint16 = 38
	ClientMatchReady                  uint16 = 39
	ClientMatchLock                   uint16 = 40
	ClientMatchChangeSettings         uint16 = 41
	ClientMatchStart                  uint16 = 44
	ClientMatchScoreUpdate            uint16 = 47
	ClientMatchComplete               uint16 = 49
	ClientMatchChangeMods             uint16 = 51
	ClientMatchLoadComplete           uint16 = 52
	ClientMatchNoBeatmap              uint16 = 54
	ClientMatchNotReady               uint16 = 55
	ClientMatchFailed                 uint16 = 56
	ClientMatchHasBeatmap             uint16 = 59
	ClientMatchSkipRequest            uint16 = 60
	ClientChannelJoin                 uint16 = 63
	ClientMatchTransferHost           uint16 = 70
	ClientFriendAdd                   uint16 = 73
	ClientFriendRemove                uint16 = 74
	ClientMatchChangeTeam             uint16 = 77
	ClientChannelPart                 uint16 = 78
	ClientReceiveUpdates              uint16 = 79
	ClientSetAwayMessage              uint16 = 82
	ClientUserStatsRequest            uint16 = 85
	ClientInvite                      uint16 = 87
	ClientMatchChangePassword         uint16 = 90
	ClientTournamentMatchInfoRequest  uint16 = 93
	ClientUserPanelRequest            uint16 = 97
	ClientUserPanelRequestAll         uint16 = 98
	ClientToggleBlockNonFriendDMs     uint16 = 100
	ClientTournamentJoinMatchChannel  uint16 = 108
	ClientTournamentLeaveMatchChannel uint16 = 109

	// ClientChangeProtocolVersion is a patcher extension, outside the
	// stock client's id space.
	ClientChangeProtocolVersion uint16 = 700
)

// Server → client.
const (
	ServerUserID                  uint16 = 5
	ServerSendMessage             uint16 = 7
	ServerPong                    uint16 = 8
	ServerUserStats               uint16 = 11
	ServerUserLogout              uint16 = 12
	ServerSpectatorJoined         uint16 = 13
	ServerSpectatorLeft           uint16 = 14
	ServerSpectateFrames          uint16 = 15
	ServerVersionUpdate           uint16 = 19
	ServerSpectatorCantSpectate   uint16 = 22
	ServerNotification            uint16 = 24
	ServerUpdateMatch             uint16 = 26
	ServerNewMatch                uint16 = 27
	ServerDisposeMatch            uint16 = 28
	ServerToggleBlockNonFriendDMs uint16 = 34
	ServerMatchJoinSuccess        uint16 = 36
	ServerMatchJoinFail           uint16 = 37
	ServerFellowSpectatorJoined   uint16 = 42
	ServerFellowSpectatorLeft     uint16 = 43
	ServerMatchStart              uint16 = 46
	ServerMatchScoreUpdate        uint16 = 48
	ServerMatchTransferHost       uint16 = 50
	ServerMatchAllPlayersLoaded   uint16 = 53
	ServerMatchPlayerFailed       uint16 = 57
	ServerMatchComplete           uint16 = 58
	ServerMatchSkip               uint16 = 61
	ServerChannelJoinSuccess      uint16 = 64
	ServerChannelInfo             uint16 = 65
	ServerChannelKicked           uint16 = 66
	ServerChannelAutoJoin         uint16 = 67
	ServerSupporterGMT            uint16 = 71
	ServerFriendsList             uint16 = 72
	ServerProtocolVersion         uint16 = 75
	ServerMainMenuIcon            uint16 = 76
	ServerMatchPlayerSkipped      uint16 = 81
	ServerUserPanel               uint16 = 83
	ServerRestart                 uint16 = 86
	ServerMatchInvite             uint16 = 88
	ServerChannelInfoEnd          uint16 = 89
	ServerMatchChangePassword     uint16 = 91
	ServerSilenceEnd              uint16 = 92
	ServerUserSilenced            uint16 = 94
	ServerUserPresenceSingle      uint16 = 95
	ServerUserPresenceBundle      uint16 = 96
	ServerUserDMBlocked           uint16 = 100
	ServerTargetSilenced          uint16 = 101
	ServerVersionUpdateForced     uint16 = 102
	ServerSwitchServer            uint16 = 103
	ServerRTX                     uint16 = 105
	ServerMatchAbort              uint16 = 106
	ServerSwitchTournamentServer  uint16 = 107
)
