package constants

// Site privilege bits carried on every user row and cached on the
// session. The server only ever tests bits, it never assigns them.
const (
	UserPublic             int32 = 1
	UserNormal             int32 = 2
	UserDonor              int32 = 4
	AdminAccessRAP         int32 = 8
	AdminManageUsers       int32 = 16
	AdminBanUsers          int32 = 32
	AdminSilenceUsers      int32 = 64
	AdminWipeUsers         int32 = 128
	AdminManageBeatmaps    int32 = 256
	AdminManageServers     int32 = 512
	AdminManageSettings    int32 = 1024
	AdminManageBetaKeys    int32 = 2048
	AdminManageReports     int32 = 4096
	AdminManageDocs        int32 = 8192
	AdminManageBadges      int32 = 16384
	AdminViewRAPLogs       int32 = 32768
	AdminManagePrivileges  int32 = 65536
	AdminSendAlerts        int32 = 131072
	AdminChatMod           int32 = 262144
	AdminKickUsers         int32 = 524288
	UserPendingVerification int32 = 1048576
	UserTournamentStaff    int32 = 2097152
	AdminCaker             int32 = 4194304
	UserPremium            int32 = 8388608
)

// IsRestricted reports whether the privilege set describes a restricted
// user: normal but not public. Restricted users stay logged in but are
// invisible to everyone else.
func IsRestricted(privileges int32) bool {
	return privileges&UserNormal != 0 && privileges&UserPublic == 0
}

// IsBanned reports whether the privilege set describes a banned user:
// neither normal nor public.
func IsBanned(privileges int32) bool {
	return privileges&(UserNormal|UserPublic) == 0
}

// IsStaff reports whether the privilege set grants chat moderation.
func IsStaff(privileges int32) bool {
	return privileges&AdminChatMod != 0
}
