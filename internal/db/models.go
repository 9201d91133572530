package db

import "time"

// User is a row in the users table. PasswordHash is bcrypt over the
// MD5 the client sends, so the server never sees a plaintext password.
type User struct {
	ID             int32
	Username       string
	SafeUsername   string
	PasswordHash   string
	Privileges     int32
	Whitelist      int16
	Country        string
	SilenceEnd     time.Time
	SilenceReason  string
	LatestActivity time.Time
}

// SilenceSecondsLeft returns the remaining silence window, clamped at
// zero, as the protocol carries it.
func (u *User) SilenceSecondsLeft(now time.Time) int32 {
	left := u.SilenceEnd.Sub(now)
	if left <= 0 {
		return 0
	}
	return int32(left / time.Second)
}

// Stats is one user's cached leaderboard numbers for a single
// (mode, special mode) pair.
type Stats struct {
	RankedScore int64
	TotalScore  int64
	Playcount   int32
	Accuracy    float32
	PP          int32
	GameRank    int32
}

// Special modes select which stats table slice a player is ranked on.
const (
	SpecialModeVanilla   int16 = 0
	SpecialModeRelax     int16 = 1
	SpecialModeAutopilot int16 = 2
)
