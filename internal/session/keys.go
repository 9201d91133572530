package session

// Key layout for everything session-scoped in the shared store. The
// token hash holds scalar fields; collections hang off the hash key by
// suffix so a logout can delete them in one sweep.
const (
	tokensSetKey   = "bancho:tokens"
	onlineUsersKey = "bancho:online_users"
)

func tokenKey(tokenID string) string   { return "bancho:tokens:" + tokenID }
func queueKey(tokenID string) string   { return tokenKey(tokenID) + ":packet_queue" }
func queueSizeKey(tokenID string) string { return tokenKey(tokenID) + ":queue_size" }
func channelsKey(tokenID string) string  { return tokenKey(tokenID) + ":channels" }
func spectatorsKey(tokenID string) string { return tokenKey(tokenID) + ":spectators" }
func sentAwayKey(tokenID string) string   { return tokenKey(tokenID) + ":sent_away" }
func historyKey(tokenID string) string    { return tokenKey(tokenID) + ":message_history" }

// ipSetKey records which ips a user has live sessions from, consumed
// by the website for login caching.
func ipSetKey(userID int32) string {
	return "bancho:sessions:" + itoa32(userID)
}

// ProcessingLock names the lease held while a handler works on this
// session. Coarser than the buffer lock; taken first.
func ProcessingLock(tokenID string) string {
	return tokenKey(tokenID) + ":processing_lock"
}

// BufferLock names the lease guarding the outbound queue. Held only
// around byte appends and drains.
func BufferLock(tokenID string) string {
	return tokenKey(tokenID) + ":buffer_lock"
}
