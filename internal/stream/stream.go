// Package stream implements named packet fan-out groups. A stream is
// a set of token ids living in the shared store; broadcasting appends
// bytes to every member's outbound queue, wherever that member's
// socket is held.
package stream

import (
	"strconv"
)

// Well-known stream names. Everything else is derived per entity.
const (
	// Main carries presence, silence and channel-info traffic for
	// every logged-in client.
	Main = "main"

	// Lobby carries multiplayer match listings for clients sitting in
	// the lobby screen.
	Lobby = "lobby"
)

// Chat returns the stream backing a chat channel.
func Chat(channel string) string {
	return "chat/" + channel
}

// Spectator returns the stream carrying a host's replay frames.
func Spectator(hostUserID int32) string {
	return "spect/" + strconv.FormatInt(int64(hostUserID), 10)
}

// Multiplayer returns the stream for everyone in a match.
func Multiplayer(matchID int32) string {
	return "multiplay/" + strconv.FormatInt(int64(matchID), 10)
}

// MultiplayerPlaying returns the stream for match members currently
// inside gameplay.
func MultiplayerPlaying(matchID int32) string {
	return Multiplayer(matchID) + "/playing"
}

const streamsSetKey = "bancho:streams"

func membersKey(name string) string {
	return "bancho:streams:" + name
}

func lockKey(name string) string {
	return membersKey(name) + ":lock"
}

// tokenStreamsKey is the reverse index listing the streams one token
// has joined, so logout can leave them without scanning every stream.
func tokenStreamsKey(tokenID string) string {
	return "bancho:tokens:" + tokenID + ":streams"
}
