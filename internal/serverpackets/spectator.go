package serverpackets

import (
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// SpectatorJoined tells the host a spectator arrived.
func SpectatorJoined(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerSpectatorJoined)
}

// SpectatorLeft tells the host a spectator left.
func SpectatorLeft(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerSpectatorLeft)
}

// SpectateFrames relays raw replay frames from the host to followers.
func SpectateFrames(data []byte) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteBytes(data)
	return w.Frame(packetid.ServerSpectateFrames)
}

// SpectatorCantSpectate tells followers the host has no beatmap.
func SpectatorCantSpectate(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerSpectatorCantSpectate)
}

// FellowSpectatorJoined tells followers about each other.
func FellowSpectatorJoined(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerFellowSpectatorJoined)
}

// FellowSpectatorLeft removes a fellow spectator from the overlay.
func FellowSpectatorLeft(userID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteInt32(userID)
	return w.Frame(packetid.ServerFellowSpectatorLeft)
}
