package serverpackets

import (
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// Notification pops a toast on the client.
func Notification(message string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(message)
	return w.Frame(packetid.ServerNotification)
}

// Pong answers a client ping.
func Pong() []byte {
	return packet.Empty(packetid.ServerPong)
}

// Restart asks clients to reconnect after the given delay.
func Restart(msUntilReconnect uint32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(msUntilReconnect)
	return w.Frame(packetid.ServerRestart)
}

// RTX flashes an alarming fullscreen message. Moderation tool.
func RTX(message string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(message)
	return w.Frame(packetid.ServerRTX)
}

// SwitchServer moves the client to another bancho endpoint.
func SwitchServer(address string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(address)
	return w.Frame(packetid.ServerSwitchServer)
}
