package serverpackets

import (
	"github.com/shirokane/gobancho/internal/packet"
	"github.com/shirokane/gobancho/internal/packetid"
)

// SendMessage relays one chat line. The target is either a channel
// name or, for private messages, the recipient's username.
func SendMessage(from, message, to string, fromID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(from)
	w.WriteString(message)
	w.WriteString(to)
	w.WriteInt32(fromID)
	return w.Frame(packetid.ServerSendMessage)
}

// TargetBlockingDMs tells the sender their private message was dropped
// because the recipient blocks non-friend DMs.
func TargetBlockingDMs(from, to string, fromID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(from)
	w.WriteString("")
	w.WriteString(to)
	w.WriteInt32(fromID)
	return w.Frame(packetid.ServerUserDMBlocked)
}

// TargetSilenced tells the sender the recipient cannot receive
// messages right now.
func TargetSilenced(from, to string, fromID int32) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(from)
	w.WriteString("")
	w.WriteString(to)
	w.WriteInt32(fromID)
	return w.Frame(packetid.ServerTargetSilenced)
}

// ChannelJoinSuccess confirms a channel join to the actor.
func ChannelJoinSuccess(channel string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(channel)
	return w.Frame(packetid.ServerChannelJoinSuccess)
}

// ChannelInfo advertises a channel and its member count.
func ChannelInfo(name, description string, clientCount uint16) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(name)
	w.WriteString(description)
	w.WriteUint16(clientCount)
	return w.Frame(packetid.ServerChannelInfo)
}

// ChannelInfoEnd closes the channel listing sent at login.
func ChannelInfoEnd() []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteUint32(0)
	return w.Frame(packetid.ServerChannelInfoEnd)
}

// ChannelKicked removes the client from a channel tab.
func ChannelKicked(channel string) []byte {
	w := packet.Get()
	defer w.Put()
	w.WriteString(channel)
	return w.Frame(packetid.ServerChannelKicked)
}
