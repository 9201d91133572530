package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/packet"
)

// SendMessage covers both public and private chat packets. The client
// fills its own name and id; the server trusts neither and uses only
// the message and target.
type SendMessage struct {
	Message string
	Target  string
}

// ParseSendMessage parses a sendPublicMessage or sendPrivateMessage
// packet.
func ParseSendMessage(data []byte) (*SendMessage, error) {
	r := packet.NewReader(data)

	if _, err := r.ReadString(); err != nil {
		return nil, fmt.Errorf("reading sender: %w", err)
	}
	message, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	target, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading target: %w", err)
	}
	if _, err := r.ReadInt32(); err != nil {
		return nil, fmt.Errorf("reading senderID: %w", err)
	}

	return &SendMessage{Message: message, Target: target}, nil
}

// ChannelJoin names the channel the client wants to join.
type ChannelJoin struct {
	Channel string
}

// ParseChannelJoin parses a channelJoin packet.
func ParseChannelJoin(data []byte) (*ChannelJoin, error) {
	r := packet.NewReader(data)
	channel, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading channel: %w", err)
	}
	return &ChannelJoin{Channel: channel}, nil
}

// ChannelPart names the channel the client is leaving.
type ChannelPart struct {
	Channel string
}

// ParseChannelPart parses a channelPart packet.
func ParseChannelPart(data []byte) (*ChannelPart, error) {
	r := packet.NewReader(data)
	channel, err := r.ReadString()
	if err != nil {
		return nil, fmt.Errorf("reading channel: %w", err)
	}
	return &ChannelPart{Channel: channel}, nil
}
