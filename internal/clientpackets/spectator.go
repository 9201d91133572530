package clientpackets

import (
	"fmt"

	"github.com/shirokane/gobancho/internal/packet"
)

// StartSpectating names the host to watch. A negative id is an
// explicit stop request.
type StartSpectating struct {
	UserID int32
}

// ParseStartSpectating parses a startSpectating packet.
func ParseStartSpectating(data []byte) (*StartSpectating, error) {
	r := packet.NewReader(data)
	userID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading userID: %w", err)
	}
	return &StartSpectating{UserID: userID}, nil
}

// SpectateFrames returns the raw replay frame payload. It is relayed
// verbatim, so no structure is imposed on it.
func SpectateFrames(data []byte) []byte {
	return data
}
