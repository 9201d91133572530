package constants

// Slot status bits inside a multiplayer match. A slot is exactly one of
// these at a time; Occupied is the mask of statuses that carry a user.
const (
	SlotFree     byte = 1
	SlotLocked   byte = 2
	SlotNotReady byte = 4
	SlotReady    byte = 8
	SlotNoMap    byte = 16
	SlotPlaying  byte = 32
	SlotComplete byte = 64
	SlotQuit     byte = 128

	// SlotOccupied matches every status with a user in the seat.
	SlotOccupied byte = SlotNotReady | SlotReady | SlotNoMap | SlotPlaying | SlotComplete
)

// MatchSlots is the fixed number of seats in a multiplayer match.
const MatchSlots = 16
