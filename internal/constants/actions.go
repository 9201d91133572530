package constants

// Client action ids shown on user panels.
const (
	ActionIdle         byte = 0
	ActionAFK          byte = 1
	ActionPlaying      byte = 2
	ActionEditing      byte = 3
	ActionModding      byte = 4
	ActionMultiplayer  byte = 5
	ActionWatching     byte = 6
	ActionUnknown      byte = 7
	ActionTesting      byte = 8
	ActionSubmitting   byte = 9
	ActionPaused       byte = 10
	ActionLobby        byte = 11
	ActionMultiplaying byte = 12
	ActionOsuDirect    byte = 13
)

// Game modes.
const (
	GameModeStd   byte = 0
	GameModeTaiko byte = 1
	GameModeCtb   byte = 2
	GameModeMania byte = 3
)
